package core

// RecordID names a fixed record in the persistent store.
type RecordID uint8

// Well-known records.
const (
	RecordHeader RecordID = 0
)

// Storage is the persistent record store exposed through System.Storage.
// A write replaces the whole record atomically: a reader sees either the
// previous contents or the new ones, never a mix.
type Storage interface {
	// ReadRecord copies the newest intact version of record id into buf
	// and returns the number of bytes copied.
	ReadRecord(id RecordID, buf []byte) (int, error)

	// WriteRecord replaces record id with data.
	WriteRecord(id RecordID, data []byte) error
}

type nullStorage struct{}

func (nullStorage) ReadRecord(RecordID, []byte) (int, error) { return 0, ErrNoStorage }
func (nullStorage) WriteRecord(RecordID, []byte) error { return ErrNoStorage }
