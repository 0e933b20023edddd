package pinsim

import (
	"fmt"
	"sync"
)

// Handler is the device behind a simulated I2C target.
type Handler interface {
	// Start is called when the target is addressed.
	Start(read bool)
	// WriteByte receives a byte from the controller and reports whether
	// the target acks it.
	WriteByte(b byte) bool
	// ReadByte supplies the next byte for the controller.
	ReadByte() byte
	// Stop is called on STOP or repeated START after the target was
	// addressed.
	Stop()
}

type targetState int

const (
	stIdle targetState = iota
	stAddr
	stAckAddr
	stRx
	stAckRx
	stTx
	stTxAck
	stIgnore
)

// Target is a simulated I2C device on a pair of board lines.
type Target struct {
	name    string
	addr    uint8
	sda     *line
	scl     *line
	handler Handler

	lastSDA, lastSCL bool
	state            targetState
	shift            byte
	bits             int
	addressed        bool
	reading          bool
}

// AttachI2C hangs a target with the given 7-bit address on the sda and
// scl lines.
func (b *Board) AttachI2C(sdaLine, sclLine string, addr uint8, h Handler) *Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &Target{
		name:    fmt.Sprintf("i2c@%#02x", addr),
		addr:    addr,
		sda:     b.line(sdaLine),
		scl:     b.line(sclLine),
		handler: h,
	}
	t.lastSDA = bool(t.sda.level())
	t.lastSCL = bool(t.scl.level())
	b.targets = append(b.targets, t)
	return t
}

// HoldClock makes the target stretch SCL low until released, as a hung
// device would.
func (t *Target) HoldClock(b *Board, hold bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t.scl.drive(t.name, hold)
	b.settle()
}

func (t *Target) driveSDA(low bool) {
	t.sda.drive(t.name, low)
}

// observe reacts to the current line levels and reports whether they
// changed since the last call.
func (t *Target) observe() bool {
	sda, scl := bool(t.sda.level()), bool(t.scl.level())
	prevSDA, prevSCL := t.lastSDA, t.lastSCL
	if sda == prevSDA && scl == prevSCL {
		return false
	}
	t.lastSDA, t.lastSCL = sda, scl

	switch {
	case prevSCL && scl && prevSDA && !sda:
		t.onStart()
	case prevSCL && scl && !prevSDA && sda:
		t.onStop()
	case !prevSCL && scl:
		t.onRise(sda)
	case prevSCL && !scl:
		t.onFall()
	}
	return true
}

func (t *Target) endTransfer() {
	t.driveSDA(false)
	if t.addressed {
		t.addressed = false
		t.handler.Stop()
	}
}

func (t *Target) onStart() {
	t.endTransfer()
	t.state = stAddr
	t.shift, t.bits = 0, 0
}

func (t *Target) onStop() {
	t.endTransfer()
	t.state = stIdle
}

// onRise samples SDA while SCL is high.
func (t *Target) onRise(sda bool) {
	switch t.state {
	case stAddr, stRx:
		t.shift <<= 1
		if sda {
			t.shift |= 1
		}
		t.bits++
	case stTxAck:
		if sda {
			// nack ends the read
			t.state = stIgnore
		}
	}
}

// onFall changes what the target drives while SCL is low.
func (t *Target) onFall() {
	switch t.state {
	case stAddr:
		if t.bits < 8 {
			return
		}
		if t.shift>>1 != t.addr {
			t.state = stIgnore
			return
		}
		t.reading = t.shift&1 == 1
		t.addressed = true
		t.handler.Start(t.reading)
		t.driveSDA(true)
		t.state = stAckAddr
	case stAckAddr:
		t.driveSDA(false)
		if t.reading {
			t.loadTx()
		} else {
			t.state = stRx
			t.shift, t.bits = 0, 0
		}
	case stRx:
		if t.bits < 8 {
			return
		}
		if t.handler.WriteByte(t.shift) {
			t.driveSDA(true)
			t.state = stAckRx
		} else {
			t.state = stIgnore
		}
	case stAckRx:
		t.driveSDA(false)
		t.state = stRx
		t.shift, t.bits = 0, 0
	case stTx:
		t.bits++
		if t.bits < 8 {
			t.driveSDA(t.shift&(0x80>>uint(t.bits)) == 0)
			return
		}
		t.driveSDA(false)
		t.state = stTxAck
	case stTxAck:
		t.loadTx()
	}
}

// loadTx fetches the next byte and puts its MSB on SDA.
func (t *Target) loadTx() {
	t.shift = t.handler.ReadByte()
	t.bits = 0
	t.state = stTx
	t.driveSDA(t.shift&0x80 == 0)
}

// Recorder is a Handler that acks every byte and keeps what it was sent.
type Recorder struct {
	mu           sync.Mutex
	transactions [][]byte
	current      []byte
	open         bool
	// Reply is returned, cycling, for reads.
	Reply []byte
	next  int
}

func (r *Recorder) Start(read bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !read {
		r.current = []byte{}
		r.open = true
	}
}

func (r *Recorder) WriteByte(b byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = append(r.current, b)
	return true
}

func (r *Recorder) ReadByte() byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Reply) == 0 {
		return 0xFF
	}
	b := r.Reply[r.next%len(r.Reply)]
	r.next++
	return b
}

func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		r.transactions = append(r.transactions, r.current)
		r.current = nil
		r.open = false
	}
}

// Transactions returns the write phases seen so far, one slice per
// addressed write.
func (r *Recorder) Transactions() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.transactions))
	for i, tx := range r.transactions {
		out[i] = append([]byte(nil), tx...)
	}
	return out
}

// EEPROM is a Handler speaking the 24Cxx protocol: a two byte big-endian
// word address, then data written or read sequentially from it.
type EEPROM struct {
	mu      sync.Mutex
	mem     []byte
	ptr     int
	addrLen int
	writes  int
	wrote   bool
}

// NewEEPROM returns a device of size bytes, erased to 0xFF.
func NewEEPROM(size int) *EEPROM {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &EEPROM{mem: mem}
}

func (e *EEPROM) Start(read bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !read {
		e.addrLen = 0
		e.wrote = false
	}
}

func (e *EEPROM) WriteByte(b byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.addrLen {
	case 0:
		e.ptr = int(b) << 8
		e.addrLen++
	case 1:
		e.ptr = (e.ptr | int(b)) % len(e.mem)
		e.addrLen++
	default:
		e.mem[e.ptr] = b
		e.ptr = (e.ptr + 1) % len(e.mem)
		e.wrote = true
	}
	return true
}

func (e *EEPROM) ReadByte() byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.mem[e.ptr]
	e.ptr = (e.ptr + 1) % len(e.mem)
	return b
}

func (e *EEPROM) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wrote {
		e.writes++
		e.wrote = false
	}
}

// Writes counts completed write transactions that carried data.
func (e *EEPROM) Writes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writes
}

// Bytes returns a copy of the memory.
func (e *EEPROM) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.mem...)
}

// Load copies image into the memory from address zero. Bytes past the
// device size are ignored.
func (e *EEPROM) Load(image []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.mem, image)
}
