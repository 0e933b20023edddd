package core

import (
	"sync"

	"go.uber.org/zap"
)

// Block is memory handed out by Malloc.
type Block struct {
	Data []byte
}

// heap accounts allocations against a fixed budget, standing in for the
// board's RTOS heap.
type heap struct {
	mu   sync.Mutex
	size int
	used int
	live map[*Block]struct{}
}

func (h *heap) init(size int) {
	h.size = size
	h.live = make(map[*Block]struct{})
}

// Malloc allocates size bytes from the heap budget. Exhaustion is
// reported as ErrResourceExhausted; callers are expected to handle it.
func (s *System) Malloc(size int) (*Block, error) {
	if size <= 0 {
		return nil, errorf(ErrInvalidConfiguration, "malloc of %d bytes", size)
	}
	h := &s.heap
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.used+size > h.size {
		s.logger.Warn("heap exhausted", zap.Int("requested", size), zap.Int("used", h.used), zap.Int("size", h.size))
		return nil, errorf(ErrResourceExhausted, "malloc of %d bytes with %d of %d in use", size, h.used, h.size)
	}
	b := &Block{Data: make([]byte, size)}
	h.live[b] = struct{}{}
	h.used += size
	return b, nil
}

// Free returns b to the heap. Freeing a block twice, or one that did not
// come from this system, is ErrDoubleFree.
func (s *System) Free(b *Block) error {
	if b == nil {
		return nil
	}
	h := &s.heap
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.live[b]; !ok {
		return ErrDoubleFree
	}
	delete(h.live, b)
	h.used -= len(b.Data)
	return nil
}

// HeapUsed returns the bytes currently allocated.
func (s *System) HeapUsed() int {
	s.heap.mu.Lock()
	defer s.heap.mu.Unlock()
	return s.heap.used
}
