package core

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Default table sizes and task parameters.
const (
	DefaultMaxTasks         = 20
	DefaultMaxTimers        = 20
	DefaultTaskPriority     = 2
	DefaultMaxPriority      = 7
	DefaultTaskStackSize    = 400
	DefaultTickUs           = 500
	DefaultHeapSize         = 64 * 1024
	DefaultDispatchInterval = time.Millisecond
)

// Config sizes the scheduler tables and selects the clock and logger.
// Zero values are replaced by the defaults above.
type Config struct {
	MaxTasks         int
	MaxTimers        int
	DefaultPriority  uint8
	MaxPriority      uint8
	DefaultStackSize uint32
	TickUs           uint32
	HeapSize         int
	DispatchInterval time.Duration

	// RefTimeOffset is added to every reference time reading. Boards use
	// zero; tests use it to start close to the 32-bit wrap.
	RefTimeOffset uint32

	Clock  clock.Clock
	Logger *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxTasks <= 0 {
		c.MaxTasks = DefaultMaxTasks
	}
	if c.MaxTimers <= 0 {
		c.MaxTimers = DefaultMaxTimers
	}
	if c.MaxPriority == 0 {
		c.MaxPriority = DefaultMaxPriority
	}
	if c.DefaultPriority == 0 {
		c.DefaultPriority = DefaultTaskPriority
	}
	if c.DefaultStackSize == 0 {
		c.DefaultStackSize = DefaultTaskStackSize
	}
	if c.TickUs == 0 {
		c.TickUs = DefaultTickUs
	}
	if c.HeapSize <= 0 {
		c.HeapSize = DefaultHeapSize
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = DefaultDispatchInterval
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// System is the composition root of the board: it owns the task and
// timer tables, the reference clock, critical section state, the storage
// accessor, the log device and the heap budget. Construct one with New
// and hand it to the components that need it.
type System struct {
	cfg    Config
	clk    clock.Clock
	logger *zap.Logger
	boot   time.Time

	mu     sync.Mutex
	tasks  []taskSlot
	nextID uint64

	timers    []timerSlot
	timerList *timerSlot
	// serializes dispatch so a handler never runs concurrently with itself
	dispatchMu sync.Mutex

	crit critical

	devMu   sync.RWMutex
	logDev  LogDev
	storage Storage

	heap heap
}

// New validates cfg and builds a System.
func New(cfg Config) (*System, error) {
	cfg.applyDefaults()
	if cfg.DefaultPriority > cfg.MaxPriority {
		return nil, errorf(ErrInvalidConfiguration, "default priority %d above max %d", cfg.DefaultPriority, cfg.MaxPriority)
	}

	s := &System{
		cfg:     cfg,
		clk:     cfg.Clock,
		logger:  cfg.Logger,
		boot:    cfg.Clock.Now(),
		tasks:   make([]taskSlot, cfg.MaxTasks),
		timers:  make([]timerSlot, cfg.MaxTimers),
		logDev:  DevNull{},
		storage: nullStorage{},
	}
	for i := range s.timers {
		s.timers[i].index = i
	}
	s.crit.init()
	s.heap.init(cfg.HeapSize)

	s.logger.Debug("system ready",
		zap.Int("max_tasks", cfg.MaxTasks),
		zap.Int("max_timers", cfg.MaxTimers),
		zap.Uint32("tick_us", cfg.TickUs))
	return s, nil
}

// Clock returns the clock every delay and timeout is measured against.
func (s *System) Clock() clock.Clock {
	return s.clk
}

// Logger returns the structured logger components should derive from.
func (s *System) Logger() *zap.Logger {
	return s.logger
}

// Config returns the effective configuration after defaults.
func (s *System) Config() Config {
	return s.cfg
}

// SetStorage installs the persistent store returned by Storage.
func (s *System) SetStorage(st Storage) {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	if st == nil {
		st = nullStorage{}
	}
	s.storage = st
}

// Storage returns the persistent record store. Without SetStorage every
// call on it fails with ErrNoStorage.
func (s *System) Storage() Storage {
	s.devMu.RLock()
	defer s.devMu.RUnlock()
	return s.storage
}
