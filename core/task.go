package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TaskState is the lifecycle position of a task.
type TaskState uint8

const (
	TaskCreated TaskState = iota
	TaskRunning
	TaskBlocked
	TaskFinished
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskRunning:
		return "running"
	case TaskBlocked:
		return "blocked"
	case TaskFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// TaskFunc is a task entry point. ctx identifies the task to the
// facade's blocking calls and is cancelled when the parent passed to
// CreateTask is.
type TaskFunc func(ctx context.Context, arg interface{})

// TaskHandle refers to a slot in the task table. A slot is returned to the
// table as soon as its task function returns; the generation tells a
// finished task's handle apart from the slot's next occupant.
type TaskHandle struct {
	index int
	gen   uint32
}

// Valid reports whether h was ever issued by a System.
func (h TaskHandle) Valid() bool {
	return h.gen != 0
}

// TaskInfo is a snapshot row of the task table.
type TaskInfo struct {
	Handle    TaskHandle
	Name      string
	Priority  uint8
	StackSize uint32
	State     TaskState
}

type taskSlot struct {
	gen   uint32
	used  bool
	id    uint64
	name  string
	prio  uint8
	stack uint32
	state TaskState
	done  chan struct{}
}

type taskOptions struct {
	name  string
	prio  uint8
	stack uint32
}

// TaskOption adjusts a task at creation.
type TaskOption func(*taskOptions)

// WithName names the task for the task list and logs.
func WithName(name string) TaskOption {
	return func(o *taskOptions) { o.name = name }
}

// WithPriority sets the task priority. It is fixed for the task's life.
func WithPriority(p uint8) TaskOption {
	return func(o *taskOptions) { o.prio = p }
}

// WithStackSize records the stack budget in words.
func WithStackSize(n uint32) TaskOption {
	return func(o *taskOptions) { o.stack = n }
}

type taskKey struct{}

type taskRef struct {
	handle TaskHandle
	id     uint64
}

// dispatcherID identifies timer handlers to the critical section code.
const dispatcherID = ^uint64(0)

func taskID(ctx context.Context) uint64 {
	if ref, ok := ctx.Value(taskKey{}).(taskRef); ok {
		return ref.id
	}
	return 0
}

// CurrentTask returns the handle of the task ctx belongs to.
func CurrentTask(ctx context.Context) (TaskHandle, bool) {
	ref, ok := ctx.Value(taskKey{}).(taskRef)
	if !ok || ref.id == dispatcherID {
		return TaskHandle{}, false
	}
	return ref.handle, true
}

// CreateTask admits fn to the task table and starts it immediately. It
// fails with ErrResourceExhausted when the table is full and with
// ErrInvalidConfiguration for a priority above Config.MaxPriority.
func (s *System) CreateTask(ctx context.Context, fn TaskFunc, arg interface{}, opts ...TaskOption) (TaskHandle, error) {
	o := taskOptions{prio: s.cfg.DefaultPriority, stack: s.cfg.DefaultStackSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.prio > s.cfg.MaxPriority {
		return TaskHandle{}, errorf(ErrInvalidConfiguration, "task priority %d above max %d", o.prio, s.cfg.MaxPriority)
	}

	s.mu.Lock()
	idx := -1
	for i := range s.tasks {
		if !s.tasks[i].used {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		s.logger.Warn("task table full", zap.String("task", o.name), zap.Int("capacity", len(s.tasks)))
		return TaskHandle{}, errorf(ErrResourceExhausted, "task table full (%d)", len(s.tasks))
	}

	s.nextID++
	t := &s.tasks[idx]
	t.gen++
	if t.gen == 0 {
		t.gen = 1
	}
	if o.name == "" {
		o.name = fmt.Sprintf("task%d", s.nextID)
	}
	*t = taskSlot{
		gen:   t.gen,
		used:  true,
		id:    s.nextID,
		name:  o.name,
		prio:  o.prio,
		stack: o.stack,
		state: TaskRunning,
		done:  make(chan struct{}),
	}
	h := TaskHandle{index: idx, gen: t.gen}
	done := t.done
	tctx := context.WithValue(ctx, taskKey{}, taskRef{handle: h, id: t.id})
	s.mu.Unlock()

	s.logger.Debug("task created", zap.String("task", o.name), zap.Uint8("priority", o.prio))

	go func() {
		defer func() {
			s.mu.Lock()
			if slot := &s.tasks[h.index]; slot.gen == h.gen {
				slot.state = TaskFinished
				slot.used = false
			}
			s.mu.Unlock()
			close(done)
		}()
		fn(tctx, arg)
	}()
	return h, nil
}

func (s *System) taskSlot(h TaskHandle) (*taskSlot, error) {
	if h.index < 0 || h.index >= len(s.tasks) {
		return nil, ErrStaleHandle
	}
	t := &s.tasks[h.index]
	if !t.used || t.gen != h.gen {
		return nil, ErrStaleHandle
	}
	return t, nil
}

// finished reports whether h names a task that has already returned. A
// handle that was never issued is ErrStaleHandle.
func (s *System) finished(h TaskHandle) (bool, error) {
	if !h.Valid() || h.index < 0 || h.index >= len(s.tasks) {
		return false, ErrStaleHandle
	}
	t := &s.tasks[h.index]
	switch {
	case t.gen == h.gen:
		return !t.used, nil
	case isBefore(h.gen, t.gen):
		return true, nil
	default:
		return false, ErrStaleHandle
	}
}

// Join waits up to timeoutMs for the task to finish and reports whether
// it did. Joining a task that has already returned succeeds at once.
func (s *System) Join(ctx context.Context, h TaskHandle, timeoutMs uint32) (bool, error) {
	s.mu.Lock()
	done, err := s.finished(h)
	if err != nil || done {
		s.mu.Unlock()
		return done, err
	}
	ch := s.tasks[h.index].done
	s.mu.Unlock()

	restore := s.block(ctx)
	err = s.wait(ctx, ch, timeoutMs)
	restore()
	if err == ErrTimeout {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsRunning reports whether the task has not finished yet.
func (s *System) IsRunning(h TaskHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	done, err := s.finished(h)
	return err == nil && !done
}

// TaskName returns the name given at creation. It is only known while
// the task runs.
func (s *System) TaskName(h TaskHandle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taskSlot(h)
	if err != nil {
		return "", err
	}
	return t.name, nil
}

// TaskState returns the current state of the task. A task that has
// returned reports TaskFinished even after its slot is reused.
func (s *System) TaskState(h TaskHandle) (TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	done, err := s.finished(h)
	if err != nil {
		return 0, err
	}
	if done {
		return TaskFinished, nil
	}
	return s.tasks[h.index].state, nil
}

// Tasks returns a snapshot of every registered task.
func (s *System) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TaskInfo
	for i := range s.tasks {
		t := &s.tasks[i]
		if !t.used {
			continue
		}
		out = append(out, TaskInfo{
			Handle:    TaskHandle{index: i, gen: t.gen},
			Name:      t.name,
			Priority:  t.prio,
			StackSize: t.stack,
			State:     t.state,
		})
	}
	return out
}

// PrintStats writes the task table to the log device.
func (s *System) PrintStats() {
	tasks := s.Tasks()
	s.Log("%-16s %4s %6s %s\r\n", "name", "prio", "stack", "state")
	for _, t := range tasks {
		s.Log("%-16s %4d %6d %s\r\n", t.Name, t.Priority, t.StackSize, t.State)
	}
	s.Log("heap %d/%d uptime %s\r\n", s.HeapUsed(), s.cfg.HeapSize, s.Uptime().Truncate(time.Millisecond))
}

// block marks the task in ctx as blocked and returns the function that
// marks it running again.
func (s *System) block(ctx context.Context) func() {
	ref, ok := ctx.Value(taskKey{}).(taskRef)
	if !ok || ref.id == dispatcherID {
		return func() {}
	}
	s.setTaskState(ref.handle, TaskBlocked)
	return func() { s.setTaskState(ref.handle, TaskRunning) }
}

func (s *System) setTaskState(h TaskHandle, st TaskState) {
	s.mu.Lock()
	if t, err := s.taskSlot(h); err == nil && t.state != TaskFinished {
		t.state = st
	}
	s.mu.Unlock()
}
