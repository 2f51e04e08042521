// Package monitor supervises long-running goroutines. Each task reports
// heartbeats while it runs; the watchdog logs tasks that stall and panics are
// recovered and recorded instead of crashing the process.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// TaskState is the lifecycle state of a supervised goroutine.
type TaskState string

const (
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCanceled  TaskState = "canceled"
	TaskStatePanicked  TaskState = "panicked"
)

// TaskStatus is a point-in-time snapshot of one task.
type TaskStatus struct {
	Name             string
	State            TaskState
	StartTime        time.Time
	EndTime          time.Time
	LastHeartbeat    time.Time
	Error            string
	Panic            string
	HeartbeatStalled bool
}

// TaskFunc runs under the monitor. It must call hb.Tick periodically while
// alive and return once ctx is done.
type TaskFunc func(ctx context.Context, hb Heartbeat) error

// Heartbeat lets a task signal it is still making progress.
type Heartbeat interface {
	Tick()
}

// Logger is the subset of logrus used by the monitor.
type Logger interface {
	Printf(format string, args ...any)
}

// Monitor tracks a set of named goroutines.
type Monitor struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	tasks map[string]*task
	wg    sync.WaitGroup

	seq uint64

	stallThreshold time.Duration
	checkInterval  time.Duration
	logger         Logger
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithStallThreshold sets how long a task may go without a heartbeat before
// a stall is logged.
func WithStallThreshold(d time.Duration) Option {
	return func(m *Monitor) { m.stallThreshold = d }
}

// WithCheckInterval sets how often the watchdog inspects tasks.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Monitor) { m.checkInterval = d }
}

// WithLogger replaces the default logrus standard logger.
func WithLogger(l Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// New starts a Monitor and its watchdog goroutine.
func New(opts ...Option) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		ctx:            ctx,
		cancel:         cancel,
		tasks:          make(map[string]*task),
		stallThreshold: 2 * time.Minute,
		checkInterval:  5 * time.Second,
		logger:         log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.checkInterval > 0 && m.stallThreshold > 0 {
		go m.watchdog()
	}
	return m
}

// TaskHandle controls one supervised goroutine.
type TaskHandle struct {
	Name   string
	cancel context.CancelFunc
	done   chan struct{}
	mon    *Monitor
}

// Stop cancels the task's context.
func (h TaskHandle) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Done is closed once the task has exited.
func (h TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Status returns the task's latest snapshot.
func (h TaskHandle) Status() TaskStatus {
	h.mon.mu.RLock()
	defer h.mon.mu.RUnlock()
	if t, ok := h.mon.tasks[h.Name]; ok {
		return t.status()
	}
	return TaskStatus{Name: h.Name}
}

// Go runs fn in its own goroutine under supervision. Re-using a name replaces
// the previous record.
func (m *Monitor) Go(name string, fn TaskFunc) TaskHandle {
	if name == "" {
		name = fmt.Sprintf("task-%d", atomic.AddUint64(&m.seq, 1))
	}

	taskCtx, cancel := context.WithCancel(m.ctx)
	t := newTask(name)
	m.mu.Lock()
	m.tasks[name] = t
	m.mu.Unlock()

	done := make(chan struct{})
	hb := &heartbeat{task: t}

	m.wg.Add(1)
	go func() {
		defer close(done)
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.markPanicked(fmt.Sprint(r))
				m.logger.Printf("monitor: task %s panicked: %v", name, r)
			}
			cancel()
		}()

		if err := fn(taskCtx, hb); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				t.markCanceled(err)
			} else {
				t.markFailed(err)
				m.logger.Printf("monitor: task %s failed: %v", name, err)
			}
			return
		}
		if taskCtx.Err() != nil {
			t.markCanceled(taskCtx.Err())
		} else {
			t.markCompleted()
		}
	}()

	return TaskHandle{Name: name, cancel: cancel, done: done, mon: m}
}

// Snapshot returns the status of every known task.
func (m *Monitor) Snapshot() []TaskStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]TaskStatus, 0, len(m.tasks))
	for _, t := range m.tasks {
		statuses = append(statuses, t.status())
	}
	return statuses
}

// Stop cancels every task and waits for all of them to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) watchdog() {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.inspect()
		}
	}
}

func (m *Monitor) inspect() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		t.mu.Lock()
		if t.state == TaskStateRunning {
			since := now.Sub(t.lastHeartbeat)
			if since > m.stallThreshold {
				if !t.heartbeatStalled {
					t.heartbeatStalled = true
					m.logger.Printf("monitor: task %s stalled (%s without heartbeat)", t.name, since.Truncate(time.Millisecond))
				}
			} else if t.heartbeatStalled {
				t.heartbeatStalled = false
				m.logger.Printf("monitor: task %s recovered after stall", t.name)
			}
		}
		t.mu.Unlock()
	}
}

type heartbeat struct {
	task *task
}

func (h *heartbeat) Tick() {
	h.task.touch()
}

type task struct {
	mu               sync.RWMutex
	name             string
	start            time.Time
	end              time.Time
	lastHeartbeat    time.Time
	state            TaskState
	errMsg           string
	panicMsg         string
	heartbeatStalled bool
}

func newTask(name string) *task {
	now := time.Now()
	return &task{
		name:          name,
		start:         now,
		lastHeartbeat: now,
		state:         TaskStateRunning,
	}
}

func (t *task) touch() {
	t.mu.Lock()
	t.lastHeartbeat = time.Now()
	t.mu.Unlock()
}

func (t *task) markFailed(err error) {
	t.mu.Lock()
	t.state = TaskStateFailed
	t.end = time.Now()
	t.errMsg = err.Error()
	t.mu.Unlock()
}

func (t *task) markCompleted() {
	t.mu.Lock()
	t.state = TaskStateCompleted
	t.end = time.Now()
	t.mu.Unlock()
}

func (t *task) markCanceled(err error) {
	t.mu.Lock()
	t.state = TaskStateCanceled
	t.end = time.Now()
	if err != nil {
		t.errMsg = err.Error()
	}
	t.mu.Unlock()
}

func (t *task) markPanicked(msg string) {
	t.mu.Lock()
	t.state = TaskStatePanicked
	t.end = time.Now()
	t.panicMsg = msg
	t.mu.Unlock()
}

func (t *task) status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TaskStatus{
		Name:             t.name,
		State:            t.state,
		StartTime:        t.start,
		EndTime:          t.end,
		LastHeartbeat:    t.lastHeartbeat,
		Error:            t.errMsg,
		Panic:            t.panicMsg,
		HeartbeatStalled: t.heartbeatStalled,
	}
}
