package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeBlockSource struct {
	mu     sync.Mutex
	height int64
}

func (f *fakeBlockSource) GetBlockHeight(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeBlockSource) setHeight(h int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = h
}

func TestScheduleRecurringJob(t *testing.T) {
	svc := NewScheduler(&fakeBlockSource{}, time.Hour)
	svc.Start()
	defer svc.Stop()

	var calls atomic.Int32
	err := svc.ScheduleRecurringJob(10*time.Millisecond, func() {
		calls.Add(1)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduleAtHeight(t *testing.T) {
	source := &fakeBlockSource{height: 100}

	svc := NewScheduler(source, 10*time.Millisecond)
	svc.Start()
	defer svc.Stop()

	var fired atomic.Bool
	svc.ScheduleAtHeight(105, func() {
		fired.Store(true)
	})

	// Below target, the task must not fire.
	time.Sleep(50 * time.Millisecond)
	require.False(t, fired.Load())

	source.setHeight(105)
	require.Eventually(t, func() bool {
		return fired.Load()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	svc := NewScheduler(&fakeBlockSource{}, 10*time.Millisecond)
	svc.Start()
	svc.Stop()
	svc.Stop()
}
