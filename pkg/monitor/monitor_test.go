package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonitorTracksTaskLifecycle(t *testing.T) {
	mon := New(
		WithStallThreshold(50*time.Millisecond),
		WithCheckInterval(10*time.Millisecond),
	)
	defer mon.Stop()

	handle := mon.Go("ticker", func(ctx context.Context, hb Heartbeat) error {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				hb.Tick()
			}
		}
	})

	time.Sleep(20 * time.Millisecond)

	handle.Stop()
	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop in time")
	}

	status := handle.Status()
	require.Equal(t, TaskStateCanceled, status.State)
	require.False(t, status.HeartbeatStalled)
}

func TestMonitorRecordsFailure(t *testing.T) {
	mon := New()
	defer mon.Stop()

	handle := mon.Go("failing", func(ctx context.Context, hb Heartbeat) error {
		return errors.New("boom")
	})

	<-handle.Done()

	status := handle.Status()
	require.Equal(t, TaskStateFailed, status.State)
	require.Equal(t, "boom", status.Error)
}

func TestMonitorRecoversPanic(t *testing.T) {
	mon := New()
	defer mon.Stop()

	handle := mon.Go("panicking", func(ctx context.Context, hb Heartbeat) error {
		panic("kaboom")
	})

	<-handle.Done()

	status := handle.Status()
	require.Equal(t, TaskStatePanicked, status.State)
	require.Equal(t, "kaboom", status.Panic)
}

func TestSnapshotListsAllTasks(t *testing.T) {
	mon := New()
	defer mon.Stop()

	h1 := mon.Go("first", func(ctx context.Context, hb Heartbeat) error { return nil })
	h2 := mon.Go("second", func(ctx context.Context, hb Heartbeat) error { return nil })
	<-h1.Done()
	<-h2.Done()

	names := make(map[string]TaskState)
	for _, s := range mon.Snapshot() {
		names[s.Name] = s.State
	}
	require.Equal(t, TaskStateCompleted, names["first"])
	require.Equal(t, TaskStateCompleted, names["second"])
}
