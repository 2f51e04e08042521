// Package scheduler runs the periodic jobs of the swap daemon: recurring
// status refreshes through gocron and one-shot jobs gated on a chain height,
// fired by polling a block source.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/ArkLabsHQ/lampo/internal/core/ports"
	"github.com/ArkLabsHQ/lampo/pkg/monitor"
	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"
)

// BlockSource reports the current chain tip height.
type BlockSource interface {
	GetBlockHeight(ctx context.Context) (int64, error)
}

type heightTask struct {
	target uint32
	fn     func()
}

type service struct {
	scheduler    *gocron.Scheduler
	source       BlockSource
	pollInterval time.Duration

	mu      sync.Mutex
	monitor *monitor.Monitor
	tasks   []*heightTask
}

func NewScheduler(
	source BlockSource, pollInterval time.Duration,
) ports.SchedulerService {
	return &service{
		scheduler:    gocron.NewScheduler(time.UTC),
		source:       source,
		pollInterval: pollInterval,
	}
}

func (s *service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.monitor != nil {
		return
	}

	s.scheduler.StartAsync()

	s.monitor = monitor.New(
		monitor.WithStallThreshold(4*s.pollInterval),
		monitor.WithCheckInterval(s.pollInterval),
	)
	s.monitor.Go("block-poll", s.pollBlockHeight)
}

func (s *service) Stop() {
	s.mu.Lock()
	mon := s.monitor
	s.monitor = nil
	s.mu.Unlock()

	if mon != nil {
		mon.Stop()
	}
	s.scheduler.Stop()
}

func (s *service) ScheduleRecurringJob(interval time.Duration, fn func()) error {
	_, err := s.scheduler.Every(interval).WaitForSchedule().Do(fn)
	return err
}

func (s *service) ScheduleAtHeight(target uint32, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &heightTask{target: target, fn: fn})
}

func (s *service) pollBlockHeight(ctx context.Context, hb monitor.Heartbeat) error {
	t := time.NewTicker(s.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			hb.Tick()

			height, err := s.source.GetBlockHeight(ctx)
			if err != nil {
				log.WithError(err).Debug("scheduler: failed to poll block height")
				continue
			}

			s.dispatchDueTasks(height)
		}
	}
}

func (s *service) dispatchDueTasks(height int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.monitor == nil {
		return
	}

	keep := s.tasks[:0]
	for _, task := range s.tasks {
		if height >= int64(task.target) {
			fn := task.fn
			s.monitor.Go("", func(context.Context, monitor.Heartbeat) error {
				fn()
				return nil
			})
			continue
		}
		keep = append(keep, task)
	}
	s.tasks = keep
}
