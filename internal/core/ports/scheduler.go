package ports

import "time"

// SchedulerService runs the background jobs of the swap manager: the
// periodic status refresh and callbacks fired once the chain reaches a
// given height.
type SchedulerService interface {
	Start()
	Stop()
	// ScheduleRecurringJob runs fn every interval until the scheduler stops.
	ScheduleRecurringJob(interval time.Duration, fn func()) error
	// ScheduleAtHeight runs fn once the chain tip reaches the target height.
	ScheduleAtHeight(target uint32, fn func())
}
