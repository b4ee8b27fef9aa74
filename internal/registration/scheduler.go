package registration

import "time"

// Timer is a pending scheduled task. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// retryTask identifies one scheduled retry; a fired task that is no longer
// the entry's current one does nothing.
type retryTask struct {
	timer Timer
}
