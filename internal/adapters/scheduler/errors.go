package scheduler

import "errors"

// Sentinel kinds for scheduler errors.
var (
	ErrNotRunning   = errors.New("scheduler not running")
	ErrUnknownEvent = errors.New("unknown event")
	ErrStopped      = errors.New("poll loop stopped")
)
