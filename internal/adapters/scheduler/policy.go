package scheduler

import "time"

// Policy picks the delay before the next poll from the age of the newest
// record held for an event.
type Policy struct {
	Active  time.Duration // age < ActiveWindow
	Recent  time.Duration // ActiveWindow <= age < RecentWindow
	Dormant time.Duration // age >= RecentWindow
	Unknown time.Duration // no timestamped record yet

	ActiveWindow time.Duration
	RecentWindow time.Duration
}

// DefaultPolicy polls live events every 15s, recent ones hourly and old ones daily.
func DefaultPolicy() Policy {
	return Policy{
		Active:       15 * time.Second,
		Recent:       time.Hour,
		Dormant:      24 * time.Hour,
		Unknown:      time.Hour,
		ActiveWindow: 48 * time.Hour,
		RecentWindow: 14 * 24 * time.Hour,
	}
}

// Next returns the delay for an event whose newest record is latest.
// known is false when no timestamped record is held.
func (p Policy) Next(latest time.Time, known bool, now time.Time) time.Duration {
	if !known {
		return p.Unknown
	}
	age := now.Sub(latest)
	switch {
	case age < p.ActiveWindow:
		return p.Active
	case age < p.RecentWindow:
		return p.Recent
	default:
		return p.Dormant
	}
}
