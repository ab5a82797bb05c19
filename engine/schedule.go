package engine

import (
	"time"

	"github.com/evdnx/gopairs/config"
)

// Schedule decides when a periodic rebalance is due. The first call to Due
// always fires.
type Schedule struct {
	kind     string
	interval time.Duration
	last     time.Time
}

func NewSchedule(cfg config.Allocator) *Schedule {
	return &Schedule{kind: cfg.Rebalance, interval: cfg.RebalanceInterval}
}

// Due reports whether a rebalance should run at now.
func (s *Schedule) Due(now time.Time) bool {
	if s.last.IsZero() {
		return true
	}
	switch s.kind {
	case config.RebalanceEveryBar:
		return true
	case config.RebalanceInterval:
		return !now.Before(s.last.Add(s.interval))
	default:
		return !now.Before(nextWeekStart(s.last))
	}
}

// Mark records a completed rebalance.
func (s *Schedule) Mark(now time.Time) { s.last = now }

// Last is the time of the previous rebalance, zero if none ran.
func (s *Schedule) Last() time.Time { return s.last }

// nextWeekStart is the Monday 00:00 UTC strictly after t.
func nextWeekStart(t time.Time) time.Time {
	t = t.UTC()
	days := (8 - int(t.Weekday())) % 7
	if days == 0 {
		days = 7
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, days)
}
