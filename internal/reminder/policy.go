package reminder

import (
	"fmt"
	"strings"
	"time"
)

// Policy derives a reminder fire time from a selected event time.
type Policy interface {
	FireAt(event time.Time) time.Time
	String() string
}

// OffsetPolicy fires a fixed duration before the event.
type OffsetPolicy struct {
	Offset time.Duration
}

func (p OffsetPolicy) FireAt(event time.Time) time.Time { return event.Add(-p.Offset) }
func (p OffsetPolicy) String() string                   { return "offset " + p.Offset.String() }

// MorningPolicy fires at Hour:Minute on the day before the event, in the
// event's own location. An event earlier in its day than Hour:Minute moves the
// reminder back one more day.
type MorningPolicy struct {
	Hour   int
	Minute int
}

func (p MorningPolicy) FireAt(event time.Time) time.Time {
	y, m, d := event.Date()
	at := time.Date(y, m, d, p.Hour, p.Minute, 0, 0, event.Location())
	days := -1
	if event.Before(at) {
		days = -2
	}
	return at.AddDate(0, 0, days)
}

func (p MorningPolicy) String() string { return fmt.Sprintf("morning %02d:%02d", p.Hour, p.Minute) }

const (
	PolicyOffset  = "offset"
	PolicyMorning = "morning"

	DefaultOffset = 24 * time.Hour
)

// NewPolicy builds a policy by name. An empty name selects offset. A zero
// offset selects DefaultOffset.
func NewPolicy(name string, offset time.Duration, hour, minute int) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyOffset:
		if offset <= 0 {
			offset = DefaultOffset
		}
		return OffsetPolicy{Offset: offset}, nil
	case PolicyMorning:
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("morning policy: invalid time %02d:%02d", hour, minute)
		}
		return MorningPolicy{Hour: hour, Minute: minute}, nil
	default:
		return nil, fmt.Errorf("unknown reminder policy %q", name)
	}
}
