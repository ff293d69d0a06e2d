package scheduler

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
)

type Mode string

const (
	ModeInterval   Mode = "interval"
	ModeFixedTimes Mode = "fixed-times"
)

type Unit string

const (
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
)

var clockRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Cadence is the recurrence rule of the scheduler. Exactly one mode is
// active; Value and Unit apply to interval mode, Times to fixed-times mode.
type Cadence struct {
	Mode  Mode     `json:"mode" toml:"mode"`
	Value int      `json:"value,omitempty" toml:"value"`
	Unit  Unit     `json:"unit,omitempty" toml:"unit"`
	Times []string `json:"fixed_times,omitempty" toml:"fixed_times"`
}

// DefaultCadence fires four times a day.
func DefaultCadence() Cadence {
	return Cadence{Mode: ModeFixedTimes, Times: []string{"01:00", "09:00", "13:00", "19:00"}}
}

// Every returns an interval cadence.
func Every(value int, unit Unit) Cadence {
	return Cadence{Mode: ModeInterval, Value: value, Unit: unit}
}

// At returns a fixed-times cadence.
func At(times ...string) Cadence {
	return Cadence{Mode: ModeFixedTimes, Times: times}
}

// Validate reports the first invalid field as a *domain.ScheduleConfigError.
func (c Cadence) Validate() error {
	switch c.Mode {
	case ModeInterval:
		if c.Value <= 0 {
			return &domain.ScheduleConfigError{Field: "value", Msg: fmt.Sprintf("must be positive, got %d", c.Value)}
		}
		if c.Unit != Minutes && c.Unit != Hours {
			return &domain.ScheduleConfigError{Field: "unit", Msg: fmt.Sprintf("must be minutes or hours, got %q", c.Unit)}
		}
	case ModeFixedTimes:
		if len(c.Times) == 0 {
			return &domain.ScheduleConfigError{Field: "fixed_times", Msg: "at least one HH:MM time is required"}
		}
		for _, t := range c.Times {
			if !clockRegex.MatchString(strings.TrimSpace(t)) {
				return &domain.ScheduleConfigError{Field: "fixed_times", Msg: fmt.Sprintf("%q is not a valid HH:MM time", t)}
			}
		}
	default:
		return &domain.ScheduleConfigError{Field: "mode", Msg: fmt.Sprintf("must be %s or %s, got %q", ModeInterval, ModeFixedTimes, c.Mode)}
	}
	return nil
}

// normalized trims the fixed times into a sorted set and drops the fields
// of the inactive mode.
func (c Cadence) normalized() Cadence {
	if c.Mode == ModeInterval {
		return Cadence{Mode: c.Mode, Value: c.Value, Unit: c.Unit}
	}
	seen := make(map[string]bool, len(c.Times))
	times := make([]string, 0, len(c.Times))
	for _, t := range c.Times {
		t = strings.TrimSpace(t)
		if !seen[t] {
			seen[t] = true
			times = append(times, t)
		}
	}
	sort.Strings(times)
	return Cadence{Mode: c.Mode, Times: times}
}

// Interval returns the period of an interval cadence.
func (c Cadence) Interval() time.Duration {
	if c.Unit == Hours {
		return time.Duration(c.Value) * time.Hour
	}
	return time.Duration(c.Value) * time.Minute
}

// Next returns the first fire time strictly after now. Fixed times are
// read in now's location.
func (c Cadence) Next(now time.Time) time.Time {
	if c.Mode == ModeInterval {
		return now.Add(c.Interval())
	}

	var next time.Time
	for _, t := range c.Times {
		hh, _ := strconv.Atoi(t[:2])
		mm, _ := strconv.Atoi(t[3:])
		cand := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		if !cand.After(now) {
			cand = time.Date(now.Year(), now.Month(), now.Day()+1, hh, mm, 0, 0, now.Location())
		}
		if next.IsZero() || cand.Before(next) {
			next = cand
		}
	}
	return next
}

func (c Cadence) String() string {
	if c.Mode == ModeInterval {
		return fmt.Sprintf("every %d %s", c.Value, c.Unit)
	}
	return "daily at " + strings.Join(c.Times, ", ")
}
