// Package quiet implements the quiet-period gate that withholds dispatch
// during configured hold windows.
package quiet

import (
	"fmt"
	"strings"
	"time"
)

// Period describes whether dispatch is currently held and until when.
type Period struct {
	Active   bool      `json:"active"`
	StartsAt time.Time `json:"starts_at,omitempty"`
	EndsAt   time.Time `json:"ends_at,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// Policy computes hold windows. Implementations may derive windows from
// static configuration, location-based data, or anything else; the queue
// manager only depends on this contract.
type Policy interface {
	Evaluate(at time.Time) Period
}

// Window is a configured daily hold window. An empty Weekdays list applies
// the window every day. Windows may wrap midnight (Start > End).
type Window struct {
	Start    string // "HH:MM"
	End      string // "HH:MM"
	Weekdays []time.Weekday
	Reason   string
}

// WindowPolicy evaluates configured clock-range windows in a fixed location.
type WindowPolicy struct {
	loc     *time.Location
	windows []Window
}

// NewWindowPolicy creates a policy from configured windows.
func NewWindowPolicy(loc *time.Location, windows []Window) (*WindowPolicy, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, w := range windows {
		if _, err := parseClock(w.Start); err != nil {
			return nil, fmt.Errorf("quiet window start %q: %w", w.Start, err)
		}
		if _, err := parseClock(w.End); err != nil {
			return nil, fmt.Errorf("quiet window end %q: %w", w.End, err)
		}
	}
	return &WindowPolicy{loc: loc, windows: windows}, nil
}

// Evaluate reports whether at falls inside any configured window. When
// multiple windows are active the one ending last wins.
func (p *WindowPolicy) Evaluate(at time.Time) Period {
	local := at.In(p.loc)

	var active Period
	for _, w := range p.windows {
		period, ok := p.evaluateWindow(w, local)
		if !ok {
			continue
		}
		if !active.Active || period.EndsAt.After(active.EndsAt) {
			active = period
		}
	}
	return active
}

func (p *WindowPolicy) evaluateWindow(w Window, local time.Time) (Period, bool) {
	start, _ := parseClock(w.Start)
	end, _ := parseClock(w.End)

	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.loc)
	startsAt := midnight.Add(start)
	endsAt := midnight.Add(end)

	if end <= start {
		// Window wraps midnight: active either after start today or
		// before end today (started yesterday).
		if local.Before(endsAt) {
			startsAt = startsAt.AddDate(0, 0, -1)
		} else {
			endsAt = endsAt.AddDate(0, 0, 1)
		}
	}

	if local.Before(startsAt) || !local.Before(endsAt) {
		return Period{}, false
	}
	if !weekdayMatches(w.Weekdays, startsAt.Weekday()) {
		return Period{}, false
	}

	return Period{
		Active:   true,
		StartsAt: startsAt,
		EndsAt:   endsAt,
		Reason:   w.Reason,
	}, true
}

func weekdayMatches(days []time.Weekday, d time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, wd := range days {
		if wd == d {
			return true
		}
	}
	return false
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ParseWeekdays converts config strings ("mon", "tuesday") into weekdays.
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		name := strings.ToLower(strings.TrimSpace(n))
		if len(name) < 3 {
			return nil, fmt.Errorf("invalid weekday %q", n)
		}
		var d time.Weekday
		switch name[:3] {
		case "sun":
			d = time.Sunday
		case "mon":
			d = time.Monday
		case "tue":
			d = time.Tuesday
		case "wed":
			d = time.Wednesday
		case "thu":
			d = time.Thursday
		case "fri":
			d = time.Friday
		case "sat":
			d = time.Saturday
		default:
			return nil, fmt.Errorf("invalid weekday %q", n)
		}
		out = append(out, d)
	}
	return out, nil
}
