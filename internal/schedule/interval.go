// Package schedule provides the wall-clock interval algebra shared by the
// availability and appointment packages. Times of day are minutes since
// midnight; intervals are half-open [Start, End).
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire and storage format for schedule dates.
const DateLayout = "2006-01-02"

// Interval is a half-open [Start, End) range of minutes since midnight.
type Interval struct {
	Start int
	End   int
}

// Overlaps reports whether two half-open intervals intersect.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start < o.End && o.Start < iv.End
}

// Contains reports whether o lies fully inside iv.
func (iv Interval) Contains(o Interval) bool {
	return iv.Start <= o.Start && o.End <= iv.End
}

// Valid reports whether the interval is non-empty and within a single day.
func (iv Interval) Valid() bool {
	return iv.Start >= 0 && iv.Start < iv.End && iv.End <= 24*60
}

// ParseClock parses "HH:MM" (or "HH:MM:SS", seconds ignored) into minutes
// since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("schedule: invalid clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("schedule: invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("schedule: invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

// ParseDate parses a "YYYY-MM-DD" schedule date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: invalid date %q", s)
	}
	return t, nil
}

// NewInterval builds an interval from a clock time and a duration in minutes.
func NewInterval(start string, durationMinutes int) (Interval, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Interval{}, err
	}
	if durationMinutes <= 0 {
		return Interval{}, fmt.Errorf("schedule: duration must be positive, got %d", durationMinutes)
	}
	iv := Interval{Start: s, End: s + durationMinutes}
	if iv.End > 24*60 {
		return Interval{}, fmt.Errorf("schedule: interval %s+%dm crosses midnight", start, durationMinutes)
	}
	return iv, nil
}

// Subtract removes every blocked interval from the open windows, splitting
// windows where a block lands in the middle. The result is sorted by start.
func Subtract(windows, blocked []Interval) []Interval {
	out := make([]Interval, 0, len(windows))
	for _, w := range windows {
		remaining := []Interval{w}
		for _, b := range blocked {
			var next []Interval
			for _, r := range remaining {
				if !r.Overlaps(b) {
					next = append(next, r)
					continue
				}
				if r.Start < b.Start {
					next = append(next, Interval{Start: r.Start, End: b.Start})
				}
				if b.End < r.End {
					next = append(next, Interval{Start: b.End, End: r.End})
				}
			}
			remaining = next
		}
		out = append(out, remaining...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Slots enumerates the start times (as "HH:MM") at which an appointment of
// durationMinutes fits inside the open windows, stepping every stepMinutes.
func Slots(windows []Interval, durationMinutes, stepMinutes int) []string {
	if durationMinutes <= 0 {
		return nil
	}
	if stepMinutes <= 0 {
		stepMinutes = durationMinutes
	}
	var out []string
	for _, w := range windows {
		for start := w.Start; start+durationMinutes <= w.End; start += stepMinutes {
			out = append(out, FormatClock(start))
		}
	}
	sort.Strings(out)
	return out
}

// AnyContains reports whether the candidate lies fully inside one of the
// open windows.
func AnyContains(windows []Interval, cand Interval) bool {
	for _, w := range windows {
		if w.Contains(cand) {
			return true
		}
	}
	return false
}
