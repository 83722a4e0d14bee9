package availability

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/novadental/clinic-api/internal/schedule"
)

// windowSource is the slice of the store the resolver needs; it keeps the
// resolver testable without a database.
type windowSource interface {
	WindowsForDate(ctx context.Context, dentistID uuid.UUID, clinicID uuid.UUID, date string, weekday int) ([]Availability, error)
	BlockedForDate(ctx context.Context, dentistID uuid.UUID, date string) ([]BlockedTimeSlot, error)
}

// Resolver computes the effective open intervals for a dentist on a date:
// the applicable windows (date override beats weekly rule) minus any blocked
// time slots.
type Resolver struct {
	source windowSource
}

// NewResolver creates a resolver over the availability store.
func NewResolver(source windowSource) *Resolver {
	return &Resolver{source: source}
}

// OpenWindows returns the open intervals for the dentist on the given date.
// An empty result means the dentist takes no bookings that day.
func (r *Resolver) OpenWindows(ctx context.Context, dentistID uuid.UUID, clinicID uuid.UUID, date string) ([]schedule.Interval, error) {
	day, err := schedule.ParseDate(date)
	if err != nil {
		return nil, err
	}

	windows, err := r.source.WindowsForDate(ctx, dentistID, clinicID, date, int(day.Weekday()))
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, nil
	}

	open := make([]schedule.Interval, 0, len(windows))
	for _, w := range windows {
		start, err := schedule.ParseClock(w.StartTime)
		if err != nil {
			return nil, fmt.Errorf("availability: window %s: %w", w.ID, err)
		}
		end, err := schedule.ParseClock(w.EndTime)
		if err != nil {
			return nil, fmt.Errorf("availability: window %s: %w", w.ID, err)
		}
		iv := schedule.Interval{Start: start, End: end}
		if !iv.Valid() {
			continue
		}
		open = append(open, iv)
	}

	blocked, err := r.source.BlockedForDate(ctx, dentistID, date)
	if err != nil {
		return nil, err
	}
	if len(blocked) == 0 {
		return open, nil
	}

	blocks := make([]schedule.Interval, 0, len(blocked))
	for _, b := range blocked {
		start, err := schedule.ParseClock(b.StartTime)
		if err != nil {
			return nil, fmt.Errorf("availability: blocked slot %s: %w", b.ID, err)
		}
		end, err := schedule.ParseClock(b.EndTime)
		if err != nil {
			return nil, fmt.Errorf("availability: blocked slot %s: %w", b.ID, err)
		}
		blocks = append(blocks, schedule.Interval{Start: start, End: end})
	}

	return schedule.Subtract(open, blocks), nil
}
