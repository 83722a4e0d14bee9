package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novadental/clinic-api/internal/clinics"
	"github.com/novadental/clinic-api/internal/schedule"
)

// fixedNow is a Monday; test bookings target the following Tuesday/Wednesday.
var fixedNow = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

type openAllDay struct{}

func (openAllDay) OpenWindows(ctx context.Context, dentistID, clinicID uuid.UUID, date string) ([]schedule.Interval, error) {
	return []schedule.Interval{{Start: 8 * 60, End: 18 * 60}}, nil
}

type fixedCatalog map[uuid.UUID]int

func (c fixedCatalog) DurationMinutes(ctx context.Context, serviceID uuid.UUID) (int, error) {
	d, ok := c[serviceID]
	if !ok {
		return 0, errors.New("unknown service")
	}
	return d, nil
}

type staticPolicies struct {
	settings clinics.Settings
}

func (p *staticPolicies) Get(ctx context.Context, clinicID string) (*clinics.Settings, error) {
	s := p.settings
	s.ClinicID = clinicID
	return &s, nil
}

type eventSink struct {
	mu     sync.Mutex
	events []TransitionEvent
}

func (s *eventSink) RecordTransition(ctx context.Context, evt TransitionEvent) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *eventSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	svc      *Service
	repo     *InMemoryRepository
	sink     *eventSink
	clinicID uuid.UUID
}

func newFixture(t *testing.T, opts ...func(*ServiceConfig)) *fixture {
	t.Helper()
	repo := NewInMemoryRepository()
	sink := &eventSink{}
	clinicID := uuid.New()
	cfg := ServiceConfig{
		Repo:                   repo,
		Windows:                openAllDay{},
		Policies:               &staticPolicies{settings: clinics.Settings{EnforceWeeklyLimit: false}},
		Recorders:              []TransitionRecorder{sink},
		DefaultClinicID:        clinicID,
		DefaultDurationMinutes: 30,
		Now:                    func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &fixture{svc: NewService(cfg), repo: repo, sink: sink, clinicID: clinicID}
}

func (f *fixture) book(t *testing.T, dentistID uuid.UUID, date, clock string) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), BookRequest{
		PatientID:   uuid.New(),
		DentistID:   &dentistID,
		Date:        date,
		Time:        clock,
		RequestedBy: uuid.New(),
	})
	require.NoError(t, err)
	return appt
}

func TestBookSucceedsWithPendingStatus(t *testing.T) {
	f := newFixture(t)
	dentist := uuid.New()

	appt := f.book(t, dentist, "2026-03-10", "10:00")

	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, "2026-03-10", appt.Date)
	assert.Equal(t, "10:00", appt.StartTime)
	assert.Equal(t, 30, appt.DurationMinutes)
	assert.Equal(t, f.clinicID, appt.ClinicID)
	assert.NotEqual(t, uuid.Nil, appt.ID)
	assert.Equal(t, []string{EventBooked}, f.sink.kinds())
}

func TestBookRejectsConflictingSlot(t *testing.T) {
	f := newFixture(t)
	dentist := uuid.New()
	first := f.book(t, dentist, "2026-03-10", "10:00")

	_, err := f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DentistID: &dentist,
		Date:      "2026-03-10",
		Time:      "10:00",
	})
	require.ErrorIs(t, err, ErrSchedulingConflict)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.ConflictingID)
}

func TestBookRejectsOverlappingSlot(t *testing.T) {
	f := newFixture(t)
	dentist := uuid.New()
	f.book(t, dentist, "2026-03-10", "10:00")

	// 10:15 overlaps the 10:00-10:30 block.
	_, err := f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DentistID: &dentist,
		Date:      "2026-03-10",
		Time:      "10:15",
	})
	assert.ErrorIs(t, err, ErrSchedulingConflict)

	// 10:30 is the end of the block; half-open intervals make it free.
	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DentistID: &dentist,
		Date:      "2026-03-10",
		Time:      "10:30",
	})
	assert.NoError(t, err)
}

func TestBookAllowsSameSlotDifferentDentist(t *testing.T) {
	f := newFixture(t)
	f.book(t, uuid.New(), "2026-03-10", "10:00")
	f.book(t, uuid.New(), "2026-03-10", "10:00")
}

func TestBookRejectsPastDate(t *testing.T) {
	f := newFixture(t)
	dentist := uuid.New()

	_, err := f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DentistID: &dentist,
		Date:      "2026-03-08",
		Time:      "10:00",
	})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	// Same-day but already elapsed.
	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DentistID: &dentist,
		Date:      "2026-03-09",
		Time:      "08:00",
	})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestBookRejectsMissingFields(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), BookRequest{Date: "2026-03-10", Time: "10:00"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Book(context.Background(), BookRequest{PatientID: uuid.New(), Date: "bogus", Time: "10:00"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Book(context.Background(), BookRequest{PatientID: uuid.New(), Date: "2026-03-10", Time: "25:99"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBookUsesServiceDuration(t *testing.T) {
	serviceID := uuid.New()
	f := newFixture(t, func(cfg *ServiceConfig) {
		cfg.Catalog = fixedCatalog{serviceID: 60}
	})
	dentist := uuid.New()

	appt, err := f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DentistID: &dentist,
		ServiceID: &serviceID,
		Date:      "2026-03-10",
		Time:      "10:00",
	})
	require.NoError(t, err)
	assert.Equal(t, 60, appt.DurationMinutes)

	// 10:45 falls inside the 60-minute block.
	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DentistID: &dentist,
		Date:      "2026-03-10",
		Time:      "10:45",
	})
	assert.ErrorIs(t, err, ErrSchedulingConflict)

	unknown := uuid.New()
	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DentistID: &dentist,
		ServiceID: &unknown,
		Date:      "2026-03-10",
		Time:      "13:00",
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBookRejectsSlotOutsideAvailability(t *testing.T) {
	f := newFixture(t)
	dentist := uuid.New()

	// Clinic hours in the fixture are 08:00-18:00.
	_, err := f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DentistID: &dentist,
		Date:      "2026-03-10",
		Time:      "19:00",
	})
	assert.ErrorIs(t, err, ErrOutsideAvailability)

	// 17:45 + 30min spills past close.
	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DentistID: &dentist,
		Date:      "2026-03-10",
		Time:      "17:45",
	})
	assert.ErrorIs(t, err, ErrOutsideAvailability)
}

func TestBookEnforcesWeeklyLimitWhenEnabled(t *testing.T) {
	f := newFixture(t, func(cfg *ServiceConfig) {
		cfg.Policies = &staticPolicies{settings: clinics.Settings{EnforceWeeklyLimit: true}}
	})
	dentist := uuid.New()
	patient := uuid.New()

	_, err := f.svc.Book(context.Background(), BookRequest{
		PatientID: patient,
		DentistID: &dentist,
		Date:      "2026-03-10",
		Time:      "10:00",
	})
	require.NoError(t, err)

	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: patient,
		DentistID: &dentist,
		Date:      "2026-03-12",
		Time:      "11:00",
	})
	assert.ErrorIs(t, err, ErrWeeklyLimit)

	// Another patient is unaffected.
	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DentistID: &dentist,
		Date:      "2026-03-12",
		Time:      "11:00",
	})
	assert.NoError(t, err)
}

func TestBookWeeklyLimitUnderDefaultPolicies(t *testing.T) {
	// The built-in defaults enforce the weekly limit, so a deployment
	// running without a settings store still applies the rule.
	f := newFixture(t, func(cfg *ServiceConfig) {
		cfg.Policies = clinics.DefaultPolicies{}
	})
	dentist := uuid.New()
	patient := uuid.New()

	_, err := f.svc.Book(context.Background(), BookRequest{
		PatientID: patient,
		DentistID: &dentist,
		Date:      "2026-03-10",
		Time:      "10:00",
	})
	require.NoError(t, err)

	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: patient,
		DentistID: &dentist,
		Date:      "2026-03-12",
		Time:      "11:00",
	})
	assert.ErrorIs(t, err, ErrWeeklyLimit)
}

func TestRescheduleRequestAndApprove(t *testing.T) {
	f := newFixture(t)
	dentist := uuid.New()
	appt := f.book(t, dentist, "2026-03-10", "10:00")

	cr, err := f.svc.RequestReschedule(context.Background(), appt.ID, RescheduleRequest{
		Date:        "2026-03-11",
		Time:        "14:00",
		RequestedBy: appt.PatientID,
	})
	require.NoError(t, err)
	assert.Equal(t, KindReschedule, cr.Kind)
	assert.Equal(t, RequestPending, cr.State)

	current, err := f.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduleRequested, current.Status)
	// The original slot is untouched while the request is pending.
	assert.Equal(t, "2026-03-10", current.Date)
	assert.Equal(t, "10:00", current.StartTime)

	// A second request before resolution is rejected.
	_, err = f.svc.RequestReschedule(context.Background(), appt.ID, RescheduleRequest{
		Date: "2026-03-12", Time: "09:00", RequestedBy: appt.PatientID,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	staff := uuid.New()
	updated, err := f.svc.ApproveReschedule(context.Background(), appt.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)
	assert.Equal(t, "2026-03-11", updated.Date)
	assert.Equal(t, "14:00", updated.StartTime)
	assert.Nil(t, updated.PriorStatus)

	pending, err := f.repo.PendingRequest(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestRescheduleRejectRevertsPriorStatus(t *testing.T) {
	f := newFixture(t)
	dentist := uuid.New()
	appt := f.book(t, dentist, "2026-03-10", "10:00")

	// Confirm first so the revert target is confirmed, not pending.
	staff := uuid.New()
	confirmed := StatusConfirmed
	_, err := f.svc.Patch(context.Background(), appt.ID, PatchRequest{Status: &confirmed, Actor: staff})
	require.NoError(t, err)

	_, err = f.svc.RequestReschedule(context.Background(), appt.ID, RescheduleRequest{
		Date: "2026-03-11", Time: "14:00", RequestedBy: appt.PatientID,
	})
	require.NoError(t, err)

	updated, err := f.svc.RejectReschedule(context.Background(), appt.ID, staff, "slot unavailable")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)
	assert.Equal(t, "2026-03-10", updated.Date)
	assert.Equal(t, "10:00", updated.StartTime)
	assert.Nil(t, updated.PriorStatus)
}

func TestApproveRescheduleFailsOnInterveningBooking(t *testing.T) {
	f := newFixture(t)
	dentist := uuid.New()
	appt := f.book(t, dentist, "2026-03-10", "10:00")

	_, err := f.svc.RequestReschedule(context.Background(), appt.ID, RescheduleRequest{
		Date: "2026-03-11", Time: "14:00", RequestedBy: appt.PatientID,
	})
	require.NoError(t, err)

	// Someone books the proposed slot before staff approves.
	f.book(t, dentist, "2026-03-11", "14:00")

	_, err = f.svc.ApproveReschedule(context.Background(), appt.ID, uuid.New())
	assert.ErrorIs(t, err, ErrSchedulingConflict)

	// The request survives so staff can reject it instead.
	updated, err := f.svc.RejectReschedule(context.Background(), appt.ID, uuid.New(), "slot taken")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, updated.Status)
}

func TestCancelFlow(t *testing.T) {
	f := newFixture(t)
	dentist := uuid.New()
	appt := f.book(t, dentist, "2026-03-10", "10:00")

	_, err := f.svc.RequestCancel(context.Background(), appt.ID, appt.PatientID, "")
	assert.ErrorIs(t, err, ErrValidation)

	cr, err := f.svc.RequestCancel(context.Background(), appt.ID, appt.PatientID, "feeling better")
	require.NoError(t, err)
	assert.Equal(t, KindCancel, cr.Kind)
	assert.Equal(t, "feeling better", cr.Reason)

	current, err := f.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelRequested, current.Status)

	// The slot is held until staff approves the cancellation.
	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DentistID: &dentist,
		Date:      "2026-03-10",
		Time:      "10:00",
	})
	assert.ErrorIs(t, err, ErrSchedulingConflict)

	staff := uuid.New()
	updated, err := f.svc.ApproveCancel(context.Background(), appt.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)

	// Slot is now free.
	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		DentistID: &dentist,
		Date:      "2026-03-10",
		Time:      "10:00",
	})
	assert.NoError(t, err)
}

func TestCancelRejectReverts(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, uuid.New(), "2026-03-10", "10:00")
	staff := uuid.New()

	_, err := f.svc.RequestCancel(context.Background(), appt.ID, appt.PatientID, "conflict at work")
	require.NoError(t, err)

	updated, err := f.svc.RejectCancel(context.Background(), appt.ID, staff, "please call to discuss")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, updated.Status)
}

func TestPendingRequestBlocksOtherActions(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, uuid.New(), "2026-03-10", "10:00")

	_, err := f.svc.RequestReschedule(context.Background(), appt.ID, RescheduleRequest{
		Date: "2026-03-11", Time: "14:00", RequestedBy: appt.PatientID,
	})
	require.NoError(t, err)

	// Cancel request while a reschedule is pending.
	_, err = f.svc.RequestCancel(context.Background(), appt.ID, appt.PatientID, "reason")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Direct status patch while a request is pending.
	confirmed := StatusConfirmed
	_, err = f.svc.Patch(context.Background(), appt.ID, PatchRequest{Status: &confirmed})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Approving the wrong kind.
	_, err = f.svc.ApproveCancel(context.Background(), appt.ID, uuid.New())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRequestsOnlyFromPendingOrConfirmed(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, uuid.New(), "2026-03-10", "10:00")
	staff := uuid.New()

	completed := StatusCompleted
	_, err := f.svc.Patch(context.Background(), appt.ID, PatchRequest{Status: &completed, Actor: staff})
	require.NoError(t, err)

	_, err = f.svc.RequestReschedule(context.Background(), appt.ID, RescheduleRequest{
		Date: "2026-03-11", Time: "14:00",
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.RequestCancel(context.Background(), appt.ID, appt.PatientID, "reason")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDirectTransitions(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusWaiting, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusMissed, true},
		{StatusConfirmed, StatusWaiting, true},
		{StatusWaiting, StatusCompleted, true},
		{StatusCompleted, StatusConfirmed, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusPending, StatusCancelled, false},
		{StatusPending, StatusRescheduleRequested, false},
	}
	for _, tc := range cases {
		appt := f.book(t, uuid.New(), "2026-03-10", "10:00")
		if tc.from != StatusPending {
			f.repo.mu.Lock()
			f.repo.appts[appt.ID].Status = tc.from
			f.repo.mu.Unlock()
		}
		to := tc.to
		_, err := f.svc.Patch(context.Background(), appt.ID, PatchRequest{Status: &to})
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
		}
	}
}

func TestPatchNotes(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, uuid.New(), "2026-03-10", "10:00")

	notes := "patient prefers morning"
	updated, err := f.svc.Patch(context.Background(), appt.ID, PatchRequest{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, notes, updated.Notes)

	_, err = f.svc.Patch(context.Background(), appt.ID, PatchRequest{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Patch(context.Background(), uuid.New(), PatchRequest{Notes: &notes})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPatchRejectedWhileRequestPending(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, uuid.New(), "2026-03-10", "10:00")

	_, err := f.svc.RequestReschedule(context.Background(), appt.ID, RescheduleRequest{
		Date: "2026-03-11", Time: "14:00", RequestedBy: appt.PatientID,
	})
	require.NoError(t, err)

	// Notes-only patches are held back too, not just status changes.
	notes := "bring prior x-rays"
	_, err = f.svc.Patch(context.Background(), appt.ID, PatchRequest{Notes: &notes})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := f.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Notes)
}

func TestPatchRejectedStatusLeavesNotesUntouched(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, uuid.New(), "2026-03-10", "10:00")

	f.repo.mu.Lock()
	f.repo.appts[appt.ID].Status = StatusCompleted
	f.repo.mu.Unlock()

	// Combined patch with an invalid transition must not apply either leg.
	notes := "follow-up scheduled"
	confirmed := StatusConfirmed
	_, err := f.svc.Patch(context.Background(), appt.ID, PatchRequest{Status: &confirmed, Notes: &notes})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := f.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Notes)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestStatsAndUpcoming(t *testing.T) {
	f := newFixture(t)
	dentist := uuid.New()
	staff := uuid.New()

	today := f.book(t, dentist, "2026-03-09", "15:00")
	_ = today
	tomorrow := f.book(t, dentist, "2026-03-10", "10:00")
	f.book(t, dentist, "2026-03-11", "09:00")

	completed := StatusCompleted
	_, err := f.svc.Patch(context.Background(), tomorrow.ID, PatchRequest{Status: &completed, Actor: staff})
	require.NoError(t, err)

	stats, err := f.svc.Stats(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Today)
	assert.Equal(t, int64(2), stats.Scheduled)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(0), stats.Cancelled)

	upcoming, err := f.svc.Upcoming(context.Background(), nil, 10)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, "2026-03-09", upcoming[0].Date)
	assert.Equal(t, "2026-03-11", upcoming[1].Date)
}

func TestTransitionEventsFanOut(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, uuid.New(), "2026-03-10", "10:00")
	staff := uuid.New()

	_, err := f.svc.RequestReschedule(context.Background(), appt.ID, RescheduleRequest{
		Date: "2026-03-11", Time: "14:00", RequestedBy: appt.PatientID,
	})
	require.NoError(t, err)
	_, err = f.svc.ApproveReschedule(context.Background(), appt.ID, staff)
	require.NoError(t, err)

	assert.Equal(t, []string{EventBooked, EventRescheduleRequested, EventRescheduleApproved}, f.sink.kinds())
}
