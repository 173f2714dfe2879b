package scheduling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/merakihealth/hospital-scheduling/internal/config"
)

var (
	testNow = time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)
	// Tomorrow relative to the frozen clock; all bookings land here unless a
	// test says otherwise.
	testDay = Day(testNow).AddDate(0, 0, 1)
)

type fixture struct {
	svc            *Service
	repo           *memRepo
	practitionerID uuid.UUID
	patientID      uuid.UUID
	otherPatientID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	practitionerID := uuid.New()
	patientID := uuid.New()
	otherPatientID := uuid.New()
	repo.practitioners[practitionerID] = Practitioner{ID: practitionerID, HospitalID: "HOSP01", Name: "Dr. Aluko"}
	repo.patients[patientID] = Patient{ID: patientID, Name: "Ines Carvalho"}
	repo.patients[otherPatientID] = Patient{ID: otherPatientID, Name: "Tom Okafor"}

	cfg := config.Config{SlotLength: 30 * time.Minute}
	svc := NewService(repo, newMemLocker(), cfg, zap.NewNop())
	svc.now = func() time.Time { return testNow }

	return &fixture{
		svc:            svc,
		repo:           repo,
		practitionerID: practitionerID,
		patientID:      patientID,
		otherPatientID: otherPatientID,
	}
}

func (f *fixture) declare(t *testing.T, start, end string) {
	t.Helper()
	s := mustTime(t, start)
	e := mustTime(t, end)
	if _, err := f.svc.DeclareWindows(context.Background(), f.practitionerID, testDay, []WindowSpan{{Start: s, End: e}}); err != nil {
		t.Fatalf("declare window %s-%s: %v", start, end, err)
	}
}

func (f *fixture) book(t *testing.T, patientID uuid.UUID, start string) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), BookingRequest{
		HospitalID:     "HOSP01",
		PractitionerID: f.practitionerID,
		PatientID:      patientID,
		Day:            testDay,
		SlotStart:      mustTime(t, start),
		Reason:         "routine checkup",
	})
	if err != nil {
		t.Fatalf("book %s: %v", start, err)
	}
	return appt
}

func mustTime(t *testing.T, s string) TimeOfDay {
	t.Helper()
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tod
}

func TestDeclareWindowsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.DeclareWindows(ctx, f.practitionerID, testDay, nil)
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("empty batch: got %v, want ErrInvalidRange", err)
	}

	_, err = f.svc.DeclareWindows(ctx, f.practitionerID, testDay, []WindowSpan{
		{Start: mustTime(t, "10:00"), End: mustTime(t, "09:00")},
	})
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("inverted window: got %v, want ErrInvalidRange", err)
	}

	_, err = f.svc.DeclareWindows(ctx, uuid.New(), testDay, []WindowSpan{
		{Start: mustTime(t, "09:00"), End: mustTime(t, "10:00")},
	})
	if !errors.Is(err, ErrPractitionerNotFound) {
		t.Errorf("unknown practitioner: got %v, want ErrPractitionerNotFound", err)
	}
}

func TestDeclareWindowsRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.declare(t, "09:00", "12:00")

	_, err := f.svc.DeclareWindows(ctx, f.practitionerID, testDay, []WindowSpan{
		{Start: mustTime(t, "11:30"), End: mustTime(t, "13:00")},
	})
	if !errors.Is(err, ErrOverlap) {
		t.Errorf("overlap with existing: got %v, want ErrOverlap", err)
	}

	// Overlap inside the submitted batch itself.
	_, err = f.svc.DeclareWindows(ctx, f.practitionerID, testDay, []WindowSpan{
		{Start: mustTime(t, "14:00"), End: mustTime(t, "16:00")},
		{Start: mustTime(t, "15:00"), End: mustTime(t, "17:00")},
	})
	if !errors.Is(err, ErrOverlap) {
		t.Errorf("overlap within batch: got %v, want ErrOverlap", err)
	}

	// Touching windows are fine.
	if _, err := f.svc.DeclareWindows(ctx, f.practitionerID, testDay, []WindowSpan{
		{Start: mustTime(t, "12:00"), End: mustTime(t, "13:00")},
	}); err != nil {
		t.Errorf("adjacent window: unexpected error %v", err)
	}
}

func TestAvailableSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No windows declared: empty, not an error.
	slots, err := f.svc.AvailableSlots(ctx, f.practitionerID, testDay, 0)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}

	// Window 09:00-10:00, 30 minute slots, 09:00 already booked -> [09:30].
	f.declare(t, "09:00", "10:00")
	f.book(t, f.patientID, "09:00")

	slots, err = f.svc.AvailableSlots(ctx, f.practitionerID, testDay, 0)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if len(slots) != 1 || slots[0].Start != mustTime(t, "09:30") {
		t.Fatalf("expected [09:30], got %v", slots)
	}
	if slots[0].End != mustTime(t, "10:00") {
		t.Errorf("slot end = %s, want 10:00", slots[0].End)
	}
}

func TestAvailableSlotsRejectsBadLength(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AvailableSlots(context.Background(), f.practitionerID, testDay, time.Minute)
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("1 minute slots: got %v, want ErrInvalidRange", err)
	}
}

func TestBookPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.declare(t, "09:00", "10:00")

	base := BookingRequest{
		HospitalID:     "HOSP01",
		PractitionerID: f.practitionerID,
		PatientID:      f.patientID,
		Day:            testDay,
		SlotStart:      mustTime(t, "09:00"),
		Reason:         "routine checkup",
	}

	req := base
	req.PractitionerID = uuid.New()
	if _, err := f.svc.Book(ctx, req); !errors.Is(err, ErrPractitionerNotFound) {
		t.Errorf("unknown practitioner: got %v", err)
	}

	req = base
	req.PatientID = uuid.New()
	if _, err := f.svc.Book(ctx, req); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("unknown patient: got %v", err)
	}

	req = base
	req.SlotStart = mustTime(t, "13:00")
	if _, err := f.svc.Book(ctx, req); !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("outside any window: got %v", err)
	}

	req = base
	req.Day = Day(testNow).AddDate(0, 0, -1)
	if _, err := f.svc.Book(ctx, req); !errors.Is(err, ErrSlotUnavailable) && !errors.Is(err, ErrInvalidDate) {
		t.Errorf("past day: got %v", err)
	}
}

func TestBookPastDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	yesterday := Day(testNow).AddDate(0, 0, -1)
	if _, err := f.svc.DeclareWindows(ctx, f.practitionerID, yesterday, []WindowSpan{
		{Start: mustTime(t, "09:00"), End: mustTime(t, "10:00")},
	}); err != nil {
		t.Fatalf("declare: %v", err)
	}

	_, err := f.svc.Book(ctx, BookingRequest{
		HospitalID:     "HOSP01",
		PractitionerID: f.practitionerID,
		PatientID:      f.patientID,
		Day:            yesterday,
		SlotStart:      mustTime(t, "09:00"),
		Reason:         "routine checkup",
	})
	if !errors.Is(err, ErrInvalidDate) {
		t.Errorf("past day with open slot: got %v, want ErrInvalidDate", err)
	}
}

func TestBookDoubleBooking(t *testing.T) {
	f := newFixture(t)
	f.declare(t, "09:00", "10:00")
	f.book(t, f.patientID, "09:00")

	_, err := f.svc.Book(context.Background(), BookingRequest{
		HospitalID:     "HOSP01",
		PractitionerID: f.practitionerID,
		PatientID:      f.otherPatientID,
		Day:            testDay,
		SlotStart:      mustTime(t, "09:00"),
		Reason:         "routine checkup",
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("double booking: got %v, want ErrSlotUnavailable", err)
	}
}

func TestConcurrentBookingSingleWinner(t *testing.T) {
	f := newFixture(t)
	f.declare(t, "09:00", "10:00")

	const contenders = 16
	var (
		wg        sync.WaitGroup
		successes int64
		conflicts int64
		mu        sync.Mutex
	)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), BookingRequest{
				HospitalID:     "HOSP01",
				PractitionerID: f.practitionerID,
				PatientID:      f.patientID,
				Day:            testDay,
				SlotStart:      mustTime(t, "09:30"),
				Reason:         "routine checkup",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotUnavailable):
				conflicts++
			default:
				t.Errorf("unexpected booking error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if conflicts != contenders-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, contenders-1)
	}
}

// A booking racing the deletion of its window either loses the slot check
// outright or lands first and is cancelled by the cascade. A Scheduled
// appointment behind a deleted window must never survive the race.
func TestBookRacesWindowDeletion(t *testing.T) {
	const rounds = 50

	for round := 0; round < rounds; round++ {
		f := newFixture(t)
		f.declare(t, "09:00", "10:00")
		ctx := context.Background()
		winStart := mustTime(t, "09:00")
		winEnd := mustTime(t, "10:00")

		var (
			wg      sync.WaitGroup
			booked  *Appointment
			bookErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			booked, bookErr = f.svc.Book(ctx, BookingRequest{
				HospitalID:     "HOSP01",
				PractitionerID: f.practitionerID,
				PatientID:      f.patientID,
				Day:            testDay,
				SlotStart:      winStart,
				Reason:         "routine checkup",
			})
		}()
		go func() {
			defer wg.Done()
			if _, err := f.svc.DeleteWindow(ctx, f.practitionerID, testDay, winStart, winEnd); err != nil {
				t.Errorf("round %d: delete window: %v", round, err)
			}
		}()
		wg.Wait()

		switch {
		case bookErr == nil:
			current, err := f.svc.GetAppointment(ctx, booked.ID)
			if err != nil {
				t.Fatalf("round %d: get appointment: %v", round, err)
			}
			if current.Status != StatusCancelled {
				t.Fatalf("round %d: appointment %s is %s behind a deleted window", round, booked.ID, current.Status)
			}
		case !errors.Is(bookErr, ErrSlotUnavailable):
			t.Fatalf("round %d: booking error = %v, want ErrSlotUnavailable", round, bookErr)
		}
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.declare(t, "09:00", "10:00")
	appt := f.book(t, f.patientID, "09:00")

	cancelled, err := f.svc.Cancel(ctx, appt.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	intents := f.repo.undispatched()
	if len(intents) != 1 || intents[0].Kind != NoticeCancelled {
		t.Fatalf("expected one cancellation intent, got %v", intents)
	}
	if intents[0].PatientID != f.patientID {
		t.Errorf("intent patient = %s, want %s", intents[0].PatientID, f.patientID)
	}

	// The freed slot is bookable again.
	if _, err := f.svc.Book(ctx, BookingRequest{
		HospitalID:     "HOSP01",
		PractitionerID: f.practitionerID,
		PatientID:      f.otherPatientID,
		Day:            testDay,
		SlotStart:      mustTime(t, "09:00"),
		Reason:         "routine checkup",
	}); err != nil {
		t.Errorf("rebooking freed slot: %v", err)
	}

	if _, err := f.svc.Cancel(ctx, appt.ID); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("second cancel: got %v, want ErrAlreadyTerminal", err)
	}
	if _, err := f.svc.Cancel(ctx, uuid.New()); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("unknown appointment: got %v, want ErrAppointmentNotFound", err)
	}
}

func TestCancelPastAppointment(t *testing.T) {
	f := newFixture(t)
	f.declare(t, "09:00", "10:00")
	appt := f.book(t, f.patientID, "09:00")

	// Jump the clock past the slot.
	f.svc.now = func() time.Time { return appt.SlotStart.At(testDay).Add(time.Hour) }

	if _, err := f.svc.Cancel(context.Background(), appt.ID); !errors.Is(err, ErrPastAppointment) {
		t.Errorf("cancel elapsed appointment: got %v, want ErrPastAppointment", err)
	}
	if _, err := f.svc.Reschedule(context.Background(), appt.ID, time.Time{}, mustTime(t, "09:30")); !errors.Is(err, ErrPastAppointment) {
		t.Errorf("reschedule elapsed appointment: got %v, want ErrPastAppointment", err)
	}
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.declare(t, "09:00", "10:30")
	appt := f.book(t, f.patientID, "09:00")
	f.book(t, f.otherPatientID, "09:30")

	// Target taken by someone else.
	if _, err := f.svc.Reschedule(ctx, appt.ID, time.Time{}, mustTime(t, "09:30")); !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("occupied target: got %v, want ErrSlotUnavailable", err)
	}

	// Rescheduling into the currently held slot is valid.
	if _, err := f.svc.Reschedule(ctx, appt.ID, time.Time{}, mustTime(t, "09:00")); err != nil {
		t.Errorf("reschedule into own slot: %v", err)
	}

	// Cross-date is out of contract.
	otherDay := testDay.AddDate(0, 0, 1)
	if _, err := f.svc.Reschedule(ctx, appt.ID, otherDay, mustTime(t, "10:00")); !errors.Is(err, ErrUnsupportedOperation) {
		t.Errorf("cross-date: got %v, want ErrUnsupportedOperation", err)
	}

	moved, err := f.svc.Reschedule(ctx, appt.ID, testDay, mustTime(t, "10:00"))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved.SlotStart != mustTime(t, "10:00") || moved.SlotEnd != mustTime(t, "10:30") {
		t.Errorf("moved to %s-%s, want 10:00-10:30", moved.SlotStart, moved.SlotEnd)
	}
	if moved.Status != StatusScheduled {
		t.Errorf("status = %s, want scheduled", moved.Status)
	}

	// The old slot is free for someone else in the same operation.
	slots, err := f.svc.AvailableSlots(ctx, f.practitionerID, testDay, 0)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if !slotAvailable(slots, mustTime(t, "09:00")) {
		t.Errorf("old slot 09:00 not freed, slots: %v", slots)
	}

	var rescheduled int
	for _, in := range f.repo.undispatched() {
		if in.Kind == NoticeRescheduled {
			rescheduled++
		}
	}
	if rescheduled != 2 {
		t.Errorf("rescheduled intents = %d, want 2", rescheduled)
	}
}

func TestDeleteWindowCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.declare(t, "09:00", "10:00")
	f.declare(t, "14:00", "15:00")
	f.book(t, f.patientID, "09:00")
	f.book(t, f.otherPatientID, "09:30")
	afternoon := f.book(t, f.patientID, "14:00")

	cancelled, err := f.svc.DeleteWindow(ctx, f.practitionerID, testDay, mustTime(t, "09:00"), mustTime(t, "10:00"))
	if err != nil {
		t.Fatalf("delete window: %v", err)
	}
	if len(cancelled) != 2 {
		t.Fatalf("cancelled = %d, want 2", len(cancelled))
	}

	intents := f.repo.undispatched()
	if len(intents) != 2 {
		t.Fatalf("intents = %d, want 2", len(intents))
	}
	for _, in := range intents {
		if in.Kind != NoticeCancelled {
			t.Errorf("intent kind = %s, want cancelled", in.Kind)
		}
		if !strings.Contains(string(in.Payload), cancelledByWindowRemoval) {
			t.Errorf("intent payload missing cascade reason: %s", in.Payload)
		}
	}

	// Window gone, its slots gone, the other window untouched.
	slots, err := f.svc.AvailableSlots(ctx, f.practitionerID, testDay, 0)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	for _, s := range slots {
		if s.Start < mustTime(t, "14:00") {
			t.Errorf("unexpected morning slot %s after cascade", s.Start)
		}
	}

	current, err := f.svc.GetAppointment(ctx, afternoon.ID)
	if err != nil {
		t.Fatalf("get appointment: %v", err)
	}
	if current.Status != StatusScheduled {
		t.Errorf("afternoon appointment status = %s, want scheduled", current.Status)
	}

	_, err = f.svc.DeleteWindow(ctx, f.practitionerID, testDay, mustTime(t, "09:00"), mustTime(t, "10:00"))
	if !errors.Is(err, ErrWindowNotFound) {
		t.Errorf("second delete: got %v, want ErrWindowNotFound", err)
	}
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.declare(t, "09:00", "10:00")
	appt := f.book(t, f.patientID, "09:00")

	done, err := f.svc.Complete(ctx, appt.ID, true)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted || !done.Prescribed {
		t.Errorf("got status=%s prescribed=%v, want completed/true", done.Status, done.Prescribed)
	}

	if _, err := f.svc.Complete(ctx, appt.ID, false); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("second complete: got %v, want ErrAlreadyTerminal", err)
	}

	// A completed appointment still occupies its slot.
	slots, err := f.svc.AvailableSlots(ctx, f.practitionerID, testDay, 0)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if slotAvailable(slots, mustTime(t, "09:00")) {
		t.Error("completed appointment's slot shown as available")
	}
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []NotificationIntent
	fail bool
}

func (n *stubNotifier) Send(_ context.Context, intent NotificationIntent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp unreachable")
	}
	n.sent = append(n.sent, intent)
	return nil
}

func TestDispatchNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.declare(t, "09:00", "10:00")
	appt := f.book(t, f.patientID, "09:00")
	if _, err := f.svc.Cancel(ctx, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	failing := &stubNotifier{fail: true}
	sent, err := f.svc.DispatchNotifications(ctx, failing, 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent != 0 || len(f.repo.undispatched()) != 1 {
		t.Fatalf("failed delivery must leave the intent queued: sent=%d queued=%d", sent, len(f.repo.undispatched()))
	}

	ok := &stubNotifier{}
	sent, err = f.svc.DispatchNotifications(ctx, ok, 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sent != 1 || len(ok.sent) != 1 {
		t.Fatalf("sent = %d, delivered = %d, want 1/1", sent, len(ok.sent))
	}
	if remaining := f.repo.undispatched(); len(remaining) != 0 {
		t.Fatalf("intents left queued after dispatch: %d", len(remaining))
	}
}
