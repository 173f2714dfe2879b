package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/merakihealth/hospital-scheduling/internal/config"
	redisclient "github.com/merakihealth/hospital-scheduling/internal/redis"
)

const (
	cancelledByRequest       = "cancelled on request"
	cancelledByWindowRemoval = "practitioner unavailable"
	rescheduledNotice        = "appointment moved to a new time"
)

// Service is the slot and booking engine. All write paths that race on slot
// availability run inside a per-(practitioner, day) exclusive region; reads
// are lock-free snapshots.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    *zap.Logger

	now func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// withScheduleLock serializes the read-check-write sequence for one
// (practitioner, day). Lock contention surfaces as the retryable kind.
func (s *Service) withScheduleLock(ctx context.Context, practitionerID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error {
	err := s.locker.WithScheduleLock(ctx, practitionerID, DayKey(day), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return fmt.Errorf("%w: schedule is busy", ErrUnavailable)
	}
	return err
}

func (s *Service) slotLength(requested time.Duration) (time.Duration, error) {
	if requested == 0 {
		requested = s.cfg.SlotLength
	}
	if requested < 5*time.Minute || requested > 4*time.Hour {
		return 0, fmt.Errorf("slot length %s out of bounds: %w", requested, ErrInvalidRange)
	}
	return requested, nil
}

// WindowSpan is a start/end pair submitted when declaring availability.
type WindowSpan struct {
	Start TimeOfDay
	End   TimeOfDay
}

// DeclareWindows appends windows to a practitioner's day. The batch is
// all-or-nothing: every span must be well-formed and disjoint from both the
// existing windows and the rest of the batch.
func (s *Service) DeclareWindows(ctx context.Context, practitionerID uuid.UUID, day time.Time, spans []WindowSpan) ([]AvailabilityWindow, error) {
	if _, err := s.repo.GetPractitionerByID(ctx, practitionerID); err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("no windows submitted: %w", ErrInvalidRange)
	}
	for _, sp := range spans {
		if !sp.Start.Valid() || !sp.End.Valid() || sp.Start >= sp.End {
			return nil, fmt.Errorf("window %s-%s: %w", sp.Start, sp.End, ErrInvalidRange)
		}
	}

	ordered := make([]WindowSpan, len(spans))
	copy(ordered, spans)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Start < ordered[i-1].End {
			return nil, fmt.Errorf("windows %s-%s and %s-%s: %w",
				ordered[i-1].Start, ordered[i-1].End, ordered[i].Start, ordered[i].End, ErrOverlap)
		}
	}

	var created []AvailabilityWindow
	err := s.withScheduleLock(ctx, practitionerID, day, func(lockCtx context.Context) error {
		existing, err := s.repo.ListWindows(lockCtx, practitionerID, day)
		if err != nil {
			return fmt.Errorf("list windows: %w", err)
		}
		for _, sp := range ordered {
			for _, w := range existing {
				if w.Overlaps(sp.Start, sp.End) {
					return fmt.Errorf("window %s-%s overlaps %s-%s: %w",
						sp.Start, sp.End, w.Start, w.End, ErrOverlap)
				}
			}
		}

		created = make([]AvailabilityWindow, 0, len(ordered))
		for _, sp := range ordered {
			created = append(created, AvailabilityWindow{
				ID:             uuid.New(),
				PractitionerID: practitionerID,
				Day:            Day(day),
				Start:          sp.Start,
				End:            sp.End,
			})
		}
		if err := s.repo.InsertWindows(lockCtx, created); err != nil {
			return fmt.Errorf("insert windows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("windows declared",
		zap.String("practitioner_id", practitionerID.String()),
		zap.String("day", DayKey(day)),
		zap.Int("count", len(created)))
	return created, nil
}

func (s *Service) ListWindows(ctx context.Context, practitionerID uuid.UUID, day time.Time) ([]AvailabilityWindow, error) {
	return s.repo.ListWindows(ctx, practitionerID, day)
}

// AvailableSlots derives the bookable start times for one (practitioner,
// day). An empty result is normal. The read takes no lock; a slot shown
// here may be taken by the time a booking for it lands, which the booking
// path's own guard turns into ErrSlotUnavailable.
func (s *Service) AvailableSlots(ctx context.Context, practitionerID uuid.UUID, day time.Time, length time.Duration) ([]Slot, error) {
	length, err := s.slotLength(length)
	if err != nil {
		return nil, err
	}

	windows, err := s.repo.ListWindows(ctx, practitionerID, day)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	appointments, err := s.repo.ListActiveAppointments(ctx, practitionerID, day)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	return deriveSlots(windows, bookedStarts(appointments, nil), length), nil
}

// BookingRequest carries everything needed to create an appointment.
// SlotLength may be zero to use the configured default.
type BookingRequest struct {
	HospitalID     string
	PractitionerID uuid.UUID
	PatientID      uuid.UUID
	Day            time.Time
	SlotStart      TimeOfDay
	SlotLength     time.Duration
	Reason         string
	SessionType    SessionType
	Channel        Channel
}

// Book validates and commits a new appointment. The availability check and
// the insert form one atomic unit under the schedule lock, so two bookings
// for the same slot can never both succeed; the loser gets
// ErrSlotUnavailable.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if _, err := s.repo.GetPractitionerByID(ctx, req.PractitionerID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, err
	}

	length, err := s.slotLength(req.SlotLength)
	if err != nil {
		return nil, err
	}
	if req.SessionType == "" {
		req.SessionType = SessionCheckup
	}
	if req.Channel == "" {
		req.Channel = ChannelInPerson
	}

	var created *Appointment
	err = s.withScheduleLock(ctx, req.PractitionerID, req.Day, func(lockCtx context.Context) error {
		windows, err := s.repo.ListWindows(lockCtx, req.PractitionerID, req.Day)
		if err != nil {
			return fmt.Errorf("list windows: %w", err)
		}
		appointments, err := s.repo.ListActiveAppointments(lockCtx, req.PractitionerID, req.Day)
		if err != nil {
			return fmt.Errorf("list appointments: %w", err)
		}

		slots := deriveSlots(windows, bookedStarts(appointments, nil), length)
		if !slotAvailable(slots, req.SlotStart) {
			return fmt.Errorf("slot %s on %s: %w", req.SlotStart, DayKey(req.Day), ErrSlotUnavailable)
		}
		if Day(req.Day).Before(Day(s.now())) {
			return fmt.Errorf("day %s: %w", DayKey(req.Day), ErrInvalidDate)
		}

		appt, err := s.repo.CreateAppointment(lockCtx, Appointment{
			ID:             uuid.New(),
			HospitalID:     req.HospitalID,
			PractitionerID: req.PractitionerID,
			PatientID:      req.PatientID,
			Day:            Day(req.Day),
			SlotStart:      req.SlotStart,
			SlotEnd:        req.SlotStart + TimeOfDay(length/time.Minute),
			Reason:         req.Reason,
			SessionType:    req.SessionType,
			Channel:        req.Channel,
		})
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("practitioner_id", created.PractitionerID.String()),
		zap.String("day", DayKey(created.Day)),
		zap.String("slot_start", created.SlotStart.String()))
	return created, nil
}

// Cancel flips a future Scheduled appointment to Cancelled and records a
// cancellation notice for the patient.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var cancelled *Appointment
	err = s.withScheduleLock(ctx, appt.PractitionerID, appt.Day, func(lockCtx context.Context) error {
		current, err := s.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return err
		}
		if err := s.mutableCheck(current); err != nil {
			return err
		}

		cancelled, err = s.repo.CancelWithNotice(lockCtx, id, newIntent(*current, NoticeCancelled, cancelledByRequest))
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another terminal transition.
			return ErrAlreadyTerminal
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment cancelled", zap.String("appointment_id", id.String()))
	return cancelled, nil
}

// Reschedule moves a future Scheduled appointment to a new slot on the same
// day. The target slot is validated with the moving appointment excluded
// from the booked set, so rescheduling into the currently held slot is a
// valid no-op and the old slot is freed in the same operation. newDay may be
// zero to mean "unchanged"; any other day is rejected, cross-date moves are
// outside this engine's contract.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDay time.Time, newStart TimeOfDay) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !newDay.IsZero() && !Day(newDay).Equal(appt.Day) {
		return nil, fmt.Errorf("move from %s to %s: %w", DayKey(appt.Day), DayKey(newDay), ErrUnsupportedOperation)
	}

	var moved *Appointment
	err = s.withScheduleLock(ctx, appt.PractitionerID, appt.Day, func(lockCtx context.Context) error {
		current, err := s.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return err
		}
		if err := s.mutableCheck(current); err != nil {
			return err
		}

		windows, err := s.repo.ListWindows(lockCtx, current.PractitionerID, current.Day)
		if err != nil {
			return fmt.Errorf("list windows: %w", err)
		}
		appointments, err := s.repo.ListActiveAppointments(lockCtx, current.PractitionerID, current.Day)
		if err != nil {
			return fmt.Errorf("list appointments: %w", err)
		}

		length := time.Duration(current.SlotEnd-current.SlotStart) * time.Minute
		slots := deriveSlots(windows, bookedStarts(appointments, current), length)
		if !slotAvailable(slots, newStart) {
			return fmt.Errorf("slot %s on %s: %w", newStart, DayKey(current.Day), ErrSlotUnavailable)
		}

		newEnd := newStart + (current.SlotEnd - current.SlotStart)
		updated := *current
		updated.SlotStart = newStart
		updated.SlotEnd = newEnd

		moved, err = s.repo.RescheduleWithNotice(lockCtx, id, newStart, newEnd, newIntent(updated, NoticeRescheduled, rescheduledNotice))
		if errors.Is(err, ErrAppointmentNotFound) {
			return ErrAlreadyTerminal
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment rescheduled",
		zap.String("appointment_id", id.String()),
		zap.String("slot_start", moved.SlotStart.String()))
	return moved, nil
}

// mutableCheck guards the coordinator operations: only future Scheduled
// appointments may be cancelled or rescheduled.
func (s *Service) mutableCheck(a *Appointment) error {
	if a.Status.Terminal() {
		return fmt.Errorf("appointment %s is %s: %w", a.ID, a.Status, ErrAlreadyTerminal)
	}
	if a.StartsBefore(s.now()) {
		return fmt.Errorf("appointment %s started %s %s: %w", a.ID, DayKey(a.Day), a.SlotStart, ErrPastAppointment)
	}
	return nil
}

// DeleteWindow removes a declared window and cancels every active
// appointment whose slot start falls inside it, one notice per affected
// patient. The cascade is a single transaction under the schedule lock:
// a reader never sees the window gone while a contained appointment is
// still Scheduled, or the reverse.
func (s *Service) DeleteWindow(ctx context.Context, practitionerID uuid.UUID, day time.Time, start, end TimeOfDay) ([]Appointment, error) {
	if !start.Valid() || !end.Valid() || start >= end {
		return nil, fmt.Errorf("window %s-%s: %w", start, end, ErrInvalidRange)
	}

	var cancelled []Appointment
	err := s.withScheduleLock(ctx, practitionerID, day, func(lockCtx context.Context) error {
		var err error
		cancelled, err = s.repo.DeleteWindowCascade(lockCtx, practitionerID, day, start, end, cancelledByWindowRemoval)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("window deleted",
		zap.String("practitioner_id", practitionerID.String()),
		zap.String("day", DayKey(day)),
		zap.String("window", start.String()+"-"+end.String()),
		zap.Int("cancelled_appointments", len(cancelled)))
	return cancelled, nil
}

// Complete marks a Scheduled appointment as held, optionally with a
// prescription issued. Completion is allowed after the slot has elapsed;
// the appointment keeps occupying its slot for derivation purposes.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, prescribed bool) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status.Terminal() {
		return nil, fmt.Errorf("appointment %s is %s: %w", appt.ID, appt.Status, ErrAlreadyTerminal)
	}

	done, err := s.repo.CompleteAppointment(ctx, id, prescribed)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrAlreadyTerminal
	}
	if err != nil {
		return nil, err
	}
	return done, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) ListAppointmentsByHospital(ctx context.Context, hospitalID string, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListAppointmentsByHospital(ctx, hospitalID, limit, offset)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// DispatchNotifications hands undispatched intents to the notifier and
// marks each dispatched only after a successful send; failures are retried
// on the next run, giving at-least-once delivery.
func (s *Service) DispatchNotifications(ctx context.Context, notifier Notifier, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	intents, err := s.repo.ListUndispatchedIntents(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("list undispatched intents: %w", err)
	}

	sent := 0
	for _, in := range intents {
		if err := notifier.Send(ctx, in); err != nil {
			s.log.Warn("notification send failed",
				zap.Int64("intent_id", in.ID),
				zap.Error(err))
			continue
		}
		if err := s.repo.MarkIntentDispatched(ctx, in.ID); err != nil {
			s.log.Warn("mark intent dispatched failed",
				zap.Int64("intent_id", in.ID),
				zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}
