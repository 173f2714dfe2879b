package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// In-memory Repository and Locker mirroring the Postgres semantics,
// including the conditional-update behavior the service relies on.

type memRepo struct {
	mu            sync.Mutex
	practitioners map[uuid.UUID]Practitioner
	patients      map[uuid.UUID]Patient
	windows       []AvailabilityWindow
	appointments  map[uuid.UUID]Appointment
	outbox        []NotificationIntent
	nextIntentID  int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		practitioners: make(map[uuid.UUID]Practitioner),
		patients:      make(map[uuid.UUID]Patient),
		appointments:  make(map[uuid.UUID]Appointment),
	}
}

func (r *memRepo) GetPractitionerByID(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.practitioners[id]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	return &p, nil
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) InsertWindows(_ context.Context, windows []AvailabilityWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, windows...)
	return nil
}

func (r *memRepo) ListWindows(_ context.Context, practitionerID uuid.UUID, day time.Time) ([]AvailabilityWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []AvailabilityWindow
	for _, w := range r.windows {
		if w.PractitionerID == practitionerID && w.Day.Equal(Day(day)) {
			result = append(result, w)
		}
	}
	return result, nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) ListActiveAppointments(_ context.Context, practitionerID uuid.UUID, day time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Appointment
	for _, a := range r.appointments {
		if a.PractitionerID == practitionerID && a.Day.Equal(Day(day)) && a.Status != StatusCancelled {
			result = append(result, a)
		}
	}
	return result, nil
}

func (r *memRepo) ListAppointmentsByHospital(_ context.Context, hospitalID string, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Appointment
	for _, a := range r.appointments {
		if a.HospitalID == hospitalID {
			result = append(result, a)
		}
	}
	return page(result, limit, offset), nil
}

func (r *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			result = append(result, a)
		}
	}
	return page(result, limit, offset), nil
}

func page(a []Appointment, limit, offset int) []Appointment {
	if offset >= len(a) {
		return nil
	}
	a = a[offset:]
	if limit < len(a) {
		a = a[:limit]
	}
	return a
}

func (r *memRepo) CreateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Emulates the partial unique index on (practitioner, day, start).
	for _, existing := range r.appointments {
		if existing.PractitionerID == a.PractitionerID &&
			existing.Day.Equal(a.Day) &&
			existing.SlotStart == a.SlotStart &&
			existing.Status != StatusCancelled {
			return nil, ErrSlotUnavailable
		}
	}
	a.Status = StatusScheduled
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	r.appointments[a.ID] = a
	return &a, nil
}

func (r *memRepo) CompleteAppointment(_ context.Context, id uuid.UUID, prescribed bool) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != StatusScheduled {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusCompleted
	a.Prescribed = prescribed
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func (r *memRepo) CancelWithNotice(_ context.Context, id uuid.UUID, intent NotificationIntent) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != StatusScheduled {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusCancelled
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	r.addIntent(intent)
	return &a, nil
}

func (r *memRepo) RescheduleWithNotice(_ context.Context, id uuid.UUID, start, end TimeOfDay, intent NotificationIntent) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != StatusScheduled {
		return nil, ErrAppointmentNotFound
	}
	a.SlotStart = start
	a.SlotEnd = end
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	r.addIntent(intent)
	return &a, nil
}

func (r *memRepo) DeleteWindowCascade(_ context.Context, practitionerID uuid.UUID, day time.Time, start, end TimeOfDay, noticeReason string) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, w := range r.windows {
		if w.PractitionerID == practitionerID && w.Day.Equal(Day(day)) && w.Start == start && w.End == end {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrWindowNotFound
	}
	r.windows = append(r.windows[:idx], r.windows[idx+1:]...)

	var cancelled []Appointment
	for id, a := range r.appointments {
		if a.PractitionerID == practitionerID && a.Day.Equal(Day(day)) &&
			a.SlotStart >= start && a.SlotStart < end &&
			a.Status != StatusCancelled {
			a.Status = StatusCancelled
			a.UpdatedAt = time.Now()
			r.appointments[id] = a
			cancelled = append(cancelled, a)
			r.addIntent(newIntent(a, NoticeCancelled, noticeReason))
		}
	}
	return cancelled, nil
}

func (r *memRepo) addIntent(intent NotificationIntent) {
	r.nextIntentID++
	intent.ID = r.nextIntentID
	r.outbox = append(r.outbox, intent)
}

func (r *memRepo) ListUndispatchedIntents(_ context.Context, limit int) ([]NotificationIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []NotificationIntent
	for _, in := range r.outbox {
		if in.DispatchedAt == nil {
			result = append(result, in)
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (r *memRepo) MarkIntentDispatched(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.outbox {
		if r.outbox[i].ID == id && r.outbox[i].DispatchedAt == nil {
			now := time.Now()
			r.outbox[i].DispatchedAt = &now
		}
	}
	return nil
}

func (r *memRepo) undispatched() []NotificationIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []NotificationIntent
	for _, in := range r.outbox {
		if in.DispatchedAt == nil {
			result = append(result, in)
		}
	}
	return result
}

// memLocker serializes critical sections with real mutexes per key, so the
// concurrency tests exercise the same exclusion the Redis locker provides.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memLocker) WithScheduleLock(ctx context.Context, practitionerID uuid.UUID, day string, fn func(ctx context.Context) error) error {
	key := practitionerID.String() + ":" + day
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}
