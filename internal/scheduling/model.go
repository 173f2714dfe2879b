package scheduling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is a minute-granularity local time of day, counted as minutes
// since midnight. The wire and display form is "HH:MM".
type TimeOfDay int

const minutesPerDay = 24 * 60

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("time of day %q must be HH:MM", s)
	}
	h := 10*int(s[0]-'0') + int(s[1]-'0')
	m := 10*int(s[3]-'0') + int(s[4]-'0')
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < minutesPerDay
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// At anchors the time of day on a calendar day, producing an instant.
func (t TimeOfDay) At(day time.Time) time.Time {
	return Day(day).Add(time.Duration(t) * time.Minute)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Day truncates an instant to its calendar day in UTC. All schedule state is
// keyed on days normalized this way.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDay(s string) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return d, nil
}

// DayKey is the canonical string form of a schedule day, used in lock keys
// and logs.
func DayKey(day time.Time) string {
	return Day(day).Format("2006-01-02")
}

type SessionType string

const (
	SessionCheckup      SessionType = "checkup"
	SessionFollowup     SessionType = "followup"
	SessionTherapy      SessionType = "therapy"
	SessionConsultation SessionType = "consultation"
)

func (s SessionType) Valid() bool {
	switch s {
	case SessionCheckup, SessionFollowup, SessionTherapy, SessionConsultation:
		return true
	}
	return false
}

type Channel string

const (
	ChannelInPerson Channel = "in-person"
	ChannelVirtual  Channel = "virtual"
)

func (c Channel) Valid() bool {
	return c == ChannelInPerson || c == ChannelVirtual
}

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Terminal reports whether no further slot or status mutation is allowed.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type NotificationKind string

const (
	NoticeCancelled   NotificationKind = "cancelled"
	NoticeRescheduled NotificationKind = "rescheduled"
)

type Practitioner struct {
	ID         uuid.UUID
	HospitalID string
	Name       string
	Specialty  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AvailabilityWindow is a practitioner-declared interval of a single day
// during which booking is permitted. Windows for one (practitioner, day) are
// pairwise disjoint.
type AvailabilityWindow struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	Day            time.Time
	Start          TimeOfDay
	End            TimeOfDay
	CreatedAt      time.Time
}

// Contains reports whether a slot starting at t lies inside the window.
func (w AvailabilityWindow) Contains(t TimeOfDay) bool {
	return t >= w.Start && t < w.End
}

func (w AvailabilityWindow) Overlaps(start, end TimeOfDay) bool {
	return w.Start < end && start < w.End
}

// Slot is a derived, bookable start time. Slots are never persisted; they
// are recomputed on demand from the window and appointment sets. Slot
// identity is the start time.
type Slot struct {
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Day            time.Time `json:"date"`
	Start          TimeOfDay `json:"slot_start"`
	End            TimeOfDay `json:"slot_end"`
}

type Appointment struct {
	ID             uuid.UUID
	HospitalID     string
	PractitionerID uuid.UUID
	PatientID      uuid.UUID
	Day            time.Time
	SlotStart      TimeOfDay
	SlotEnd        TimeOfDay
	Reason         string
	SessionType    SessionType
	Channel        Channel
	Status         AppointmentStatus
	Prescribed     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StartsBefore reports whether the appointment's start instant precedes now.
func (a Appointment) StartsBefore(now time.Time) bool {
	return a.SlotStart.At(a.Day).Before(now)
}

// NotificationIntent is a durable record that a patient-facing notification
// must fire. It is written in the same transaction as the state change that
// caused it and dispatched asynchronously by the outbox worker.
type NotificationIntent struct {
	ID            int64
	PatientID     uuid.UUID
	AppointmentID uuid.UUID
	Kind          NotificationKind
	Payload       []byte
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

func newIntent(a Appointment, kind NotificationKind, reason string) NotificationIntent {
	payload, _ := json.Marshal(map[string]any{
		"hospital_id":     a.HospitalID,
		"practitioner_id": a.PractitionerID.String(),
		"date":            DayKey(a.Day),
		"slot_start":      a.SlotStart.String(),
		"slot_end":        a.SlotEnd.String(),
		"reason":          reason,
	})
	return NotificationIntent{
		PatientID:     a.PatientID,
		AppointmentID: a.ID,
		Kind:          kind,
		Payload:       payload,
		CreatedAt:     time.Now(),
	}
}
