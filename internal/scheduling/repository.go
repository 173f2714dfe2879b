package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all persistence interactions needed by the engine.
// Methods suffixed WithNotice combine a state change with the insertion of
// its NotificationIntent in one transaction, so a crash between the two can
// never lose a notification nor leave one without its state change.
type Repository interface {
	// Directory lookups (stand-in for the external patient/staff directory).
	GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Availability windows.
	InsertWindows(ctx context.Context, windows []AvailabilityWindow) error
	ListWindows(ctx context.Context, practitionerID uuid.UUID, day time.Time) ([]AvailabilityWindow, error)

	// Appointments.
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListActiveAppointments(ctx context.Context, practitionerID uuid.UUID, day time.Time) ([]Appointment, error)
	ListAppointmentsByHospital(ctx context.Context, hospitalID string, limit, offset int) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID, prescribed bool) (*Appointment, error)

	// Coordinated mutations.
	CancelWithNotice(ctx context.Context, id uuid.UUID, intent NotificationIntent) (*Appointment, error)
	RescheduleWithNotice(ctx context.Context, id uuid.UUID, start, end TimeOfDay, intent NotificationIntent) (*Appointment, error)

	// DeleteWindowCascade removes the window and cancels every active
	// appointment whose slot start lies inside it, writing one intent per
	// cancelled appointment, all in one transaction. Returns the cancelled
	// appointments.
	DeleteWindowCascade(ctx context.Context, practitionerID uuid.UUID, day time.Time, start, end TimeOfDay, noticeReason string) ([]Appointment, error)

	// Notification outbox.
	ListUndispatchedIntents(ctx context.Context, limit int) ([]NotificationIntent, error)
	MarkIntentDispatched(ctx context.Context, id int64) error
}

// Notifier is the external delivery collaborator. Delivery failure must not
// affect the state change that produced the intent; the outbox worker
// simply retries.
type Notifier interface {
	Send(ctx context.Context, intent NotificationIntent) error
}
