package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// uniqueViolation is the Postgres error code raised by the partial unique
// index on (practitioner_id, day, start_min) for active appointments. It is
// the DB-side backstop behind the schedule lock.
const uniqueViolation = "23505"

// infra translates transport-level failures into the retryable kind.
// Domain sentinels pass through untouched.
func infra(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Scan helpers

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	err := row.Scan(&p.ID, &p.HospitalID, &p.Name, &p.Specialty, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, infra(err)
	}
	return &p, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, infra(err)
	}
	return &p, nil
}

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var startMin, endMin int
	err := row.Scan(&w.ID, &w.PractitionerID, &w.Day, &startMin, &endMin, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, infra(err)
	}
	w.Day = Day(w.Day)
	w.Start = TimeOfDay(startMin)
	w.End = TimeOfDay(endMin)
	return &w, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var startMin, endMin int
	err := row.Scan(
		&a.ID,
		&a.HospitalID,
		&a.PractitionerID,
		&a.PatientID,
		&a.Day,
		&startMin,
		&endMin,
		&a.Reason,
		&a.SessionType,
		&a.Channel,
		&a.Status,
		&a.Prescribed,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, infra(err)
	}
	a.Day = Day(a.Day)
	a.SlotStart = TimeOfDay(startMin)
	a.SlotEnd = TimeOfDay(endMin)
	return &a, nil
}

const appointmentCols = `id, hospital_id, practitioner_id, patient_id, day, start_min, end_min,
		reason, session_type, channel, status, prescribed, created_at, updated_at`

// Directory lookups

func (r *PgRepository) GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, hospital_id, name, specialty, created_at, updated_at
		FROM practitioners
		WHERE id = $1
	`, id)
	return scanPractitioner(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

// Availability windows

func (r *PgRepository) InsertWindows(ctx context.Context, windows []AvailabilityWindow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return infra(fmt.Errorf("begin insert windows: %w", err))
	}
	defer tx.Rollback(ctx)

	for _, w := range windows {
		_, err := tx.Exec(ctx, `
			INSERT INTO availability_windows (id, practitioner_id, day, start_min, end_min, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
		`, w.ID, w.PractitionerID, Day(w.Day), int(w.Start), int(w.End))
		if err != nil {
			return infra(fmt.Errorf("insert window: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return infra(fmt.Errorf("commit insert windows: %w", err))
	}
	return nil
}

func (r *PgRepository) ListWindows(ctx context.Context, practitionerID uuid.UUID, day time.Time) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, practitioner_id, day, start_min, end_min, created_at
		FROM availability_windows
		WHERE practitioner_id = $1 AND day = $2
		ORDER BY start_min
	`, practitionerID, Day(day))
	if err != nil {
		return nil, infra(err)
	}
	defer rows.Close()

	var result []AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	return result, infra(rows.Err())
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListActiveAppointments(ctx context.Context, practitionerID uuid.UUID, day time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND day = $2
		  AND status IN ('scheduled', 'completed')
		ORDER BY start_min
	`, practitionerID, Day(day))
	if err != nil {
		return nil, infra(err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByHospital(ctx context.Context, hospitalID string, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE hospital_id = $1
		ORDER BY day DESC, start_min DESC
		LIMIT $2 OFFSET $3
	`, hospitalID, limit, offset)
	if err != nil {
		return nil, infra(err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY day DESC, start_min DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, infra(err)
	}
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, infra(rows.Err())
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(id, hospital_id, practitioner_id, patient_id, day, start_min, end_min,
			 reason, session_type, channel, status, prescribed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'scheduled', false, now(), now())
		RETURNING `+appointmentCols+`
	`, a.ID, a.HospitalID, a.PractitionerID, a.PatientID, Day(a.Day),
		int(a.SlotStart), int(a.SlotEnd), a.Reason, a.SessionType, a.Channel)

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) CompleteAppointment(ctx context.Context, id uuid.UUID, prescribed bool) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    prescribed = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		RETURNING `+appointmentCols+`
	`, id, prescribed)
	return scanAppointment(row)
}

// Coordinated mutations

func (r *PgRepository) CancelWithNotice(ctx context.Context, id uuid.UUID, intent NotificationIntent) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, infra(fmt.Errorf("begin cancel: %w", err))
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		RETURNING `+appointmentCols+`
	`, id)

	cancelled, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	if err := insertIntent(ctx, tx, intent); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, infra(fmt.Errorf("commit cancel: %w", err))
	}
	return cancelled, nil
}

func (r *PgRepository) RescheduleWithNotice(ctx context.Context, id uuid.UUID, start, end TimeOfDay, intent NotificationIntent) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, infra(fmt.Errorf("begin reschedule: %w", err))
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_min = $2,
		    end_min = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		RETURNING `+appointmentCols+`
	`, id, int(start), int(end))

	moved, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	if err := insertIntent(ctx, tx, intent); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, infra(fmt.Errorf("commit reschedule: %w", err))
	}
	return moved, nil
}

func (r *PgRepository) DeleteWindowCascade(ctx context.Context, practitionerID uuid.UUID, day time.Time, start, end TimeOfDay, noticeReason string) ([]Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, infra(fmt.Errorf("begin window cascade: %w", err))
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM availability_windows
		WHERE practitioner_id = $1 AND day = $2 AND start_min = $3 AND end_min = $4
	`, practitionerID, Day(day), int(start), int(end))
	if err != nil {
		return nil, infra(fmt.Errorf("delete window: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrWindowNotFound
	}

	rows, err := tx.Query(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    updated_at = now()
		WHERE practitioner_id = $1
		  AND day = $2
		  AND start_min >= $3
		  AND start_min < $4
		  AND status IN ('scheduled', 'completed')
		RETURNING `+appointmentCols+`
	`, practitionerID, Day(day), int(start), int(end))
	if err != nil {
		return nil, infra(fmt.Errorf("cancel contained appointments: %w", err))
	}

	cancelled, err := collectAppointments(rows)
	if err != nil {
		return nil, err
	}

	for _, a := range cancelled {
		if err := insertIntent(ctx, tx, newIntent(a, NoticeCancelled, noticeReason)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, infra(fmt.Errorf("commit window cascade: %w", err))
	}
	return cancelled, nil
}

func insertIntent(ctx context.Context, tx pgx.Tx, intent NotificationIntent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO notification_outbox (patient_id, appointment_id, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, intent.PatientID, intent.AppointmentID, intent.Kind, intent.Payload)
	if err != nil {
		return infra(fmt.Errorf("insert notification intent: %w", err))
	}
	return nil
}

// Notification outbox

func (r *PgRepository) ListUndispatchedIntents(ctx context.Context, limit int) ([]NotificationIntent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, appointment_id, kind, payload, created_at, dispatched_at
		FROM notification_outbox
		WHERE dispatched_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, infra(err)
	}
	defer rows.Close()

	var result []NotificationIntent
	for rows.Next() {
		var in NotificationIntent
		if err := rows.Scan(&in.ID, &in.PatientID, &in.AppointmentID, &in.Kind, &in.Payload, &in.CreatedAt, &in.DispatchedAt); err != nil {
			return nil, infra(err)
		}
		result = append(result, in)
	}
	return result, infra(rows.Err())
}

func (r *PgRepository) MarkIntentDispatched(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_outbox
		SET dispatched_at = now()
		WHERE id = $1 AND dispatched_at IS NULL
	`, id)
	return infra(err)
}
