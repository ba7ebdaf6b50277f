package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// activeSlotConstraint is the partial unique index enforcing the
// no-double-booking invariant at the storage level.
const activeSlotConstraint = "appointments_active_slot_key"

const activeStatusFilter = `status NOT IN ('rejected', 'cancelled')`

// DB is the subset of pgxpool.Pool the repository needs. pgxmock
// satisfies it in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Name, &p.Specialty, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanTemplate(row pgx.Row) (*AvailabilityTemplate, error) {
	var t AvailabilityTemplate
	err := row.Scan(
		&t.ID,
		&t.ProviderID,
		&t.DayOfWeek,
		&t.StartTime,
		&t.EndTime,
		&t.BreakStart,
		&t.BreakEnd,
		&t.CapacityPerHour,
		&t.Active,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.SlotDate,
		&a.SlotTime,
		&a.DurationMin,
		&a.Type,
		&a.Status,
		&a.Notes,
		&a.RescheduleCount,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.SlotDate = NormalizeDate(a.SlotDate)
	return &a, nil
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID,
		&inv.PatientID,
		&inv.AppointmentID,
		&inv.Amount,
		&inv.Status,
		&inv.DueDate,
		&inv.Description,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func isActiveSlotConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == "23505" &&
		pgErr.ConstraintName == activeSlotConstraint
}

const appointmentColumns = `id, patient_id, provider_id, slot_date, slot_time, duration_min, appointment_type, status, notes, reschedule_count, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) UpsertWeeklyTemplate(ctx context.Context, providerID uuid.UUID, entries []AvailabilityTemplate) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin template tx: %w", err)
	}
	defer tx.Rollback(ctx)

	days := make([]int, 0, len(entries))
	for _, e := range entries {
		days = append(days, e.DayOfWeek)

		_, err := tx.Exec(ctx, `
			INSERT INTO availability_templates
				(id, provider_id, day_of_week, start_time, end_time, break_start, break_end, capacity_per_hour, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
			ON CONFLICT (provider_id, day_of_week) DO UPDATE SET
				start_time        = EXCLUDED.start_time,
				end_time          = EXCLUDED.end_time,
				break_start       = EXCLUDED.break_start,
				break_end         = EXCLUDED.break_end,
				capacity_per_hour = EXCLUDED.capacity_per_hour,
				active            = EXCLUDED.active,
				updated_at        = now()
		`, uuid.New(), providerID, e.DayOfWeek, e.StartTime, e.EndTime, e.BreakStart, e.BreakEnd, e.CapacityPerHour, e.Active)
		if err != nil {
			return fmt.Errorf("upsert template day %d: %w", e.DayOfWeek, err)
		}
	}

	// Days omitted from the new template are removed; there is never a
	// window where the provider has zero rows for a still-offered day.
	_, err = tx.Exec(ctx, `
		DELETE FROM availability_templates
		WHERE provider_id = $1
		  AND NOT (day_of_week = ANY($2))
	`, providerID, days)
	if err != nil {
		return fmt.Errorf("prune template days: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit template tx: %w", err)
	}
	return nil
}

const templateColumns = `id, provider_id, day_of_week, start_time, end_time, break_start, break_end, capacity_per_hour, active, created_at, updated_at`

func (r *PgRepository) GetWeeklyTemplate(ctx context.Context, providerID uuid.UUID) ([]AvailabilityTemplate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+templateColumns+`
		FROM availability_templates
		WHERE provider_id = $1
		ORDER BY day_of_week
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetTemplateForDay(ctx context.Context, providerID uuid.UUID, dayOfWeek int) (*AvailabilityTemplate, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM availability_templates
		WHERE provider_id = $1 AND day_of_week = $2
	`, providerID, dayOfWeek)

	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *PgRepository) ListBookedTimes(ctx context.Context, providerID uuid.UUID, date time.Time) (map[TimeOfDay]struct{}, error) {
	rows, err := r.db.Query(ctx, `
		SELECT slot_time
		FROM appointments
		WHERE provider_id = $1
		  AND slot_date = $2
		  AND `+activeStatusFilter+`
	`, providerID, NormalizeDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	booked := make(map[TimeOfDay]struct{})
	for rows.Next() {
		var t TimeOfDay
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		booked[t] = struct{}{}
	}
	return booked, rows.Err()
}

func (r *PgRepository) HasActiveAppointment(ctx context.Context, providerID uuid.UUID, date time.Time, t TimeOfDay) (bool, error) {
	var taken bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE provider_id = $1
			  AND slot_date = $2
			  AND slot_time = $3
			  AND `+activeStatusFilter+`
		)
	`, providerID, NormalizeDate(date), t).Scan(&taken)
	if err != nil {
		return false, err
	}
	return taken, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) listAppointments(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+column+` = $1
		ORDER BY slot_date, slot_time
		LIMIT $2 OFFSET $3
	`, id, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.listAppointments(ctx, "patient_id", patientID, limit, offset)
}

func (r *PgRepository) ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.listAppointments(ctx, "provider_id", providerID, limit, offset)
}

func (r *PgRepository) GetInvoiceByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, patient_id, appointment_id, amount, status, due_date, description, created_at, updated_at
		FROM invoices
		WHERE appointment_id = $1
	`, appointmentID)
	return scanInvoice(row)
}

func (r *PgRepository) CreateBooking(ctx context.Context, appt *Appointment, inv *Invoice) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin booking tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Fast-path check inside the transaction. The partial unique index
	// remains the authority if a concurrent booker slips past it.
	var taken bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE provider_id = $1
			  AND slot_date = $2
			  AND slot_time = $3
			  AND `+activeStatusFilter+`
		)
	`, appt.ProviderID, appt.SlotDate, appt.SlotTime).Scan(&taken)
	if err != nil {
		return fmt.Errorf("check slot: %w", err)
	}
	if taken {
		return ErrSlotUnavailable
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, provider_id, slot_date, slot_time, duration_min, appointment_type, status, notes, reschedule_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, now(), now())
		RETURNING created_at, updated_at
	`, appt.ID, appt.PatientID, appt.ProviderID, appt.SlotDate, appt.SlotTime,
		appt.DurationMin, appt.Type, appt.Status, appt.Notes).
		Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		if isActiveSlotConflict(err) {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO invoices
			(id, patient_id, appointment_id, amount, status, due_date, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`, inv.ID, inv.PatientID, inv.AppointmentID, inv.Amount, inv.Status, inv.DueDate, inv.Description).
		Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit booking tx: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentColumns+`
	`, id, to, statusStrings(from))
	return scanAppointment(row)
}

func (r *PgRepository) RescheduleAppointment(ctx context.Context, id uuid.UUID, date time.Time, t TimeOfDay, expectCount int) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET slot_date = $2,
		    slot_time = $3,
		    status = 'confirmed',
		    reschedule_count = reschedule_count + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('scheduled', 'confirmed')
		  AND reschedule_count = $4
		RETURNING `+appointmentColumns+`
	`, id, NormalizeDate(date), t, expectCount)

	appt, err := scanAppointment(row)
	if err != nil {
		if isActiveSlotConflict(err) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}
	return appt, nil
}
