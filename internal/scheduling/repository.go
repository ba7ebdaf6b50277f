package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)

	// Weekly availability. UpsertWeeklyTemplate replaces the provider's
	// template as a diff in one transaction: rows for submitted days are
	// upserted, rows for omitted days are removed.
	UpsertWeeklyTemplate(ctx context.Context, providerID uuid.UUID, entries []AvailabilityTemplate) error
	GetWeeklyTemplate(ctx context.Context, providerID uuid.UUID) ([]AvailabilityTemplate, error)
	// GetTemplateForDay returns (nil, nil) when the provider has no row
	// for that day; an empty day is not an error.
	GetTemplateForDay(ctx context.Context, providerID uuid.UUID, dayOfWeek int) (*AvailabilityTemplate, error)

	// Booked-slot read model for the generator and guard fast path.
	ListBookedTimes(ctx context.Context, providerID uuid.UUID, date time.Time) (map[TimeOfDay]struct{}, error)
	HasActiveAppointment(ctx context.Context, providerID uuid.UUID, date time.Time, t TimeOfDay) (bool, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error)
	GetInvoiceByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error)

	// CreateBooking inserts the appointment and its invoice atomically.
	// A slot conflict surfaces as ErrSlotUnavailable; on any error
	// nothing is persisted.
	CreateBooking(ctx context.Context, appt *Appointment, inv *Invoice) error

	// UpdateAppointmentStatus is a compare-and-swap: the row moves to
	// `to` only if its current status is in `from`, otherwise
	// ErrAppointmentNotFound.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error)

	// RescheduleAppointment moves an active appointment to a new slot,
	// sets status confirmed and increments reschedule_count. The update
	// only applies while reschedule_count still equals expectCount, so
	// concurrent reschedules cannot both increment once.
	RescheduleAppointment(ctx context.Context, id uuid.UUID, date time.Time, t TimeOfDay, expectCount int) (*Appointment, error)
}
