package scheduling

import (
	"context"

	"github.com/google/uuid"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentRejected    = "APPOINTMENT_REJECTED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventInvoiceCreated         = "INVOICE_CREATED"
)

// Event is a notification emitted after a lifecycle change commits.
type Event struct {
	Type        string
	RecipientID uuid.UUID
	Payload     map[string]any
}

// Notifier delivers events to patients and providers. Delivery is
// fire-and-forget from the engine's point of view: failures are logged
// and never affect a committed booking.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// AuditSink appends activity records. Failures must not block the
// booking path.
type AuditSink interface {
	RecordActivity(ctx context.Context, activityType, message string, appointmentID uuid.UUID) error
}
