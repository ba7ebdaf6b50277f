package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppointmentStatus is the lifecycle state of a booking. Rejected and
// cancelled appointments no longer count against slot availability.
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusRejected  AppointmentStatus = "rejected"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// allStatuses is the closed set accepted by the generic status update.
var allStatuses = []AppointmentStatus{
	StatusScheduled,
	StatusConfirmed,
	StatusRejected,
	StatusCancelled,
	StatusCompleted,
}

func ParseStatus(s string) (AppointmentStatus, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

// Terminal reports whether no further lifecycle transitions apply.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

// Active reports whether the appointment holds its slot.
func (s AppointmentStatus) Active() bool {
	return s != StatusRejected && s != StatusCancelled
}

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoiceApproved  InvoiceStatus = "approved"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// Role is the already-authenticated caller role. Authentication itself
// happens upstream; the engine only enforces transition guards.
type Role string

const (
	RolePatient  Role = "patient"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleProvider, RoleAdmin:
		return Role(s), nil
	}
	return "", &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", s)}
}

// Actor identifies who is driving a lifecycle transition.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AvailabilityTemplate is one recurring weekly availability row,
// keyed by (provider, day-of-week).
type AvailabilityTemplate struct {
	ID              uuid.UUID
	ProviderID      uuid.UUID
	DayOfWeek       int // 0 = Sunday .. 6 = Saturday
	StartTime       TimeOfDay
	EndTime         TimeOfDay
	BreakStart      *TimeOfDay
	BreakEnd        *TimeOfDay
	CapacityPerHour int
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate checks the template row invariants before it is persisted.
func (t *AvailabilityTemplate) Validate() error {
	if t.DayOfWeek < 0 || t.DayOfWeek > 6 {
		return &ValidationError{Field: "day_of_week", Reason: "must be between 0 and 6"}
	}
	if t.CapacityPerHour < 1 {
		return &ValidationError{Field: "capacity_per_hour", Reason: "must be at least 1"}
	}
	if t.StartTime.Minutes() >= t.EndTime.Minutes() {
		return &ValidationError{Field: "start_time", Reason: "start_time must be before end_time"}
	}
	if (t.BreakStart == nil) != (t.BreakEnd == nil) {
		return &ValidationError{Field: "break_start", Reason: "break_start and break_end must be set together"}
	}
	if t.BreakStart != nil {
		bs, be := t.BreakStart.Minutes(), t.BreakEnd.Minutes()
		if bs >= be {
			return &ValidationError{Field: "break_start", Reason: "break_start must be before break_end"}
		}
		if bs < t.StartTime.Minutes() || be > t.EndTime.Minutes() {
			return &ValidationError{Field: "break_start", Reason: "break must fall within working hours"}
		}
	}
	return nil
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	ProviderID      uuid.UUID
	SlotDate        time.Time // calendar date, provider-local
	SlotTime        TimeOfDay
	DurationMin     int
	Type            string
	Status          AppointmentStatus
	Notes           string
	RescheduleCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Invoice struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	AppointmentID uuid.UUID
	Amount        int
	Status        InvoiceStatus
	DueDate       time.Time
	Description   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Booking is the result of a successful booking request.
type Booking struct {
	Appointment *Appointment
	Invoice     *Invoice
}
