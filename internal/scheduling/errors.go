package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvoiceNotFound     = errors.New("invoice not found")

	// ErrSlotUnavailable means the target (provider, date, time) already
	// has an active appointment. Raised by the fast-path check and by the
	// storage uniqueness constraint; callers see the same error either way.
	ErrSlotUnavailable = errors.New("slot already has an active appointment")

	// ErrSlotBeingBooked means another booker currently holds the
	// advisory lock for the slot; the request can simply be retried.
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")

	ErrRescheduleLimit   = errors.New("patient reschedule limit reached")
	ErrRoleNotAllowed    = errors.New("role not allowed for this operation")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError marks malformed input detected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
