package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medisched/booking-engine/internal/observability/metrics"
	redisclient "github.com/medisched/booking-engine/internal/redis"
)

// Service is the booking engine entry point: availability management,
// the slot read path, the booking orchestrator and the appointment
// lifecycle.
type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	audit    AuditSink
	metrics  *metrics.BookingMetrics
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, audit AuditSink, m *metrics.BookingMetrics) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		audit:    audit,
		metrics:  m,
	}
}

// BookingRequest carries raw booking input; the service owns
// normalization of date and time.
type BookingRequest struct {
	PatientID   uuid.UUID
	ProviderID  uuid.UUID
	Date        string // YYYY-MM-DD, time suffix tolerated
	Time        string // HH:MM, seconds tolerated
	DurationMin int
	Type        string
	Notes       string
}

func slotKey(providerID uuid.UUID, date time.Time, t TimeOfDay) string {
	return fmt.Sprintf("%s:%s:%s", providerID, FormatDate(date), t)
}

// withSlotLock serializes concurrent bookers for the same slot. The
// lock is advisory; the storage constraint decides conflicts even when
// the locker is absent.
func (s *Service) withSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithBookingLock(ctx, key, fn)
}

// Book runs the booking workflow: validate, reserve the slot, create
// the appointment and its invoice in one transaction, then emit
// notifications for both parties.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Booking, error) {
	start := time.Now()

	if req.PatientID == uuid.Nil {
		return nil, &ValidationError{Field: "patient_id", Reason: "required"}
	}
	if req.ProviderID == uuid.Nil {
		return nil, &ValidationError{Field: "provider_id", Reason: "required"}
	}
	if strings.TrimSpace(req.Type) == "" {
		return nil, &ValidationError{Field: "type", Reason: "appointment type is required"}
	}
	if req.DurationMin <= 0 {
		return nil, &ValidationError{Field: "duration_min", Reason: "must be positive"}
	}

	date, err := ParseDate(req.Date)
	if err != nil {
		return nil, err
	}
	tod, err := ParseTimeOfDay(req.Time)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.repo.GetProviderByID(ctx, req.ProviderID); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	appt := &Appointment{
		ID:          uuid.New(),
		PatientID:   req.PatientID,
		ProviderID:  req.ProviderID,
		SlotDate:    date,
		SlotTime:    tod,
		DurationMin: req.DurationMin,
		Type:        req.Type,
		Status:      StatusScheduled,
		Notes:       req.Notes,
	}
	inv := &Invoice{
		ID:            uuid.New(),
		PatientID:     req.PatientID,
		AppointmentID: appt.ID,
		Amount:        FeeForType(req.Type),
		Status:        InvoicePending,
		DueDate:       InvoiceDueDate(date),
		Description:   fmt.Sprintf("%s appointment on %s at %s", req.Type, FormatDate(date), tod),
	}

	err = s.withSlotLock(ctx, slotKey(req.ProviderID, date, tod), func(lockCtx context.Context) error {
		return s.repo.CreateBooking(lockCtx, appt, inv)
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotBeingBooked
		}
		if errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ErrSlotBeingBooked) {
			s.metrics.ObserveConflict()
			s.metrics.ObserveBooking("conflict", time.Since(start).Seconds())
			return nil, err
		}
		s.metrics.ObserveBooking("error", time.Since(start).Seconds())
		return nil, err
	}
	s.metrics.ObserveBooking("booked", time.Since(start).Seconds())

	payload := map[string]any{
		"appointment_id": appt.ID.String(),
		"date":           FormatDate(date),
		"time":           string(tod),
		"type":           req.Type,
	}
	s.emit(ctx, Event{Type: EventAppointmentBooked, RecipientID: appt.PatientID, Payload: payload})
	s.emit(ctx, Event{Type: EventAppointmentBooked, RecipientID: appt.ProviderID, Payload: payload})
	s.emit(ctx, Event{Type: EventInvoiceCreated, RecipientID: appt.PatientID, Payload: map[string]any{
		"invoice_id":     inv.ID.String(),
		"appointment_id": appt.ID.String(),
		"amount":         inv.Amount,
		"due_date":       FormatDate(inv.DueDate),
	}})
	s.recordActivity(ctx, EventAppointmentBooked,
		fmt.Sprintf("appointment booked for %s at %s", FormatDate(date), tod), appt.ID)

	return &Booking{Appointment: appt, Invoice: inv}, nil
}

// Confirm moves a scheduled appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.applyTransition(ctx, actor, id, EventConfirm)
}

// Reject is the provider declining a scheduled appointment.
func (s *Service) Reject(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.applyTransition(ctx, actor, id, EventReject)
}

// Cancel frees the slot; any party may cancel a non-terminal appointment.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.applyTransition(ctx, actor, id, EventCancel)
}

// Complete marks a confirmed appointment as done.
func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.applyTransition(ctx, actor, id, EventComplete)
}

func (s *Service) applyTransition(ctx context.Context, actor Actor, id uuid.UUID, ev LifecycleEvent) (*Appointment, error) {
	rule := transitions[ev]
	if !roleAllowed(rule, actor.Role) {
		return nil, ErrRoleNotAllowed
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !statusIn(appt.Status, rule.from) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, rule.from, rule.to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Status changed between read and compare-and-swap.
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("apply %s: %w", ev, err)
	}

	eventType := eventTypeFor(ev)
	payload := map[string]any{
		"appointment_id": updated.ID.String(),
		"date":           FormatDate(updated.SlotDate),
		"time":           string(updated.SlotTime),
		"by_role":        string(actor.Role),
	}
	s.emit(ctx, Event{Type: eventType, RecipientID: updated.PatientID, Payload: payload})
	s.emit(ctx, Event{Type: eventType, RecipientID: updated.ProviderID, Payload: payload})
	s.recordActivity(ctx, eventType,
		fmt.Sprintf("appointment %s by %s", rule.to, actor.Role), updated.ID)

	return updated, nil
}

func eventTypeFor(ev LifecycleEvent) string {
	switch ev {
	case EventConfirm:
		return EventAppointmentConfirmed
	case EventReject:
		return EventAppointmentRejected
	case EventCancel:
		return EventAppointmentCancelled
	case EventComplete:
		return EventAppointmentCompleted
	}
	return "APPOINTMENT_UPDATED"
}

// Reschedule moves an active appointment to a new slot. Patients get a
// single reschedule per appointment; providers and admins are not
// limited. On success the appointment is confirmed and the counter
// incremented regardless of who initiated.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, newDate, newTime string) (*Appointment, error) {
	date, err := ParseDate(newDate)
	if err != nil {
		return nil, err
	}
	tod, err := ParseTimeOfDay(newTime)
	if err != nil {
		return nil, err
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status.Terminal() {
		return nil, ErrInvalidTransition
	}
	if actor.Role == RolePatient && appt.RescheduleCount >= patientRescheduleLimit {
		s.metrics.ObserveReschedule(string(actor.Role), "limit")
		return nil, ErrRescheduleLimit
	}

	oldDate, oldTime := appt.SlotDate, appt.SlotTime
	sameSlot := date.Equal(oldDate) && tod == oldTime

	var updated *Appointment
	err = s.withSlotLock(ctx, slotKey(appt.ProviderID, date, tod), func(lockCtx context.Context) error {
		// A same-slot reschedule never conflicts with itself.
		if !sameSlot {
			taken, err := s.repo.HasActiveAppointment(lockCtx, appt.ProviderID, date, tod)
			if err != nil {
				return fmt.Errorf("check slot: %w", err)
			}
			if taken {
				return ErrSlotUnavailable
			}
		}

		var err error
		updated, err = s.repo.RescheduleAppointment(lockCtx, id, date, tod, appt.RescheduleCount)
		if errors.Is(err, ErrAppointmentNotFound) {
			// The appointment was rescheduled or closed between read
			// and update.
			return ErrInvalidTransition
		}
		return err
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotBeingBooked
		}
		outcome := "error"
		if errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ErrSlotBeingBooked) {
			outcome = "conflict"
		}
		s.metrics.ObserveReschedule(string(actor.Role), outcome)
		return nil, err
	}
	s.metrics.ObserveReschedule(string(actor.Role), "ok")

	payload := map[string]any{
		"appointment_id": updated.ID.String(),
		"old_date":       FormatDate(oldDate),
		"old_time":       string(oldTime),
		"new_date":       FormatDate(updated.SlotDate),
		"new_time":       string(updated.SlotTime),
		"by_role":        string(actor.Role),
	}
	s.emit(ctx, Event{Type: EventAppointmentRescheduled, RecipientID: updated.PatientID, Payload: payload})
	s.emit(ctx, Event{Type: EventAppointmentRescheduled, RecipientID: updated.ProviderID, Payload: payload})
	s.recordActivity(ctx, EventAppointmentRescheduled,
		fmt.Sprintf("appointment moved from %s %s to %s %s by %s",
			FormatDate(oldDate), oldTime, FormatDate(updated.SlotDate), updated.SlotTime, actor.Role),
		updated.ID)

	return updated, nil
}

// UpdateStatus is the generic administrative status update. It never
// touches the reschedule counter.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, allStatuses, status)
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, "APPOINTMENT_STATUS_UPDATED",
		fmt.Sprintf("status set to %s by %s", status, actor.Role), updated.ID)
	return updated, nil
}

// SetWeeklyTemplate replaces a provider's recurring availability.
// Only the provider themselves or an admin may edit it.
func (s *Service) SetWeeklyTemplate(ctx context.Context, actor Actor, providerID uuid.UUID, entries []AvailabilityTemplate) error {
	if !(actor.Role == RoleAdmin || (actor.Role == RoleProvider && actor.UserID == providerID)) {
		return ErrRoleNotAllowed
	}

	if _, err := s.repo.GetProviderByID(ctx, providerID); err != nil {
		return err
	}

	seen := make(map[int]bool, len(entries))
	for i := range entries {
		e := &entries[i]
		e.ProviderID = providerID
		if seen[e.DayOfWeek] {
			return &ValidationError{Field: "day_of_week", Reason: fmt.Sprintf("duplicate entry for day %d", e.DayOfWeek)}
		}
		seen[e.DayOfWeek] = true
		if err := e.Validate(); err != nil {
			return err
		}
	}

	return s.repo.UpsertWeeklyTemplate(ctx, providerID, entries)
}

func (s *Service) GetWeeklyTemplate(ctx context.Context, providerID uuid.UUID) ([]AvailabilityTemplate, error) {
	return s.repo.GetWeeklyTemplate(ctx, providerID)
}

// AvailableSlots is the advisory read path: the weekly template for the
// date's day-of-week minus currently booked times. Past dates still
// generate; date validity is the caller's concern. The orchestrator
// re-validates at write time regardless of what this returned.
func (s *Service) AvailableSlots(ctx context.Context, providerID uuid.UUID, dateStr string) ([]Slot, error) {
	date, err := ParseDate(dateStr)
	if err != nil {
		return nil, err
	}

	tpl, err := s.repo.GetTemplateForDay(ctx, providerID, int(date.Weekday()))
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	if tpl == nil {
		return []Slot{}, nil
	}

	booked, err := s.repo.ListBookedTimes(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("load booked times: %w", err)
	}

	return GenerateSlots(tpl, booked), nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) GetInvoiceForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	return s.repo.GetInvoiceByAppointment(ctx, appointmentID)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListAppointmentsByProvider(ctx, providerID, limit, offset)
}

func (s *Service) emit(ctx context.Context, ev Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		log.Printf("notify %s failed for recipient %s: %v", ev.Type, ev.RecipientID, err)
	}
}

func (s *Service) recordActivity(ctx context.Context, activityType, message string, appointmentID uuid.UUID) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordActivity(ctx, activityType, message, appointmentID); err != nil {
		log.Printf("record activity %s for appointment %s: %v", activityType, appointmentID, err)
	}
}
