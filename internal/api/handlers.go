package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	redisclient "github.com/medisched/booking-engine/internal/redis"
	"github.com/medisched/booking-engine/internal/scheduling"
)

// BookingService is the engine surface the handlers depend on.
type BookingService interface {
	Book(ctx context.Context, req scheduling.BookingRequest) (*scheduling.Booking, error)
	Confirm(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error)
	Reject(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error)
	Cancel(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error)
	Complete(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error)
	Reschedule(ctx context.Context, actor scheduling.Actor, id uuid.UUID, newDate, newTime string) (*scheduling.Appointment, error)
	UpdateStatus(ctx context.Context, actor scheduling.Actor, id uuid.UUID, status scheduling.AppointmentStatus) (*scheduling.Appointment, error)
	SetWeeklyTemplate(ctx context.Context, actor scheduling.Actor, providerID uuid.UUID, entries []scheduling.AvailabilityTemplate) error
	GetWeeklyTemplate(ctx context.Context, providerID uuid.UUID) ([]scheduling.AvailabilityTemplate, error)
	AvailableSlots(ctx context.Context, providerID uuid.UUID, date string) ([]scheduling.Slot, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	GetInvoiceForAppointment(ctx context.Context, appointmentID uuid.UUID) (*scheduling.Invoice, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]scheduling.Appointment, error)
	ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]scheduling.Appointment, error)
}

func requireActor(w http.ResponseWriter, r *http.Request) (scheduling.Actor, bool) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_identity", "X-User-ID and X-User-Role headers are required")
	}
	return actor, ok
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func bookAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		booking, err := svc.Book(r.Context(), scheduling.BookingRequest{
			PatientID:   patientID,
			ProviderID:  providerID,
			Date:        req.Date,
			Time:        req.Time,
			DurationMin: req.DurationMin,
			Type:        req.Type,
			Notes:       req.Notes,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookingResponse{
			Appointment: appointmentResponse(booking.Appointment),
			Invoice:     invoiceResponse(booking.Invoice),
		})
	}
}

func transitionHandler(apply func(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (*scheduling.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := apply(r.Context(), actor, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func rescheduleHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Reschedule(r.Context(), actor, id, req.Date, req.Time)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func updateStatusHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), actor, id, scheduling.AppointmentStatus(req.Status))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func getAppointmentHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appointmentResponse(appt))
	}
}

func getInvoiceHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		inv, err := svc.GetInvoiceForAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, invoiceResponse(inv))
	}
}

func listAppointmentsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		var (
			appts []scheduling.Appointment
			err   error
		)
		switch {
		case r.URL.Query().Get("patient_id") != "":
			patientID, perr := uuid.Parse(r.URL.Query().Get("patient_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			appts, err = svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		case r.URL.Query().Get("provider_id") != "":
			providerID, perr := uuid.Parse(r.URL.Query().Get("provider_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
				return
			}
			appts, err = svc.ListAppointmentsByProvider(r.Context(), providerID, limit, offset)
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or provider_id query parameter is required")
			return
		}
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, appointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func setTemplateHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		providerID, ok := parseIDParam(w, r, "providerID")
		if !ok {
			return
		}

		var req SetTemplateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		entries := make([]scheduling.AvailabilityTemplate, 0, len(req.Entries))
		for _, e := range req.Entries {
			tpl, err := templateFromEntry(e)
			if err != nil {
				handleServiceError(w, err)
				return
			}
			entries = append(entries, tpl)
		}

		if err := svc.SetWeeklyTemplate(r.Context(), actor, providerID, entries); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func templateFromEntry(e TemplateEntry) (scheduling.AvailabilityTemplate, error) {
	var tpl scheduling.AvailabilityTemplate
	var err error

	tpl.DayOfWeek = e.DayOfWeek
	tpl.CapacityPerHour = e.CapacityPerHour
	tpl.Active = true
	if e.Active != nil {
		tpl.Active = *e.Active
	}

	if tpl.StartTime, err = scheduling.ParseTimeOfDay(e.StartTime); err != nil {
		return tpl, err
	}
	if tpl.EndTime, err = scheduling.ParseTimeOfDay(e.EndTime); err != nil {
		return tpl, err
	}
	if e.BreakStart != nil {
		bs, err := scheduling.ParseTimeOfDay(*e.BreakStart)
		if err != nil {
			return tpl, err
		}
		tpl.BreakStart = &bs
	}
	if e.BreakEnd != nil {
		be, err := scheduling.ParseTimeOfDay(*e.BreakEnd)
		if err != nil {
			return tpl, err
		}
		tpl.BreakEnd = &be
	}
	return tpl, nil
}

func getTemplateHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseIDParam(w, r, "providerID")
		if !ok {
			return
		}

		templates, err := svc.GetWeeklyTemplate(r.Context(), providerID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SetTemplateRequest{Entries: templateEntries(templates)})
	}
}

func getSlotsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := parseIDParam(w, r, "providerID")
		if !ok {
			return
		}
		date := r.URL.Query().Get("date")
		if date == "" {
			writeError(w, http.StatusBadRequest, "missing_date", "date query parameter is required")
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), providerID, date)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, slots)
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	var ve *scheduling.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "validation_error", ve.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound),
		errors.Is(err, scheduling.ErrProviderNotFound),
		errors.Is(err, scheduling.ErrAppointmentNotFound),
		errors.Is(err, scheduling.ErrInvoiceNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, scheduling.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrRescheduleLimit):
		// A well-formed request denied by policy, not malformed input.
		writeError(w, http.StatusForbidden, "reschedule_limit_exceeded", err.Error())
	case errors.Is(err, scheduling.ErrRoleNotAllowed):
		writeError(w, http.StatusForbidden, "role_not_allowed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
