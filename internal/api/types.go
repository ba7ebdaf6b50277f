package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medisched/booking-engine/internal/scheduling"
)

type BookAppointmentRequest struct {
	PatientID   string `json:"patient_id"`
	ProviderID  string `json:"provider_id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	DurationMin int    `json:"duration_min"`
	Type        string `json:"type"`
	Notes       string `json:"notes,omitempty"`
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type TemplateEntry struct {
	DayOfWeek       int     `json:"day_of_week"`
	StartTime       string  `json:"start_time"`
	EndTime         string  `json:"end_time"`
	BreakStart      *string `json:"break_start,omitempty"`
	BreakEnd        *string `json:"break_end,omitempty"`
	CapacityPerHour int     `json:"capacity_per_hour"`
	Active          *bool   `json:"active,omitempty"`
}

type SetTemplateRequest struct {
	Entries []TemplateEntry `json:"entries"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	DurationMin     int       `json:"duration_min"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	RescheduleCount int       `json:"reschedule_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type InvoiceResponse struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Amount        int       `json:"amount"`
	Status        string    `json:"status"`
	DueDate       string    `json:"due_date"`
	Description   string    `json:"description,omitempty"`
}

type BookingResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Invoice     InvoiceResponse     `json:"invoice"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func appointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		ProviderID:      a.ProviderID,
		Date:            scheduling.FormatDate(a.SlotDate),
		Time:            string(a.SlotTime),
		DurationMin:     a.DurationMin,
		Type:            a.Type,
		Status:          string(a.Status),
		Notes:           a.Notes,
		RescheduleCount: a.RescheduleCount,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func invoiceResponse(inv *scheduling.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:            inv.ID,
		PatientID:     inv.PatientID,
		AppointmentID: inv.AppointmentID,
		Amount:        inv.Amount,
		Status:        string(inv.Status),
		DueDate:       scheduling.FormatDate(inv.DueDate),
		Description:   inv.Description,
	}
}

func templateEntries(templates []scheduling.AvailabilityTemplate) []TemplateEntry {
	out := make([]TemplateEntry, 0, len(templates))
	for _, t := range templates {
		e := TemplateEntry{
			DayOfWeek:       t.DayOfWeek,
			StartTime:       string(t.StartTime),
			EndTime:         string(t.EndTime),
			CapacityPerHour: t.CapacityPerHour,
		}
		active := t.Active
		e.Active = &active
		if t.BreakStart != nil {
			bs := string(*t.BreakStart)
			e.BreakStart = &bs
		}
		if t.BreakEnd != nil {
			be := string(*t.BreakEnd)
			e.BreakEnd = &be
		}
		out = append(out, e)
	}
	return out
}
