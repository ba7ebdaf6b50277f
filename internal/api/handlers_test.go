package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisched/booking-engine/internal/scheduling"
)

// stubService lets each test pin the error or value a handler sees.
type stubService struct {
	booking *scheduling.Booking
	appt    *scheduling.Appointment
	invoice *scheduling.Invoice
	slots   []scheduling.Slot
	week    []scheduling.AvailabilityTemplate
	list    []scheduling.Appointment
	err     error

	lastActor scheduling.Actor
	lastLimit int
}

func (s *stubService) Book(_ context.Context, _ scheduling.BookingRequest) (*scheduling.Booking, error) {
	return s.booking, s.err
}

func (s *stubService) transition(actor scheduling.Actor) (*scheduling.Appointment, error) {
	s.lastActor = actor
	return s.appt, s.err
}

func (s *stubService) Confirm(_ context.Context, actor scheduling.Actor, _ uuid.UUID) (*scheduling.Appointment, error) {
	return s.transition(actor)
}

func (s *stubService) Reject(_ context.Context, actor scheduling.Actor, _ uuid.UUID) (*scheduling.Appointment, error) {
	return s.transition(actor)
}

func (s *stubService) Cancel(_ context.Context, actor scheduling.Actor, _ uuid.UUID) (*scheduling.Appointment, error) {
	return s.transition(actor)
}

func (s *stubService) Complete(_ context.Context, actor scheduling.Actor, _ uuid.UUID) (*scheduling.Appointment, error) {
	return s.transition(actor)
}

func (s *stubService) Reschedule(_ context.Context, actor scheduling.Actor, _ uuid.UUID, _, _ string) (*scheduling.Appointment, error) {
	return s.transition(actor)
}

func (s *stubService) UpdateStatus(_ context.Context, actor scheduling.Actor, _ uuid.UUID, _ scheduling.AppointmentStatus) (*scheduling.Appointment, error) {
	return s.transition(actor)
}

func (s *stubService) SetWeeklyTemplate(_ context.Context, actor scheduling.Actor, _ uuid.UUID, _ []scheduling.AvailabilityTemplate) error {
	s.lastActor = actor
	return s.err
}

func (s *stubService) GetWeeklyTemplate(_ context.Context, _ uuid.UUID) ([]scheduling.AvailabilityTemplate, error) {
	return s.week, s.err
}

func (s *stubService) AvailableSlots(_ context.Context, _ uuid.UUID, _ string) ([]scheduling.Slot, error) {
	return s.slots, s.err
}

func (s *stubService) GetAppointment(_ context.Context, _ uuid.UUID) (*scheduling.Appointment, error) {
	return s.appt, s.err
}

func (s *stubService) GetInvoiceForAppointment(_ context.Context, _ uuid.UUID) (*scheduling.Invoice, error) {
	return s.invoice, s.err
}

func (s *stubService) ListAppointmentsByPatient(_ context.Context, _ uuid.UUID, limit, _ int) ([]scheduling.Appointment, error) {
	s.lastLimit = limit
	return s.list, s.err
}

func (s *stubService) ListAppointmentsByProvider(_ context.Context, _ uuid.UUID, limit, _ int) ([]scheduling.Appointment, error) {
	s.lastLimit = limit
	return s.list, s.err
}

func testAppointment() *scheduling.Appointment {
	return &scheduling.Appointment{
		ID:          uuid.New(),
		PatientID:   uuid.New(),
		ProviderID:  uuid.New(),
		SlotDate:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		SlotTime:    scheduling.NewTimeOfDay(10, 0),
		DurationMin: 30,
		Type:        "General",
		Status:      scheduling.StatusScheduled,
	}
}

func newTestServer(svc BookingService) http.Handler {
	return NewRouter(RouterConfig{Service: svc, Env: "test", Version: "test"})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func actorHeaders(role string) map[string]string {
	return map[string]string{
		"X-User-ID":   uuid.NewString(),
		"X-User-Role": role,
	}
}

func TestBookAppointmentCreated(t *testing.T) {
	appt := testAppointment()
	svc := &stubService{booking: &scheduling.Booking{
		Appointment: appt,
		Invoice: &scheduling.Invoice{
			ID:            uuid.New(),
			PatientID:     appt.PatientID,
			AppointmentID: appt.ID,
			Amount:        50,
			Status:        scheduling.InvoicePending,
			DueDate:       time.Date(2025, 2, 26, 0, 0, 0, 0, time.UTC),
		},
	}}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID:   appt.PatientID.String(),
		ProviderID:  appt.ProviderID.String(),
		Date:        "2025-03-01",
		Time:        "10:00",
		DurationMin: 30,
		Type:        "General",
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, appt.ID, resp.Appointment.ID)
	assert.Equal(t, "2025-03-01", resp.Appointment.Date)
	assert.Equal(t, "10:00", resp.Appointment.Time)
	assert.Equal(t, 50, resp.Invoice.Amount)
	assert.Equal(t, "2025-02-26", resp.Invoice.DueDate)
}

func TestBookAppointmentBadIDs(t *testing.T) {
	h := newTestServer(&stubService{})

	rec := doJSON(t, h, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID:  "not-a-uuid",
		ProviderID: uuid.NewString(),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/appointments", BookAppointmentRequest{
		PatientID:  uuid.NewString(),
		ProviderID: "nope",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServiceErrorMapping(t *testing.T) {
	appt := testAppointment()
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &scheduling.ValidationError{Field: "time", Reason: "bad"}, http.StatusBadRequest},
		{"patient missing", scheduling.ErrPatientNotFound, http.StatusNotFound},
		{"appointment missing", scheduling.ErrAppointmentNotFound, http.StatusNotFound},
		{"slot taken", scheduling.ErrSlotUnavailable, http.StatusConflict},
		{"slot locked", scheduling.ErrSlotBeingBooked, http.StatusConflict},
		{"bad transition", scheduling.ErrInvalidTransition, http.StatusConflict},
		{"reschedule cap", scheduling.ErrRescheduleLimit, http.StatusForbidden},
		{"wrong role", scheduling.ErrRoleNotAllowed, http.StatusForbidden},
		{"unknown", assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestServer(&stubService{err: tc.err})
			rec := doJSON(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule",
				RescheduleRequest{Date: "2025-03-05", Time: "11:00"}, actorHeaders("patient"))
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestTransitionRequiresActor(t *testing.T) {
	appt := testAppointment()
	h := newTestServer(&stubService{appt: appt})

	rec := doJSON(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/confirm", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/confirm", nil, actorHeaders("provider"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestActorHeadersParsed(t *testing.T) {
	appt := testAppointment()
	svc := &stubService{appt: appt}
	h := newTestServer(svc)

	userID := uuid.New()
	rec := doJSON(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil, map[string]string{
		"X-User-ID":   userID.String(),
		"X-User-Role": "admin",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, svc.lastActor.UserID)
	assert.Equal(t, scheduling.RoleAdmin, svc.lastActor.Role)
}

func TestActorHeaderValidation(t *testing.T) {
	appt := testAppointment()
	h := newTestServer(&stubService{appt: appt})

	rec := doJSON(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil, map[string]string{
		"X-User-ID":   "garbage",
		"X-User-Role": "patient",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil, map[string]string{
		"X-User-ID":   uuid.NewString(),
		"X-User-Role": "nurse",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransitionBadUUID(t *testing.T) {
	h := newTestServer(&stubService{})
	rec := doJSON(t, h, http.MethodPost, "/appointments/abc/confirm", nil, actorHeaders("provider"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatusEndpoint(t *testing.T) {
	appt := testAppointment()
	appt.Status = scheduling.StatusConfirmed
	svc := &stubService{appt: appt}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodPatch, "/appointments/"+appt.ID.String()+"/status",
		UpdateStatusRequest{Status: "confirmed"}, actorHeaders("admin"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "confirmed", resp.Status)
}

func TestGetAppointmentAndInvoice(t *testing.T) {
	appt := testAppointment()
	svc := &stubService{
		appt: appt,
		invoice: &scheduling.Invoice{
			ID:            uuid.New(),
			AppointmentID: appt.ID,
			Amount:        80,
			Status:        scheduling.InvoicePending,
			DueDate:       time.Date(2025, 2, 26, 0, 0, 0, 0, time.UTC),
		},
	}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodGet, "/appointments/"+appt.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/appointments/"+appt.ID.String()+"/invoice", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var inv InvoiceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	assert.Equal(t, 80, inv.Amount)
}

func TestListAppointmentsRequiresFilter(t *testing.T) {
	svc := &stubService{list: []scheduling.Appointment{*testAppointment()}}
	h := newTestServer(svc)

	rec := doJSON(t, h, http.MethodGet, "/appointments", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/appointments?patient_id="+uuid.NewString(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out []AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 1)

	rec = doJSON(t, h, http.MethodGet, "/appointments?provider_id="+uuid.NewString()+"&limit=5", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.lastLimit)
}

func TestSetTemplateEndpoint(t *testing.T) {
	svc := &stubService{}
	h := newTestServer(svc)
	providerID := uuid.New()

	body := SetTemplateRequest{Entries: []TemplateEntry{
		{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00", CapacityPerHour: 4},
	}}

	rec := doJSON(t, h, http.MethodPut, "/providers/"+providerID.String()+"/availability", body, actorHeaders("provider"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Unparseable times are rejected before the service sees them.
	bad := SetTemplateRequest{Entries: []TemplateEntry{
		{DayOfWeek: 1, StartTime: "late", EndTime: "17:00", CapacityPerHour: 4},
	}}
	rec = doJSON(t, h, http.MethodPut, "/providers/"+providerID.String()+"/availability", bad, actorHeaders("provider"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/providers/"+providerID.String()+"/availability", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetSlotsEndpoint(t *testing.T) {
	svc := &stubService{slots: []scheduling.Slot{
		{Time: scheduling.NewTimeOfDay(9, 0), Available: true},
		{Time: scheduling.NewTimeOfDay(9, 15), Available: false},
	}}
	h := newTestServer(svc)
	providerID := uuid.New()

	rec := doJSON(t, h, http.MethodGet, "/providers/"+providerID.String()+"/slots?date=2025-03-03", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var slots []scheduling.Slot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slots))
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Available)
	assert.False(t, slots[1].Available)

	rec = doJSON(t, h, http.MethodGet, "/providers/"+providerID.String()+"/slots", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	h := newTestServer(&stubService{slots: []scheduling.Slot{}})

	rec := doJSON(t, h, http.MethodGet, "/providers/"+uuid.NewString()+"/slots?date=2025-03-03", nil, map[string]string{
		"X-Request-ID": "req-42",
	})
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = doJSON(t, h, http.MethodGet, "/providers/"+uuid.NewString()+"/slots?date=2025-03-03", nil, nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), "a request ID is generated when the client sends none")
}
