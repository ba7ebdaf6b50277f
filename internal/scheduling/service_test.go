package scheduling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory Repository for service tests. CreateBooking
// mirrors the transactional contract: on any failure nothing is stored.
type memRepo struct {
	patients     map[uuid.UUID]*Patient
	providers    map[uuid.UUID]*Provider
	templates    map[uuid.UUID]map[int]AvailabilityTemplate
	appointments map[uuid.UUID]*Appointment
	invoices     map[uuid.UUID]*Invoice // keyed by appointment ID

	failInvoice    bool // simulate invoice insert failure mid-transaction
	createBookings int  // CreateBooking call count
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:     make(map[uuid.UUID]*Patient),
		providers:    make(map[uuid.UUID]*Provider),
		templates:    make(map[uuid.UUID]map[int]AvailabilityTemplate),
		appointments: make(map[uuid.UUID]*Appointment),
		invoices:     make(map[uuid.UUID]*Invoice),
	}
}

func (m *memRepo) addPatient() uuid.UUID {
	id := uuid.New()
	m.patients[id] = &Patient{ID: id, Name: "patient"}
	return id
}

func (m *memRepo) addProvider() uuid.UUID {
	id := uuid.New()
	m.providers[id] = &Provider{ID: id, Name: "provider"}
	return id
}

func (m *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (m *memRepo) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

func (m *memRepo) UpsertWeeklyTemplate(_ context.Context, providerID uuid.UUID, entries []AvailabilityTemplate) error {
	week := make(map[int]AvailabilityTemplate, len(entries))
	for _, e := range entries {
		week[e.DayOfWeek] = e
	}
	m.templates[providerID] = week
	return nil
}

func (m *memRepo) GetWeeklyTemplate(_ context.Context, providerID uuid.UUID) ([]AvailabilityTemplate, error) {
	var out []AvailabilityTemplate
	for dow := 0; dow <= 6; dow++ {
		if t, ok := m.templates[providerID][dow]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memRepo) GetTemplateForDay(_ context.Context, providerID uuid.UUID, dayOfWeek int) (*AvailabilityTemplate, error) {
	t, ok := m.templates[providerID][dayOfWeek]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memRepo) activeAt(providerID uuid.UUID, date time.Time, t TimeOfDay) bool {
	for _, a := range m.appointments {
		if a.ProviderID == providerID && a.SlotDate.Equal(date) && a.SlotTime == t && a.Status.Active() {
			return true
		}
	}
	return false
}

func (m *memRepo) ListBookedTimes(_ context.Context, providerID uuid.UUID, date time.Time) (map[TimeOfDay]struct{}, error) {
	booked := make(map[TimeOfDay]struct{})
	for _, a := range m.appointments {
		if a.ProviderID == providerID && a.SlotDate.Equal(date) && a.Status.Active() {
			booked[a.SlotTime] = struct{}{}
		}
	}
	return booked, nil
}

func (m *memRepo) HasActiveAppointment(_ context.Context, providerID uuid.UUID, date time.Time, t TimeOfDay) (bool, error) {
	return m.activeAt(providerID, date, t), nil
}

func (m *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	var out []Appointment
	for _, a := range m.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) ListAppointmentsByProvider(_ context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	var out []Appointment
	for _, a := range m.appointments {
		if a.ProviderID == providerID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) GetInvoiceByAppointment(_ context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	inv, ok := m.invoices[appointmentID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return inv, nil
}

func (m *memRepo) CreateBooking(_ context.Context, appt *Appointment, inv *Invoice) error {
	m.createBookings++
	if m.activeAt(appt.ProviderID, appt.SlotDate, appt.SlotTime) {
		return ErrSlotUnavailable
	}
	if m.failInvoice {
		// Invoice insert failed: the transaction rolls back and the
		// appointment must not persist either.
		return fmt.Errorf("insert invoice: boom")
	}
	now := time.Now()
	appt.CreatedAt, appt.UpdatedAt = now, now
	inv.CreatedAt, inv.UpdatedAt = now, now
	stored := *appt
	m.appointments[appt.ID] = &stored
	storedInv := *inv
	m.invoices[appt.ID] = &storedInv
	return nil
}

func (m *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	a, ok := m.appointments[id]
	if !ok || !statusIn(a.Status, from) {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	copied := *a
	return &copied, nil
}

func (m *memRepo) RescheduleAppointment(_ context.Context, id uuid.UUID, date time.Time, t TimeOfDay, expectCount int) (*Appointment, error) {
	a, ok := m.appointments[id]
	if !ok || a.Status.Terminal() || a.RescheduleCount != expectCount {
		return nil, ErrAppointmentNotFound
	}
	a.SlotDate = NormalizeDate(date)
	a.SlotTime = t
	a.Status = StatusConfirmed
	a.RescheduleCount++
	a.UpdatedAt = time.Now()
	copied := *a
	return &copied, nil
}

type recordingNotifier struct {
	events []Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return nil
}

type recordingAudit struct {
	entries []string
}

func (r *recordingAudit) RecordActivity(_ context.Context, activityType, message string, _ uuid.UUID) error {
	r.entries = append(r.entries, activityType+": "+message)
	return nil
}

type fixture struct {
	svc      *Service
	repo     *memRepo
	notifier *recordingNotifier
	audit    *recordingAudit
	patient  uuid.UUID
	provider uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemRepo()
	notifier := &recordingNotifier{}
	audit := &recordingAudit{}
	return &fixture{
		svc:      NewService(repo, nil, notifier, audit, nil),
		repo:     repo,
		notifier: notifier,
		audit:    audit,
		patient:  repo.addPatient(),
		provider: repo.addProvider(),
	}
}

func (f *fixture) bookingRequest() BookingRequest {
	return BookingRequest{
		PatientID:   f.patient,
		ProviderID:  f.provider,
		Date:        "2025-03-01",
		Time:        "10:00",
		DurationMin: 30,
		Type:        "General",
	}
}

func TestBookCreatesAppointmentAndInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	booking, err := f.svc.Book(ctx, f.bookingRequest())
	require.NoError(t, err)

	appt := booking.Appointment
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, "2025-03-01", FormatDate(appt.SlotDate))
	assert.Equal(t, NewTimeOfDay(10, 0), appt.SlotTime)
	assert.Equal(t, 0, appt.RescheduleCount)

	inv := booking.Invoice
	assert.Equal(t, appt.ID, inv.AppointmentID)
	assert.Equal(t, 50, inv.Amount)
	assert.Equal(t, InvoicePending, inv.Status)
	assert.Equal(t, "2025-02-26", FormatDate(inv.DueDate))

	// Both parties notified about the appointment, patient about the
	// invoice, one audit entry.
	require.Len(t, f.notifier.events, 3)
	assert.Equal(t, EventAppointmentBooked, f.notifier.events[0].Type)
	assert.Equal(t, f.patient, f.notifier.events[0].RecipientID)
	assert.Equal(t, f.provider, f.notifier.events[1].RecipientID)
	assert.Equal(t, EventInvoiceCreated, f.notifier.events[2].Type)
	assert.Len(t, f.audit.entries, 1)
}

func TestBookNormalizesDateAndTime(t *testing.T) {
	f := newFixture(t)

	req := f.bookingRequest()
	req.Date = "2025-03-01T08:30:00Z"
	req.Time = "10:00:45"

	booking, err := f.svc.Book(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", FormatDate(booking.Appointment.SlotDate))
	assert.Equal(t, NewTimeOfDay(10, 0), booking.Appointment.SlotTime)
}

func TestBookFeeDerivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		apptType string
		time     string
		amount   int
	}{
		{"Urgent Specialist Follow-up", "09:00", 100},
		{"Follow-up", "09:30", 30},
		{"General", "10:30", 50},
	}
	for _, c := range cases {
		req := f.bookingRequest()
		req.Type = c.apptType
		req.Time = c.time
		booking, err := f.svc.Book(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, c.amount, booking.Invoice.Amount, "type %q", c.apptType)
	}
}

func TestBookFailsFastOnValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := []BookingRequest{
		{ProviderID: f.provider, Date: "2025-03-01", Time: "10:00", DurationMin: 30, Type: "General"},
		{PatientID: f.patient, Date: "2025-03-01", Time: "10:00", DurationMin: 30, Type: "General"},
		func() BookingRequest { r := f.bookingRequest(); r.Type = "  "; return r }(),
		func() BookingRequest { r := f.bookingRequest(); r.DurationMin = 0; return r }(),
		func() BookingRequest { r := f.bookingRequest(); r.Date = "bad"; return r }(),
		func() BookingRequest { r := f.bookingRequest(); r.Time = "25:00"; return r }(),
	}

	for _, req := range bad {
		_, err := f.svc.Book(ctx, req)
		assert.True(t, IsValidation(err), "request %+v", req)
	}
	assert.Zero(t, f.repo.createBookings, "validation failures must not reach the store")
}

func TestBookUnknownParties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.bookingRequest()
	req.PatientID = uuid.New()
	_, err := f.svc.Book(ctx, req)
	assert.ErrorIs(t, err, ErrPatientNotFound)

	req = f.bookingRequest()
	req.ProviderID = uuid.New()
	_, err = f.svc.Book(ctx, req)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestBookSlotConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.bookingRequest())
	require.NoError(t, err)

	second := f.repo.addPatient()
	req := f.bookingRequest()
	req.PatientID = second
	_, err = f.svc.Book(ctx, req)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookAtomicityOnInvoiceFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.failInvoice = true

	_, err := f.svc.Book(context.Background(), f.bookingRequest())
	require.Error(t, err)

	assert.Empty(t, f.repo.appointments, "no appointment row may survive a failed invoice insert")
	assert.Empty(t, f.repo.invoices)
	assert.Empty(t, f.notifier.events, "no notifications for a rolled-back booking")
}

func TestCancelledSlotBecomesRebookable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	booking, err := f.svc.Book(ctx, f.bookingRequest())
	require.NoError(t, err)

	second := f.repo.addPatient()
	req := f.bookingRequest()
	req.PatientID = second
	_, err = f.svc.Book(ctx, req)
	require.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = f.svc.Cancel(ctx, Actor{UserID: f.patient, Role: RolePatient}, booking.Appointment.ID)
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, req)
	assert.NoError(t, err, "cancelled appointments free their slot")
}

func TestLifecycleRoleGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	booking, err := f.svc.Book(ctx, f.bookingRequest())
	require.NoError(t, err)
	id := booking.Appointment.ID

	patient := Actor{UserID: f.patient, Role: RolePatient}
	provider := Actor{UserID: f.provider, Role: RoleProvider}

	_, err = f.svc.Confirm(ctx, patient, id)
	assert.ErrorIs(t, err, ErrRoleNotAllowed)
	_, err = f.svc.Reject(ctx, patient, id)
	assert.ErrorIs(t, err, ErrRoleNotAllowed)
	_, err = f.svc.Complete(ctx, patient, id)
	assert.ErrorIs(t, err, ErrRoleNotAllowed)

	appt, err := f.svc.Confirm(ctx, provider, id)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)

	// Reject only applies while still scheduled.
	_, err = f.svc.Reject(ctx, provider, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	appt, err = f.svc.Complete(ctx, provider, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, appt.Status)

	// Terminal states stay terminal.
	_, err = f.svc.Cancel(ctx, patient, id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRescheduleFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := Actor{UserID: f.patient, Role: RolePatient}
	provider := Actor{UserID: f.provider, Role: RoleProvider}

	booking, err := f.svc.Book(ctx, f.bookingRequest())
	require.NoError(t, err)
	id := booking.Appointment.ID

	_, err = f.svc.Confirm(ctx, provider, id)
	require.NoError(t, err)

	appt, err := f.svc.Reschedule(ctx, patient, id, "2025-03-05", "11:00")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, 1, appt.RescheduleCount)
	assert.Equal(t, "2025-03-05", FormatDate(appt.SlotDate))
	assert.Equal(t, NewTimeOfDay(11, 0), appt.SlotTime)

	// The old slot is free again.
	other := f.repo.addPatient()
	req := f.bookingRequest()
	req.PatientID = other
	_, err = f.svc.Book(ctx, req)
	assert.NoError(t, err)

	// A second patient-initiated reschedule fails even though the
	// target slot is free.
	_, err = f.svc.Reschedule(ctx, patient, id, "2025-03-06", "09:00")
	assert.ErrorIs(t, err, ErrRescheduleLimit)

	// Providers are not capped.
	appt, err = f.svc.Reschedule(ctx, provider, id, "2025-03-06", "09:00")
	require.NoError(t, err)
	assert.Equal(t, 2, appt.RescheduleCount)
}

func TestRescheduleIntoOccupiedSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := Actor{UserID: f.patient, Role: RolePatient}

	first, err := f.svc.Book(ctx, f.bookingRequest())
	require.NoError(t, err)

	other := f.repo.addPatient()
	req := f.bookingRequest()
	req.PatientID = other
	req.Time = "11:00"
	_, err = f.svc.Book(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, patient, first.Appointment.ID, "2025-03-01", "11:00")
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestRescheduleTerminalAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := Actor{UserID: f.patient, Role: RolePatient}

	booking, err := f.svc.Book(ctx, f.bookingRequest())
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, patient, booking.Appointment.ID)
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, patient, booking.Appointment.ID, "2025-03-05", "11:00")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateStatusNeverTouchesRescheduleCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := Actor{UserID: uuid.New(), Role: RoleAdmin}

	booking, err := f.svc.Book(ctx, f.bookingRequest())
	require.NoError(t, err)
	id := booking.Appointment.ID

	appt, err := f.svc.UpdateStatus(ctx, admin, id, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, 0, appt.RescheduleCount)

	_, err = f.svc.UpdateStatus(ctx, admin, id, "archived")
	assert.True(t, IsValidation(err))
}

func TestSetWeeklyTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := Actor{UserID: f.provider, Role: RoleProvider}

	entries := []AvailabilityTemplate{
		{DayOfWeek: 1, StartTime: NewTimeOfDay(9, 0), EndTime: NewTimeOfDay(17, 0), CapacityPerHour: 4, Active: true},
		{DayOfWeek: 2, StartTime: NewTimeOfDay(10, 0), EndTime: NewTimeOfDay(16, 0), CapacityPerHour: 2, Active: true},
	}
	require.NoError(t, f.svc.SetWeeklyTemplate(ctx, owner, f.provider, entries))

	week, err := f.svc.GetWeeklyTemplate(ctx, f.provider)
	require.NoError(t, err)
	assert.Len(t, week, 2)

	// Only the owning provider or an admin may edit.
	stranger := Actor{UserID: uuid.New(), Role: RoleProvider}
	assert.ErrorIs(t, f.svc.SetWeeklyTemplate(ctx, stranger, f.provider, entries), ErrRoleNotAllowed)
	patient := Actor{UserID: f.patient, Role: RolePatient}
	assert.ErrorIs(t, f.svc.SetWeeklyTemplate(ctx, patient, f.provider, entries), ErrRoleNotAllowed)
	admin := Actor{UserID: uuid.New(), Role: RoleAdmin}
	assert.NoError(t, f.svc.SetWeeklyTemplate(ctx, admin, f.provider, entries))

	// Duplicate days and invalid rows are rejected wholesale.
	dup := append(entries, entries[0])
	assert.True(t, IsValidation(f.svc.SetWeeklyTemplate(ctx, owner, f.provider, dup)))

	bad := []AvailabilityTemplate{{DayOfWeek: 1, StartTime: NewTimeOfDay(17, 0), EndTime: NewTimeOfDay(9, 0), CapacityPerHour: 4, Active: true}}
	assert.True(t, IsValidation(f.svc.SetWeeklyTemplate(ctx, owner, f.provider, bad)))
}

func TestAvailableSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := Actor{UserID: f.provider, Role: RoleProvider}

	// 2025-03-03 is a Monday.
	entries := []AvailabilityTemplate{
		{DayOfWeek: 1, StartTime: NewTimeOfDay(9, 0), EndTime: NewTimeOfDay(17, 0), CapacityPerHour: 4, Active: true},
	}
	require.NoError(t, f.svc.SetWeeklyTemplate(ctx, owner, f.provider, entries))

	req := f.bookingRequest()
	req.Date = "2025-03-03"
	_, err := f.svc.Book(ctx, req)
	require.NoError(t, err)

	slots, err := f.svc.AvailableSlots(ctx, f.provider, "2025-03-03")
	require.NoError(t, err)
	require.Len(t, slots, 32)

	available := 0
	for _, s := range slots {
		if s.Available {
			available++
		} else {
			assert.Equal(t, NewTimeOfDay(10, 0), s.Time)
		}
	}
	assert.Equal(t, 31, available)

	// No template row for Sundays: empty list, not an error.
	slots, err = f.svc.AvailableSlots(ctx, f.provider, "2025-03-02")
	require.NoError(t, err)
	assert.Empty(t, slots)
}
