package appointment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/intake-api/internal/model"
	"github.com/jwalitptl/intake-api/internal/service/audit"
	"github.com/jwalitptl/intake-api/internal/storage"
	"github.com/jwalitptl/intake-api/pkg/errors"
	"github.com/jwalitptl/intake-api/pkg/metrics"
)

type fakeApptRepo struct {
	byEncounter map[string]*model.Appointment
}

func newFakeApptRepo() *fakeApptRepo {
	return &fakeApptRepo{byEncounter: map[string]*model.Appointment{}}
}

func (f *fakeApptRepo) Create(ctx context.Context, a *model.Appointment) error {
	cp := *a
	f.byEncounter[a.EncounterID] = &cp
	return nil
}

func (f *fakeApptRepo) GetByEncounterID(ctx context.Context, id string) (*model.Appointment, error) {
	a, ok := f.byEncounter[id]
	if !ok {
		return nil, errors.NotFound("appointment", nil)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeApptRepo) ExistsEncounterID(ctx context.Context, id string) (bool, error) {
	_, ok := f.byEncounter[id]
	return ok, nil
}

func (f *fakeApptRepo) Update(ctx context.Context, a *model.Appointment) error {
	cp := *a
	f.byEncounter[a.EncounterID] = &cp
	return nil
}

func (f *fakeApptRepo) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	var out []*model.Appointment
	for _, a := range f.byEncounter {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeApptRepo) DeleteByFileID(ctx context.Context, fileID string) (int64, error) {
	return 0, nil
}

type fakePatientSvc struct {
	reconciled int
}

func (f *fakePatientSvc) Reconcile(ctx context.Context, facts *model.Appointment) (*model.Patient, error) {
	f.reconciled++
	return &model.Patient{AcctNo: facts.AcctNo}, nil
}

func (f *fakePatientSvc) GetPatient(ctx context.Context, acctNo string) (*model.Patient, error) {
	return nil, errors.NotFound("patient", nil)
}

func (f *fakePatientSvc) ListPatients(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error) {
	return nil, nil
}

func (f *fakePatientSvc) DetachAppointment(ctx context.Context, acctNo, encounterID string) error {
	return nil
}

type fakeOutboxRepo struct {
	events []*model.OutboxEvent
}

func (f *fakeOutboxRepo) Create(ctx context.Context, e *model.OutboxEvent) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeOutboxRepo) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeOutboxRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error {
	return nil
}

func (f *fakeOutboxRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fakeAuditRepo struct{}

func (fakeAuditRepo) Create(ctx context.Context, log *model.AuditLog) error { return nil }
func (fakeAuditRepo) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type fixture struct {
	svc   *Service
	repo  *fakeApptRepo
	blobs *storage.MemoryStore
	ptSvc *fakePatientSvc
}

func newFixture(production bool) *fixture {
	repo := newFakeApptRepo()
	blobs := storage.NewMemoryStore()
	ptSvc := &fakePatientSvc{}
	m := metrics.NewMetricsWith(prometheus.NewRegistry(), "intake", "test")
	svc := NewService(repo, ptSvc, blobs, &fakeOutboxRepo{}, audit.NewService(fakeAuditRepo{}), m, production)
	return &fixture{svc: svc, repo: repo, blobs: blobs, ptSvc: ptSvc}
}

func seedAppointment(fx *fixture, encounterID string, apptDate *time.Time) {
	fx.repo.byEncounter[encounterID] = &model.Appointment{
		EncounterID:     encounterID,
		AcctNo:          "A100",
		Source:          model.SourceTabularImport,
		AppointmentDate: apptDate,
		PersonalInfo:    model.PersonalInfo{FirstName: "Jane"},
	}
}

func today() *time.Time {
	t := time.Now()
	return &t
}

func yesterday() *time.Time {
	t := time.Now().AddDate(0, 0, -1)
	return &t
}

func TestPatchAppointmentFillsOnlyEmpty(t *testing.T) {
	fx := newFixture(false)
	seedAppointment(fx, "E200", today())

	appt, applied, err := fx.svc.PatchAppointment(context.Background(), "E200", model.JSONMap{
		"personalInfo": map[string]interface{}{
			"firstName": "Janet",
			"email":     "jane@example.com",
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "Jane", appt.PersonalInfo.FirstName, "occupied field must not change")
	assert.Equal(t, "jane@example.com", appt.PersonalInfo.Email)
	_, patched := applied["personalInfo"]
	assert.True(t, patched)
}

func TestPatchAppointmentBlockedPathsIgnored(t *testing.T) {
	fx := newFixture(false)
	seedAppointment(fx, "E200", today())

	appt, _, err := fx.svc.PatchAppointment(context.Background(), "E200", model.JSONMap{
		"encounterId": "E999",
		"acctNo":      "HACKED",
		"source":      "api",
		"visitTimes": map[string]interface{}{
			"patientDuration": 999,
		},
		"personalInfo": map[string]interface{}{"email": "ok@example.com"},
	})

	require.NoError(t, err)
	assert.Equal(t, "E200", appt.EncounterID)
	assert.Equal(t, "A100", appt.AcctNo)
	assert.Equal(t, model.SourceTabularImport, appt.Source)
	assert.Equal(t, 0, appt.VisitTimes.PatientDuration)
	assert.Equal(t, "ok@example.com", appt.PersonalInfo.Email)
}

func TestPatchAppointmentNotFound(t *testing.T) {
	fx := newFixture(false)

	_, _, err := fx.svc.PatchAppointment(context.Background(), "E404", model.JSONMap{})

	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrNotFound, appErr.Code)
}

func TestKioskCheckInStampsTime(t *testing.T) {
	fx := newFixture(false)
	seedAppointment(fx, "E200", today())

	appt, err := fx.svc.KioskCheckIn(context.Background(), "E200", model.JSONMap{})

	require.NoError(t, err)
	require.NotNil(t, appt.KioskCheckIn.CheckInTime)
	assert.WithinDuration(t, time.Now(), *appt.KioskCheckIn.CheckInTime, time.Minute)
	assert.Equal(t, 1, fx.ptSvc.reconciled)
}

func TestKioskCheckInClientTimeOverwrites(t *testing.T) {
	fx := newFixture(false)
	seedAppointment(fx, "E200", today())

	_, err := fx.svc.KioskCheckIn(context.Background(), "E200", model.JSONMap{})
	require.NoError(t, err)

	appt, err := fx.svc.KioskCheckIn(context.Background(), "E200", model.JSONMap{
		"kioskCheckIn": map[string]interface{}{
			"checkInTime": "2026-03-09T08:15:00Z",
		},
	})

	require.NoError(t, err)
	require.NotNil(t, appt.KioskCheckIn.CheckInTime)
	assert.Equal(t, 2026, appt.KioskCheckIn.CheckInTime.Year(), "check-in time is always-overwrite")
}

func TestKioskCheckInProductionRequiresSameDay(t *testing.T) {
	fx := newFixture(true)
	seedAppointment(fx, "E200", yesterday())

	_, err := fx.svc.KioskCheckIn(context.Background(), "E200", model.JSONMap{})

	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrPrecondition, appErr.Code)
}

func TestKioskCheckInProductionSameDayAllowed(t *testing.T) {
	fx := newFixture(true)
	seedAppointment(fx, "E200", today())

	_, err := fx.svc.KioskCheckIn(context.Background(), "E200", model.JSONMap{})

	assert.NoError(t, err)
}

func TestKioskCheckInOutsideProductionAnyDay(t *testing.T) {
	fx := newFixture(false)
	seedAppointment(fx, "E200", yesterday())

	_, err := fx.svc.KioskCheckIn(context.Background(), "E200", model.JSONMap{})

	assert.NoError(t, err)
}

func TestRecordEventsAppendsAndRecomputes(t *testing.T) {
	fx := newFixture(false)
	seedAppointment(fx, "E200", today())

	resp, err := fx.svc.RecordEvents(context.Background(), "E200", []model.RawEvent{
		{Label: "patient_start", Time: "2026-03-09T09:00:00Z"},
		{Label: "patient_end", Time: "2026-03-09T09:45:00Z"},
	})

	require.NoError(t, err)
	assert.Len(t, resp.RawEvents, 2)
	assert.Equal(t, 45, resp.PatientDuration)

	// A later batch recomputes over the whole log.
	resp, err = fx.svc.RecordEvents(context.Background(), "E200", []model.RawEvent{
		{Label: "doctor_start", Time: "2026-03-09T09:10:00Z"},
		{Label: "doctor_end", Time: "2026-03-09T09:30:00Z"},
	})

	require.NoError(t, err)
	assert.Len(t, resp.RawEvents, 4)
	assert.Equal(t, 45, resp.PatientDuration)
	assert.Equal(t, 20, resp.DoctorDuration)
}

func TestRecordEventsRejectsInvalidBatchWholesale(t *testing.T) {
	fx := newFixture(false)
	seedAppointment(fx, "E200", today())

	_, err := fx.svc.RecordEvents(context.Background(), "E200", []model.RawEvent{
		{Label: "patient_start", Time: "2026-03-09T09:00:00Z"},
		{Label: "coffee_break", Time: "2026-03-09T09:05:00Z"},
	})

	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrValidation, appErr.Code)

	appt, err := fx.svc.GetAppointment(context.Background(), "E200")
	require.NoError(t, err)
	assert.Empty(t, appt.VisitTimes.RawEvents, "nothing appends from a rejected batch")
}

func TestRecordEventsEmptyBatch(t *testing.T) {
	fx := newFixture(false)

	_, err := fx.svc.RecordEvents(context.Background(), "E200", nil)

	require.Error(t, err)
}

func TestAttachImages(t *testing.T) {
	fx := newFixture(false)
	seedAppointment(fx, "E200", today())

	appt, err := fx.svc.AttachImages(context.Background(), "E200", []ImageUpload{
		{Type: "photo", FileName: "face.png", ContentType: "image/png", Size: 100, Data: strings.NewReader("png-bytes")},
		{Type: "insurance", FileName: "card.jpg", ContentType: "image/jpeg", Size: 100, Data: strings.NewReader("jpg-bytes")},
	})

	require.NoError(t, err)
	require.Len(t, appt.KioskCheckIn.Images, 2)
	assert.Equal(t, "photo", appt.KioskCheckIn.Images[0].Type)
	assert.True(t, strings.HasPrefix(appt.KioskCheckIn.Images[0].URL, "memory://checkin/E200/"))
}

func TestAttachImagesRejectsUnknownPart(t *testing.T) {
	fx := newFixture(false)
	seedAppointment(fx, "E200", today())

	_, err := fx.svc.AttachImages(context.Background(), "E200", []ImageUpload{
		{Type: "selfie", FileName: "x.png", ContentType: "image/png", Size: 100, Data: strings.NewReader("x")},
	})

	require.Error(t, err)
}

func TestAttachImagesRejectsOversize(t *testing.T) {
	fx := newFixture(false)
	seedAppointment(fx, "E200", today())

	_, err := fx.svc.AttachImages(context.Background(), "E200", []ImageUpload{
		{Type: "photo", FileName: "x.png", ContentType: "image/png", Size: MaxImageSize + 1, Data: strings.NewReader("x")},
	})

	require.Error(t, err)
}

func TestAttachImagesLimitsInsuranceParts(t *testing.T) {
	fx := newFixture(false)
	seedAppointment(fx, "E200", today())

	uploads := make([]ImageUpload, 3)
	for i := range uploads {
		uploads[i] = ImageUpload{
			Type: "insurance", FileName: "c.png", ContentType: "image/png",
			Size: 10, Data: strings.NewReader("x"),
		}
	}

	_, err := fx.svc.AttachImages(context.Background(), "E200", uploads)

	require.Error(t, err)
}
