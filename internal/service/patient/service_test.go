package patient

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/intake-api/internal/model"
	"github.com/jwalitptl/intake-api/internal/service/audit"
	"github.com/jwalitptl/intake-api/pkg/errors"
)

type fakePatientRepo struct {
	patients map[string]*model.Patient
	// conflictOnce makes the next Create fail with a uniqueness conflict,
	// simulating a lost find-or-create race; insertAfterConflict is the row
	// the concurrent winner left behind.
	conflictOnce        bool
	insertAfterConflict *model.Patient
	updates             int
}

func newFakePatientRepo() *fakePatientRepo {
	return &fakePatientRepo{patients: map[string]*model.Patient{}}
}

func (f *fakePatientRepo) Create(ctx context.Context, p *model.Patient) error {
	if f.conflictOnce {
		f.conflictOnce = false
		if f.insertAfterConflict != nil {
			f.patients[f.insertAfterConflict.AcctNo] = f.insertAfterConflict
		}
		return errors.Conflict("account number already exists", nil)
	}
	if _, ok := f.patients[p.AcctNo]; ok {
		return errors.Conflict("account number already exists", nil)
	}
	cp := *p
	f.patients[p.AcctNo] = &cp
	return nil
}

func (f *fakePatientRepo) GetByAcctNo(ctx context.Context, acctNo string) (*model.Patient, error) {
	p, ok := f.patients[acctNo]
	if !ok {
		return nil, errors.NotFound("patient", nil)
	}
	cp := *p
	return &cp, nil
}

func (f *fakePatientRepo) Update(ctx context.Context, p *model.Patient) error {
	f.updates++
	cp := *p
	f.patients[p.AcctNo] = &cp
	return nil
}

func (f *fakePatientRepo) List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error) {
	var out []*model.Patient
	for _, p := range f.patients {
		out = append(out, p)
	}
	return out, nil
}

type fakeAuditRepo struct{}

func (fakeAuditRepo) Create(ctx context.Context, log *model.AuditLog) error { return nil }
func (fakeAuditRepo) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
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

func newService(repo *fakePatientRepo) *Service {
	return NewService(repo, &fakeOutboxRepo{}, audit.NewService(fakeAuditRepo{}))
}

func facts(acctNo, encounterID string) *model.Appointment {
	return &model.Appointment{
		AcctNo:      acctNo,
		EncounterID: encounterID,
		PersonalInfo: model.PersonalInfo{
			FirstName: "Jane",
			LastName:  "Doe",
		},
	}
}

func TestReconcileCreatesNewPatient(t *testing.T) {
	repo := newFakePatientRepo()
	svc := newService(repo)

	p, err := svc.Reconcile(context.Background(), facts("A100", "E200"))

	require.NoError(t, err)
	assert.Equal(t, "A100", p.AcctNo)
	assert.Equal(t, "Jane", p.PersonalInfo.FirstName)
	assert.Contains(t, []string(p.Appointments), "E200")
}

func TestReconcileRequiresAcctNo(t *testing.T) {
	svc := newService(newFakePatientRepo())

	_, err := svc.Reconcile(context.Background(), facts("", "E200"))

	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrValidation, appErr.Code)
}

func TestReconcileFillsOnlyEmptyFields(t *testing.T) {
	repo := newFakePatientRepo()
	svc := newService(repo)

	_, err := svc.Reconcile(context.Background(), facts("A100", "E200"))
	require.NoError(t, err)

	next := facts("A100", "E201")
	next.PersonalInfo.FirstName = "Janet"
	next.PersonalInfo.Email = "jane@example.com"

	p, err := svc.Reconcile(context.Background(), next)

	require.NoError(t, err)
	assert.Equal(t, "Jane", p.PersonalInfo.FirstName, "populated field must survive")
	assert.Equal(t, "jane@example.com", p.PersonalInfo.Email, "empty field must fill")
	assert.ElementsMatch(t, []string{"E200", "E201"}, []string(p.Appointments))
}

func TestReconcileIdempotentForSameEncounter(t *testing.T) {
	repo := newFakePatientRepo()
	svc := newService(repo)

	_, err := svc.Reconcile(context.Background(), facts("A100", "E200"))
	require.NoError(t, err)
	updatesAfterCreate := repo.updates

	p, err := svc.Reconcile(context.Background(), facts("A100", "E200"))

	require.NoError(t, err)
	assert.Len(t, []string(p.Appointments), 1)
	assert.Equal(t, updatesAfterCreate, repo.updates, "no-change reconcile must not write")
}

func TestReconcileSurvivesCreateRace(t *testing.T) {
	repo := newFakePatientRepo()
	svc := newService(repo)

	// The repo reports not-found, then conflicts on create, as if a
	// concurrent import inserted the row in between. The service must
	// re-read the winner and fold into it.
	repo.conflictOnce = true
	repo.insertAfterConflict = &model.Patient{
		AcctNo:       "A100",
		PersonalInfo: model.PersonalInfo{FirstName: "Existing"},
	}

	p, err := svc.Reconcile(context.Background(), facts("A100", "E200"))

	require.NoError(t, err)
	assert.Equal(t, "Existing", p.PersonalInfo.FirstName)
	assert.Contains(t, []string(p.Appointments), "E200")
}

func TestDetachAppointment(t *testing.T) {
	repo := newFakePatientRepo()
	svc := newService(repo)

	_, err := svc.Reconcile(context.Background(), facts("A100", "E200"))
	require.NoError(t, err)
	_, err = svc.Reconcile(context.Background(), facts("A100", "E201"))
	require.NoError(t, err)

	require.NoError(t, svc.DetachAppointment(context.Background(), "A100", "E200"))

	p, err := svc.GetPatient(context.Background(), "A100")
	require.NoError(t, err)
	assert.Equal(t, []string{"E201"}, []string(p.Appointments))
}

func TestDetachAppointmentUnknownEncounterIsNoop(t *testing.T) {
	repo := newFakePatientRepo()
	svc := newService(repo)

	_, err := svc.Reconcile(context.Background(), facts("A100", "E200"))
	require.NoError(t, err)
	updates := repo.updates

	require.NoError(t, svc.DetachAppointment(context.Background(), "A100", "E999"))
	assert.Equal(t, updates, repo.updates)
}
