package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/intake-api/internal/model"
	"github.com/jwalitptl/intake-api/pkg/auth"
	"github.com/jwalitptl/intake-api/pkg/errors"
)

type fakePatientRepo struct {
	patients map[string]*model.Patient
}

func (f *fakePatientRepo) Create(ctx context.Context, p *model.Patient) error { return nil }

func (f *fakePatientRepo) GetByAcctNo(ctx context.Context, acctNo string) (*model.Patient, error) {
	p, ok := f.patients[acctNo]
	if !ok {
		return nil, errors.NotFound("patient", nil)
	}
	return p, nil
}

func (f *fakePatientRepo) Update(ctx context.Context, p *model.Patient) error { return nil }

func (f *fakePatientRepo) List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error) {
	return nil, nil
}

type captureEmail struct {
	to    string
	codes []string
}

func (c *captureEmail) SendOneTimeCode(ctx context.Context, to, code string) error {
	c.to = to
	c.codes = append(c.codes, code)
	return nil
}

type fixture struct {
	svc   *Service
	email *captureEmail
	jwt   auth.JWTService
	mr    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := &fakePatientRepo{patients: map[string]*model.Patient{
		"A100": {
			AcctNo:       "A100",
			PersonalInfo: model.PersonalInfo{Email: "jane@example.com"},
		},
		"A200": {
			AcctNo: "A200",
		},
	}}

	emailSvc := &captureEmail{}
	jwtSvc := auth.NewJWTService("test-secret", time.Hour)
	return &fixture{
		svc:   NewService(client, repo, emailSvc, jwtSvc),
		email: emailSvc,
		jwt:   jwtSvc,
		mr:    mr,
	}
}

func TestIssueAndVerify(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.svc.Issue(ctx, "A100"))
	assert.Equal(t, "jane@example.com", fx.email.to)
	require.Len(t, fx.email.codes, 1)
	assert.Len(t, fx.email.codes[0], codeLength)

	token, err := fx.svc.Verify(ctx, "A100", fx.email.codes[0])
	require.NoError(t, err)

	claims, err := fx.jwt.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "A100", claims.AcctNo)
}

func TestVerifyWrongCode(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.svc.Issue(ctx, "A100"))

	_, err := fx.svc.Verify(ctx, "A100", "000000")
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrUnauthorized, appErr.Code)
}

func TestVerifyWithoutIssue(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.Verify(context.Background(), "A100", "123456")

	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrUnauthorized, appErr.Code)
}

func TestVerifyExpiredCode(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.svc.Issue(ctx, "A100"))
	fx.mr.FastForward(codeExpiry + time.Second)

	_, err := fx.svc.Verify(ctx, "A100", fx.email.codes[0])
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrUnauthorized, appErr.Code)
}

func TestVerifiedCodeCannotReplay(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.svc.Issue(ctx, "A100"))
	_, err := fx.svc.Verify(ctx, "A100", fx.email.codes[0])
	require.NoError(t, err)

	_, err = fx.svc.Verify(ctx, "A100", fx.email.codes[0])
	require.Error(t, err)
}

func TestIssueThrottled(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.svc.Issue(ctx, "A100"))

	err := fx.svc.Issue(ctx, "A100")
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrPrecondition, appErr.Code)
	assert.Len(t, fx.email.codes, 1)
}

func TestIssueRequiresEmailOnFile(t *testing.T) {
	fx := newFixture(t)

	err := fx.svc.Issue(context.Background(), "A200")

	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrPrecondition, appErr.Code)
}

func TestIssueUnknownAccount(t *testing.T) {
	fx := newFixture(t)

	err := fx.svc.Issue(context.Background(), "A404")

	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.ErrNotFound, appErr.Code)
}
