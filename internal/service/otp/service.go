package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwalitptl/intake-api/internal/email"
	"github.com/jwalitptl/intake-api/internal/repository"
	"github.com/jwalitptl/intake-api/pkg/auth"
	"github.com/jwalitptl/intake-api/pkg/errors"
)

const (
	codeLength    = 6
	codeExpiry    = 10 * time.Minute
	issueCooldown = 60 * time.Second
	keyPrefix     = "otp:"
)

type OTPServicer interface {
	Issue(ctx context.Context, acctNo string) error
	Verify(ctx context.Context, acctNo, code string) (string, error)
}

type Service struct {
	redis       *redis.Client
	patientRepo repository.PatientRepository
	emailSvc    email.Service
	jwtSvc      auth.JWTService
	throttle    *cache.Cache
}

func NewService(redisClient *redis.Client, patientRepo repository.PatientRepository,
	emailSvc email.Service, jwtSvc auth.JWTService) *Service {
	return &Service{
		redis:       redisClient,
		patientRepo: patientRepo,
		emailSvc:    emailSvc,
		jwtSvc:      jwtSvc,
		throttle:    cache.New(issueCooldown, 5*time.Minute),
	}
}

// Issue generates a one-time code for the account and delivers it to the
// patient's email on file. Reissuing supersedes any outstanding code.
func (s *Service) Issue(ctx context.Context, acctNo string) error {
	if acctNo == "" {
		return errors.Validation("account number is required", "acctNo")
	}
	if _, found := s.throttle.Get(acctNo); found {
		return errors.Precondition("code was issued recently, try again later")
	}

	patient, err := s.patientRepo.GetByAcctNo(ctx, acctNo)
	if err != nil {
		return err
	}
	if patient.PersonalInfo.Email == "" {
		return errors.Precondition("no email on file for this account")
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}

	if err := s.redis.Set(ctx, keyPrefix+acctNo, string(hash), codeExpiry).Err(); err != nil {
		return fmt.Errorf("failed to store code: %w", err)
	}

	if err := s.emailSvc.SendOneTimeCode(ctx, patient.PersonalInfo.Email, code); err != nil {
		return err
	}

	s.throttle.Set(acctNo, struct{}{}, issueCooldown)
	log.Info().Str("acct_no", acctNo).Msg("issued verification code")
	return nil
}

// Verify checks the code against the stored hash and returns a session
// token. A matching code is cleared so it cannot be replayed.
func (s *Service) Verify(ctx context.Context, acctNo, code string) (string, error) {
	if acctNo == "" || code == "" {
		return "", errors.Validation("account number and code are required", "acctNo", "code")
	}

	hash, err := s.redis.Get(ctx, keyPrefix+acctNo).Result()
	if err == redis.Nil {
		return "", errors.Unauthorized("code expired or not issued")
	}
	if err != nil {
		return "", fmt.Errorf("failed to read code: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		return "", errors.Unauthorized("invalid code")
	}

	if err := s.redis.Del(ctx, keyPrefix+acctNo).Err(); err != nil {
		log.Warn().Err(err).Str("acct_no", acctNo).Msg("failed to clear verified code")
	}

	token, err := s.jwtSvc.GenerateSessionToken(acctNo)
	if err != nil {
		return "", err
	}
	return token, nil
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeLength, n), nil
}
