package email

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	gomail "gopkg.in/gomail.v2"
)

type Service interface {
	SendOneTimeCode(ctx context.Context, to string, code string) error
}

// SMTPConfig configures the gomail sender. When Host is empty the no-op
// service is used instead.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type smtpService struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPService(cfg SMTPConfig) Service {
	return &smtpService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
	}
}

func (s *smtpService) SendOneTimeCode(ctx context.Context, to string, code string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "Your check-in verification code")
	m.SetBody("text/plain", fmt.Sprintf("Your verification code is %s. It expires in 10 minutes.", code))

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send verification code: %w", err)
	}
	return nil
}

// NoopService logs instead of sending; the delivery transport is a stub
// outside configured environments.
type NoopService struct{}

func NewNoopService() Service {
	return NoopService{}
}

func (NoopService) SendOneTimeCode(ctx context.Context, to string, code string) error {
	log.Info().Str("to", to).Msg("credential delivery disabled, skipping send")
	return nil
}
