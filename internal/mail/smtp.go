package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

const defaultSMTPTimeout = 30 * time.Second

// SMTPConfig carries relay settings for SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// dialAndSend is overridable for tests.
var dialAndSend = func(ctx context.Context, client *gomail.Client, msg *gomail.Msg) error {
	return client.DialAndSendWithContext(ctx, msg)
}

// dialAndClose is overridable for tests.
var dialAndClose = func(ctx context.Context, client *gomail.Client) error {
	if err := client.DialWithContext(ctx); err != nil {
		return err
	}
	return client.Close()
}

// SMTPSender delivers messages through an authenticated STARTTLS relay.
type SMTPSender struct {
	client *gomail.Client
	from   string
}

// NewSMTPSender validates cfg and prepares an SMTP client. No connection is
// opened until the first Send.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("sender address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSMandatory),
		gomail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("init smtp client: %w", err)
	}

	return &SMTPSender{
		client: client,
		from:   cfg.From,
	}, nil
}

// Send delivers msg in a single attempt.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if s == nil || s.client == nil {
		return errors.New("smtp sender is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	m, err := s.build(msg)
	if err != nil {
		return err
	}

	if err := dialAndSend(ctx, s.client, m); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}

	return nil
}

// Verify connects and authenticates against the relay once, then hangs up.
func (s *SMTPSender) Verify(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("smtp sender is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	if err := dialAndClose(ctx, s.client); err != nil {
		return fmt.Errorf("verify smtp relay: %w", err)
	}

	return nil
}

func (s *SMTPSender) build(msg Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(s.from); err != nil {
		return nil, fmt.Errorf("set sender %q: %w", s.from, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("set recipient %q: %w", msg.To, err)
	}

	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()

	if msg.Text != "" {
		m.SetBodyString(gomail.TypeTextPlain, msg.Text)
		if msg.HTML != "" {
			m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
		}
	} else {
		m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	}

	return m, nil
}
