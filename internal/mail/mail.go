package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
)

// Sender dispatches one message to one address. Delivery transport is an
// external capability; implementations must not retry.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig carries the relay settings for the SMTP sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends mail through a plain-auth SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender constructs a sender from relay settings.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("mail: smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("mail: smtp port is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("mail: from address is required")
	}
	return &SMTPSender{cfg: cfg}, nil
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// Message is one recorded outbound mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Recorder captures messages in memory. Used by tests and by the API when
// no SMTP relay is configured.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	fail     error
}

func NewRecorder() *Recorder { return &Recorder{} }

// FailWith makes every subsequent Send return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *Recorder) Send(ctx context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.messages = append(r.messages, Message{To: to, Subject: subject, Body: body})
	return nil
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
