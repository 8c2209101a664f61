package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"univote.org/internal/election"
	"univote.org/internal/ids"
	"univote.org/internal/mail"
	"univote.org/internal/obs"
	"univote.org/internal/session"
)

const (
	defaultCooldown   = time.Hour
	defaultExpiry     = 10 * time.Minute
	defaultSessionTTL = time.Hour

	mailSubject = "Your voting passcode"
)

var (
	// ErrInvalidCode means no stored record matches the submitted email/code pair.
	ErrInvalidCode = errors.New("otp: invalid code")
	// ErrExpired means the matching record is past its expiry timestamp.
	ErrExpired = errors.New("otp: code has expired")
	// ErrRateLimited means an OTP was issued for this email inside the cooldown window.
	ErrRateLimited = errors.New("otp: rate limited")
	// ErrVoterLookup means no matric could be resolved for a verified code.
	ErrVoterLookup = errors.New("otp: could not resolve voter")
	// ErrDeliveryFailed means the code was persisted but the mail dispatch failed.
	ErrDeliveryFailed = errors.New("otp: delivery failed")
)

// RateLimitedError carries the remaining cooldown wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("otp: rate limited, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// Credential is the outcome of a successful verification.
type Credential struct {
	Token     string
	ExpiresAt time.Time
	Email     string
	Matric    string
}

// Service issues and verifies one-time passcodes. Issuance is gated by the
// roster and a per-email cooldown; verification consumes the record and
// mints a session credential.
type Service struct {
	store  election.Store
	sender mail.Sender

	cooldown   time.Duration
	expiry     time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithCooldown overrides the issuance cooldown window.
func WithCooldown(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithExpiry overrides the passcode lifetime.
func WithExpiry(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithSessionTTL overrides the lifetime of issued session credentials.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service with optional configuration.
func NewService(store election.Store, sender mail.Sender, opts ...Option) *Service {
	svc := &Service{
		store:      store,
		sender:     sender,
		cooldown:   defaultCooldown,
		expiry:     defaultExpiry,
		sessionTTL: defaultSessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Issue generates and dispatches a passcode for the voter identified by
// matric. Preconditions run in order: roster membership, voted flag,
// cooldown. The record is persisted before dispatch; a delivery failure
// leaves it usable and surfaces ErrDeliveryFailed.
func (s *Service) Issue(ctx context.Context, email, matric string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	matric = strings.TrimSpace(matric)
	if email == "" || matric == "" {
		return fmt.Errorf("otp: email and matric are required")
	}

	voter, err := s.store.FindVoter(ctx, matric)
	if err != nil {
		return err
	}
	if voter.HasVoted {
		return election.ErrAlreadyVoted
	}

	last, err := s.store.LatestOTP(ctx, email)
	switch {
	case err == nil:
		since := s.now().Sub(last.CreatedAt)
		if since < s.cooldown {
			return &RateLimitedError{RetryAfter: s.cooldown - since}
		}
	case errors.Is(err, election.ErrNotFound):
		// First request for this email.
	default:
		return fmt.Errorf("check cooldown: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	now := s.now().UTC()
	rec := &election.OTPRecord{
		ID:        ids.New(),
		Email:     email,
		Matric:    matric,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.expiry),
	}
	if err := s.store.CreateOTP(ctx, rec); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	body := fmt.Sprintf(
		"Your one time passcode is: %s. It expires in %d minutes; after that you must wait %s before requesting another one.",
		code, int(s.expiry.Minutes()), s.cooldown,
	)
	if err := s.sender.Send(ctx, email, mailSubject, body); err != nil {
		// The persisted record stays usable; the code is unguessable
		// without delivery, so this is not a correctness violation.
		obs.Error("otp mail dispatch failed", map[string]any{"email": email, "error": err.Error()})
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// Verify validates a submitted passcode and mints a session credential.
// The record is single-use: deletion happens before issuance, best-effort.
func (s *Service) Verify(ctx context.Context, email, code string) (Credential, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return Credential{}, ErrInvalidCode
	}

	rec, err := s.store.FindOTP(ctx, email, code)
	if errors.Is(err, election.ErrNotFound) {
		return Credential{}, ErrInvalidCode
	}
	if err != nil {
		return Credential{}, fmt.Errorf("find otp: %w", err)
	}
	if s.now().After(rec.ExpiresAt) {
		return Credential{}, ErrExpired
	}

	matric := strings.TrimSpace(rec.Matric)
	if matric == "" {
		voter, err := s.store.FindVoterByEmail(ctx, email)
		if err != nil {
			return Credential{}, ErrVoterLookup
		}
		matric = voter.Matric
	}

	// Best-effort single-use cleanup. A stale row is harmless: the code is
	// now known only to the legitimate requester and the cooldown still
	// blocks re-issuance.
	if err := s.store.DeleteOTP(ctx, rec.ID); err != nil {
		obs.Error("otp cleanup failed", map[string]any{"otp_id": rec.ID, "error": err.Error()})
	}

	token, err := session.GenerateVoter(email, matric, s.sessionTTL)
	if err != nil {
		return Credential{}, fmt.Errorf("issue credential: %w", err)
	}
	return Credential{
		Token:     token,
		ExpiresAt: s.now().UTC().Add(s.sessionTTL),
		Email:     email,
		Matric:    matric,
	}, nil
}

// SessionTTL reports the configured credential lifetime (cookie Max-Age).
func (s *Service) SessionTTL() time.Duration { return s.sessionTTL }

// generateCode draws a uniformly random 6-digit code in [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
