package admin

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("admin: not found")
	ErrUnauthorized = errors.New("admin: unauthorized")
)

// Admin is one entry in the admin-identity table.
type Admin struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store describes persistence operations for admin identities.
type Store interface {
	Find(ctx context.Context, id string) (*Admin, error)
	FindByEmail(ctx context.Context, email string) (*Admin, error)
}

// Service gates the results presentation path. Membership is derived, not
// cached: Authorize re-reads the admin row on every call so a deactivated
// admin loses access on the next request, not the next login.
type Service struct {
	store Store
}

// NewService constructs a Service around the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// SignIn authenticates admin credentials. Every failure collapses to
// ErrUnauthorized so callers cannot probe which part failed.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrUnauthorized
	}
	adm, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !adm.Active {
		return nil, ErrUnauthorized
	}
	if err := VerifyPassword(adm.PasswordHash, password); err != nil {
		return nil, ErrUnauthorized
	}
	return adm, nil
}

// Authorize re-resolves admin membership for a previously issued
// credential subject.
func (s *Service) Authorize(ctx context.Context, adminID string) (*Admin, error) {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return nil, ErrUnauthorized
	}
	adm, err := s.store.Find(ctx, adminID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !adm.Active {
		return nil, ErrUnauthorized
	}
	return adm, nil
}
