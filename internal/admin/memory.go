package admin

import (
	"context"
	"strings"
	"sync"
	"time"

	"univote.org/internal/ids"
)

// MemoryStore implements Store in memory for tests and DSN-less runs.
type MemoryStore struct {
	mu     sync.Mutex
	admins map[string]*Admin
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{admins: make(map[string]*Admin)}
}

// Add registers an active admin with a bcrypt-hashed password and returns
// its id.
func (s *MemoryStore) Add(email, name, password string) (string, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return "", err
	}
	adm := &Admin{
		ID:           ids.New(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         name,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[adm.ID] = adm
	return adm.ID, nil
}

// SetActive flips the membership flag; used to exercise demotion.
func (s *MemoryStore) SetActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if adm, ok := s.admins[id]; ok {
		adm.Active = active
	}
}

func (s *MemoryStore) Find(ctx context.Context, id string) (*Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	adm, ok := s.admins[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *adm
	return &copied, nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, adm := range s.admins {
		if adm.Email == email {
			copied := *adm
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}
