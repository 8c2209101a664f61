package election

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"univote.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. Used by
// tests and by the API when no database DSN is configured.
type InMemory struct {
	mu         sync.Mutex
	voters     map[string]*Voter // matric -> voter
	posts      []Post
	candidates []Candidate
	otps       []OTPRecord
	ballots    map[string]Ballot // matric -> ballot
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		voters:  make(map[string]*Voter),
		ballots: make(map[string]Ballot),
	}
}

// AddVoter registers a roster entry.
func (s *InMemory) AddVoter(matric, name, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voters[matric] = &Voter{
		Matric:    matric,
		Name:      name,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		CreatedAt: time.Now().UTC(),
	}
}

// AddPost registers a post; display order follows insertion order.
func (s *InMemory) AddPost(id, name, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, Post{ID: id, Name: name, Title: title, Position: len(s.posts)})
}

// AddCandidate registers a candidate for a post.
func (s *InMemory) AddCandidate(id, postID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, Candidate{ID: id, PostID: postID, Name: name, Position: len(s.candidates)})
}

func (s *InMemory) FindVoter(ctx context.Context, matric string) (Voter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.voters[matric]
	if !ok {
		return Voter{}, ErrNotFound
	}
	return *v, nil
}

func (s *InMemory) FindVoterByEmail(ctx context.Context, email string) (Voter, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.voters {
		if v.Email == email {
			return *v, nil
		}
	}
	return Voter{}, ErrNotFound
}

func (s *InMemory) ListPosts(ctx context.Context) ([]Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Post, len(s.posts))
	copy(out, s.posts)
	return out, nil
}

func (s *InMemory) ListCandidates(ctx context.Context) ([]Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Candidate, len(s.candidates))
	copy(out, s.candidates)
	return out, nil
}

func (s *InMemory) CreateOTP(ctx context.Context, rec *OTPRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.otps = append(s.otps, *rec)
	return nil
}

func (s *InMemory) LatestOTP(ctx context.Context, email string) (OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		latest OTPRecord
		found  bool
	)
	for _, rec := range s.otps {
		if rec.Email != email {
			continue
		}
		if !found || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
			found = true
		}
	}
	if !found {
		return OTPRecord{}, ErrNotFound
	}
	return latest, nil
}

func (s *InMemory) FindOTP(ctx context.Context, email, code string) (OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.otps {
		if rec.Email == email && rec.Code == code {
			return rec, nil
		}
	}
	return OTPRecord{}, ErrNotFound
}

func (s *InMemory) DeleteOTP(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.otps {
		if rec.ID == id {
			s.otps = append(s.otps[:i], s.otps[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// RecordBallot applies the whole vote mutation under one lock: ballot
// insert, voted-flag flip and counter increments either all happen or none
// do. Ballot insert is checked before the flag so a duplicate submission
// fails deterministically.
func (s *InMemory) RecordBallot(ctx context.Context, ballot *Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	voter, ok := s.voters[ballot.Matric]
	if !ok {
		return ErrNotFound
	}
	if _, exists := s.ballots[ballot.Matric]; exists || voter.HasVoted {
		return ErrAlreadyVoted
	}

	if ballot.CreatedAt.IsZero() {
		ballot.CreatedAt = time.Now().UTC()
	}
	stored := Ballot{
		Matric:     ballot.Matric,
		Selections: make(map[string]string, len(ballot.Selections)),
		CreatedAt:  ballot.CreatedAt,
	}
	for post, cand := range ballot.Selections {
		stored.Selections[post] = cand
	}
	s.ballots[ballot.Matric] = stored
	voter.HasVoted = true

	for _, cand := range ballot.Selections {
		for i := range s.candidates {
			if s.candidates[i].ID == cand {
				s.candidates[i].Votes++
			}
		}
	}
	return nil
}

func (s *InMemory) ListBallots(ctx context.Context) ([]Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Ballot, 0, len(s.ballots))
	for _, b := range s.ballots {
		copied := Ballot{Matric: b.Matric, CreatedAt: b.CreatedAt, Selections: make(map[string]string, len(b.Selections))}
		for post, cand := range b.Selections {
			copied.Selections[post] = cand
		}
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Matric < out[j].Matric })
	return out, nil
}
