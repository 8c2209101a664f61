package election

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Service enforces the ballot protocol on top of a Store: selection
// validation before any persistence, and read-side tallying computed from
// ballot rows rather than the denormalized counters.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service around the given store.
func NewService(store Store, opts ...ServiceOption) *Service {
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// BallotPaper returns the posts and their candidates in display order, for
// rendering the voting form.
func (s *Service) BallotPaper(ctx context.Context) ([]PostBallot, error) {
	posts, err := s.store.ListPosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	candidates, err := s.store.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].Position < posts[j].Position })

	byPost := make(map[string][]Candidate)
	for _, c := range candidates {
		byPost[c.PostID] = append(byPost[c.PostID], c)
	}
	out := make([]PostBallot, 0, len(posts))
	for _, p := range posts {
		list := byPost[p.ID]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Position < list[j].Position })
		out = append(out, PostBallot{Post: p, Candidates: list})
	}
	return out, nil
}

// SubmitBallot validates a complete selection set and records it. The
// matric must come from a verified session credential; callers never pass
// client-asserted identity here. Nothing is persisted unless every known
// post is covered by exactly one of its own candidates.
func (s *Service) SubmitBallot(ctx context.Context, matric string, selections map[string]string) error {
	voter, err := s.store.FindVoter(ctx, matric)
	if err != nil {
		return err
	}
	if voter.HasVoted {
		return ErrAlreadyVoted
	}

	posts, err := s.store.ListPosts(ctx)
	if err != nil {
		return fmt.Errorf("list posts: %w", err)
	}
	candidates, err := s.store.ListCandidates(ctx)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}

	candidatePost := make(map[string]string, len(candidates))
	for _, c := range candidates {
		candidatePost[c.ID] = c.PostID
	}
	if len(selections) != len(posts) {
		return ErrIncompleteBallot
	}
	for _, p := range posts {
		candID, ok := selections[p.ID]
		if !ok {
			return ErrIncompleteBallot
		}
		if candidatePost[candID] != p.ID {
			return ErrUnknownSelection
		}
	}

	ballot := &Ballot{
		Matric:     matric,
		Selections: selections,
		CreatedAt:  s.now().UTC(),
	}
	return s.store.RecordBallot(ctx, ballot)
}

// Results tallies every post from the ballot rows. Candidates are ordered
// by vote count descending, ties broken by their stable position. A post
// with no candidates or no ballots yields zero counts, never an error.
func (s *Service) Results(ctx context.Context) ([]PostResult, error) {
	posts, err := s.store.ListPosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	candidates, err := s.store.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	ballots, err := s.store.ListBallots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ballots: %w", err)
	}

	counts := make(map[string]int64, len(candidates))
	for _, b := range ballots {
		for _, candID := range b.Selections {
			counts[candID]++
		}
	}

	sort.SliceStable(posts, func(i, j int) bool { return posts[i].Position < posts[j].Position })
	byPost := make(map[string][]Candidate)
	for _, c := range candidates {
		byPost[c.PostID] = append(byPost[c.PostID], c)
	}

	out := make([]PostResult, 0, len(posts))
	for _, p := range posts {
		list := byPost[p.ID]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Position < list[j].Position })

		var total int64
		for _, c := range list {
			total += counts[c.ID]
		}
		results := make([]CandidateResult, 0, len(list))
		for _, c := range list {
			n := counts[c.ID]
			var pct float64
			if total > 0 {
				pct = float64(n) * 100 / float64(total)
			}
			results = append(results, CandidateResult{ID: c.ID, Name: c.Name, Votes: n, Percent: pct})
		}
		sort.SliceStable(results, func(i, j int) bool { return results[i].Votes > results[j].Votes })

		out = append(out, PostResult{
			PostID:     p.ID,
			PostName:   p.Name,
			PostTitle:  p.Title,
			TotalVotes: total,
			Candidates: results,
		})
	}
	return out, nil
}

// Unreconciled reports matrics whose ballot exists while the roster flag
// still reads false. A crash between the ballot insert and the flag flip
// leaves exactly this state; repair is an idempotent flag re-set.
func (s *Service) Unreconciled(ctx context.Context) ([]string, error) {
	ballots, err := s.store.ListBallots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ballots: %w", err)
	}
	var out []string
	for _, b := range ballots {
		voter, err := s.store.FindVoter(ctx, b.Matric)
		if err != nil {
			return nil, fmt.Errorf("find voter %s: %w", b.Matric, err)
		}
		if !voter.HasVoted {
			out = append(out, b.Matric)
		}
	}
	return out, nil
}
