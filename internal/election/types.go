package election

import (
	"errors"
	"time"
)

// Voter is one roster entry. HasVoted transitions false->true exactly once,
// and only through Store.RecordBallot.
type Voter struct {
	Matric    string    `json:"matric"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	HasVoted  bool      `json:"has_voted"`
	CreatedAt time.Time `json:"created_at"`
}

// Post is an electable position. Position gives the stable display order.
type Post struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// Candidate runs for exactly one post. Votes is a denormalized running
// count maintained on the write path; results are recomputed from ballots.
type Candidate struct {
	ID       string `json:"id"`
	PostID   string `json:"post_id"`
	Name     string `json:"name"`
	Votes    int64  `json:"votes"`
	Position int    `json:"position"`
}

// Ballot is the complete, immutable selection set of one voter:
// post id -> chosen candidate id. At most one ballot exists per matric.
type Ballot struct {
	Matric     string            `json:"matric"`
	Selections map[string]string `json:"selections"`
	CreatedAt  time.Time         `json:"created_at"`
}

// OTPRecord is one issued passcode. Rows are consumed (deleted) on
// successful verification; expired rows may accumulate per email.
type OTPRecord struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Matric    string    `json:"matric"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CandidateResult is one tallied candidate within a post.
type CandidateResult struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Votes   int64   `json:"votes"`
	Percent float64 `json:"percent"`
}

// PostResult is the tally for one post, candidates sorted by votes
// descending with ties broken by candidate position.
type PostResult struct {
	PostID     string            `json:"post_id"`
	PostName   string            `json:"post_name"`
	PostTitle  string            `json:"post_title"`
	TotalVotes int64             `json:"total_votes"`
	Candidates []CandidateResult `json:"candidates"`
}

// PostBallot is the election view served to a verified voter: one post and
// the candidates running for it.
type PostBallot struct {
	Post       Post        `json:"post"`
	Candidates []Candidate `json:"candidates"`
}

var (
	ErrNotFound         = errors.New("election: not found")
	ErrAlreadyVoted     = errors.New("election: voter has already cast a ballot")
	ErrIncompleteBallot = errors.New("election: ballot must name exactly one candidate per post")
	ErrUnknownSelection = errors.New("election: selection does not match a candidate for that post")
)
