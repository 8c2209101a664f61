package election

import "context"

// Store defines the persistence operations the voting pipeline needs.
// RecordBallot is the single mutating entry point for vote state and must
// be atomic per voter: the second concurrent submission for one matric
// fails with ErrAlreadyVoted rather than racing the voted-flag check.
type Store interface {
	// Roster (read-only here; rows are created by the roster import).
	FindVoter(ctx context.Context, matric string) (Voter, error)
	FindVoterByEmail(ctx context.Context, email string) (Voter, error)

	// Reference data.
	ListPosts(ctx context.Context) ([]Post, error)
	ListCandidates(ctx context.Context) ([]Candidate, error)

	// OTP rows.
	CreateOTP(ctx context.Context, rec *OTPRecord) error
	LatestOTP(ctx context.Context, email string) (OTPRecord, error)
	FindOTP(ctx context.Context, email, code string) (OTPRecord, error)
	DeleteOTP(ctx context.Context, id string) error

	// Ballots. RecordBallot persists the ballot, flips the voter's flag via
	// a conditional update and bumps denormalized candidate counters, all
	// as one unit. ListBallots feeds the results aggregator.
	RecordBallot(ctx context.Context, ballot *Ballot) error
	ListBallots(ctx context.Context) ([]Ballot, error)
}
