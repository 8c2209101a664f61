package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"univote.org/internal/election"
	"univote.org/internal/ids"
)

const pgUniqueViolation = "23505"

// Store implements election.Store on PostgreSQL. The double-submission
// race is closed at this layer: ballots carry a primary key on the voter
// matric and the voted flag flips through a conditional update, so the
// second concurrent writer fails deterministically.
type Store struct {
	db *sql.DB
}

var _ election.Store = (*Store)(nil)

// Open connects with pool defaults tuned for a single small election.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle (used by tests with sqlmock).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) FindVoter(ctx context.Context, matric string) (election.Voter, error) {
	row := s.db.QueryRowContext(ctx, `
		select matric, name, email, has_voted, created_at
		from voters where matric=$1
	`, matric)
	return scanVoter(row)
}

func (s *Store) FindVoterByEmail(ctx context.Context, email string) (election.Voter, error) {
	row := s.db.QueryRowContext(ctx, `
		select matric, name, email, has_voted, created_at
		from voters where email=$1
	`, email)
	return scanVoter(row)
}

func scanVoter(row *sql.Row) (election.Voter, error) {
	var v election.Voter
	err := row.Scan(&v.Matric, &v.Name, &v.Email, &v.HasVoted, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return election.Voter{}, election.ErrNotFound
	}
	if err != nil {
		return election.Voter{}, err
	}
	return v, nil
}

func (s *Store) ListPosts(ctx context.Context) ([]election.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, title, position from posts order by position asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []election.Post
	for rows.Next() {
		var p election.Post
		if err := rows.Scan(&p.ID, &p.Name, &p.Title, &p.Position); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *Store) ListCandidates(ctx context.Context) ([]election.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, post_id, name, votes, position from candidates order by position asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []election.Candidate
	for rows.Next() {
		var c election.Candidate
		if err := rows.Scan(&c.ID, &c.PostID, &c.Name, &c.Votes, &c.Position); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s *Store) CreateOTP(ctx context.Context, rec *election.OTPRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into otps(id, email, matric, code, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6)
	`, rec.ID, rec.Email, rec.Matric, rec.Code, rec.CreatedAt, rec.ExpiresAt)
	return err
}

func (s *Store) LatestOTP(ctx context.Context, email string) (election.OTPRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, email, matric, code, created_at, expires_at
		from otps where email=$1
		order by created_at desc limit 1
	`, email)
	return scanOTP(row)
}

func (s *Store) FindOTP(ctx context.Context, email, code string) (election.OTPRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, email, matric, code, created_at, expires_at
		from otps where email=$1 and code=$2
		order by created_at desc limit 1
	`, email, code)
	return scanOTP(row)
}

func scanOTP(row *sql.Row) (election.OTPRecord, error) {
	var rec election.OTPRecord
	err := row.Scan(&rec.ID, &rec.Email, &rec.Matric, &rec.Code, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return election.OTPRecord{}, election.ErrNotFound
	}
	if err != nil {
		return election.OTPRecord{}, err
	}
	return rec, nil
}

func (s *Store) DeleteOTP(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from otps where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return election.ErrNotFound
	}
	return nil
}

// RecordBallot runs the whole vote mutation in one transaction. The ballot
// insert comes first so a crash mid-transaction can never leave a flagged
// voter without a ballot; the conditional flag update makes a concurrent
// duplicate fail instead of double-counting.
func (s *Store) RecordBallot(ctx context.Context, ballot *election.Ballot) error {
	selections, err := json.Marshal(ballot.Selections)
	if err != nil {
		return err
	}
	if ballot.CreatedAt.IsZero() {
		ballot.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into ballots(matric, selections, created_at)
		values ($1,$2,$3)
	`, ballot.Matric, selections, ballot.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return election.ErrAlreadyVoted
		}
		return err
	}

	res, err := tx.ExecContext(ctx, `
		update voters set has_voted=true where matric=$1 and has_voted=false
	`, ballot.Matric)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return election.ErrAlreadyVoted
	}

	for _, candID := range ballot.Selections {
		if _, err := tx.ExecContext(ctx, `
			update candidates set votes = votes + 1 where id=$1
		`, candID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ListBallots(ctx context.Context) ([]election.Ballot, error) {
	rows, err := s.db.QueryContext(ctx, `
		select matric, selections, created_at from ballots order by created_at asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []election.Ballot
	for rows.Next() {
		var (
			b   election.Ballot
			raw []byte
		)
		if err := rows.Scan(&b.Matric, &raw, &b.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &b.Selections); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
