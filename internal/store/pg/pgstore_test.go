package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"univote.org/internal/election"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestFindVoter(t *testing.T) {
	store, mock := newMockStore(t)

	created := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select matric, name, email, has_voted, created_at.*from voters").
		WithArgs("U2021/001").
		WillReturnRows(sqlmock.NewRows([]string{"matric", "name", "email", "has_voted", "created_at"}).
			AddRow("U2021/001", "Ada Obi", "ada@campus.edu", false, created))

	voter, err := store.FindVoter(context.Background(), "U2021/001")
	if err != nil {
		t.Fatalf("FindVoter: %v", err)
	}
	if voter.Email != "ada@campus.edu" || voter.HasVoted {
		t.Fatalf("unexpected voter: %+v", voter)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindVoterNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select matric, name, email, has_voted, created_at.*from voters").
		WithArgs("U1999/999").
		WillReturnRows(sqlmock.NewRows([]string{"matric", "name", "email", "has_voted", "created_at"}))

	_, err := store.FindVoter(context.Background(), "U1999/999")
	if !errors.Is(err, election.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordBallotHappyPath(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into ballots").
		WithArgs("U2021/001", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update voters set has_voted=true").
		WithArgs("U2021/001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update candidates set votes").
		WithArgs("cand-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RecordBallot(context.Background(), &election.Ballot{
		Matric:     "U2021/001",
		Selections: map[string]string{"post-president": "cand-1"},
	})
	if err != nil {
		t.Fatalf("RecordBallot: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordBallotDuplicateKey(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into ballots").
		WithArgs("U2021/001", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := store.RecordBallot(context.Background(), &election.Ballot{
		Matric:     "U2021/001",
		Selections: map[string]string{"post-president": "cand-1"},
	})
	if !errors.Is(err, election.ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordBallotFlagAlreadySet(t *testing.T) {
	store, mock := newMockStore(t)

	// The insert wins but a concurrent writer flipped the flag first.
	mock.ExpectBegin()
	mock.ExpectExec("insert into ballots").
		WithArgs("U2021/001", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update voters set has_voted=true").
		WithArgs("U2021/001").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.RecordBallot(context.Background(), &election.Ballot{
		Matric:     "U2021/001",
		Selections: map[string]string{"post-president": "cand-1"},
	})
	if !errors.Is(err, election.ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLatestOTP(t *testing.T) {
	store, mock := newMockStore(t)

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select id, email, matric, code, created_at, expires_at.*from otps").
		WithArgs("ada@campus.edu").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "matric", "code", "created_at", "expires_at"}).
			AddRow("otp-1", "ada@campus.edu", "U2021/001", "123456", created, created.Add(10*time.Minute)))

	rec, err := store.LatestOTP(context.Background(), "ada@campus.edu")
	if err != nil {
		t.Fatalf("LatestOTP: %v", err)
	}
	if rec.Code != "123456" || rec.Matric != "U2021/001" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestDeleteOTPMissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from otps").
		WithArgs("otp-404").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteOTP(context.Background(), "otp-404")
	if !errors.Is(err, election.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListBallotsDecodesSelections(t *testing.T) {
	store, mock := newMockStore(t)

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select matric, selections, created_at from ballots").
		WillReturnRows(sqlmock.NewRows([]string{"matric", "selections", "created_at"}).
			AddRow("U2021/001", []byte(`{"post-president":"cand-1"}`), created))

	ballots, err := store.ListBallots(context.Background())
	if err != nil {
		t.Fatalf("ListBallots: %v", err)
	}
	if len(ballots) != 1 {
		t.Fatalf("expected 1 ballot, got %d", len(ballots))
	}
	if ballots[0].Selections["post-president"] != "cand-1" {
		t.Fatalf("selections not decoded: %+v", ballots[0])
	}
}
