package otp

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"univote.org/internal/election"
	"univote.org/internal/mail"
	"univote.org/internal/session"
)

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

func newFixture(t *testing.T, opts ...Option) (*Service, *election.InMemory, *mail.Recorder) {
	t.Helper()
	t.Setenv("UNIVOTE_SESSION_SECRET", "test-secret")
	session.ResetSecretForTests()
	t.Cleanup(session.ResetSecretForTests)

	store := election.NewInMemory()
	store.AddVoter("U2021/001", "Ada Obi", "ada@campus.edu")
	sender := mail.NewRecorder()
	return NewService(store, sender, opts...), store, sender
}

func deliveredCode(t *testing.T, sender *mail.Recorder) string {
	t.Helper()
	msgs := sender.Messages()
	if len(msgs) == 0 {
		t.Fatal("no mail delivered")
	}
	match := codePattern.FindStringSubmatch(msgs[len(msgs)-1].Body)
	if match == nil {
		t.Fatalf("no code in mail body: %q", msgs[len(msgs)-1].Body)
	}
	return match[1]
}

func TestIssueDeliversCode(t *testing.T) {
	svc, store, sender := newFixture(t)
	ctx := context.Background()

	if err := svc.Issue(ctx, "Ada@Campus.EDU ", "U2021/001"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	msgs := sender.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(msgs))
	}
	if msgs[0].To != "ada@campus.edu" {
		t.Fatalf("mail went to %q", msgs[0].To)
	}
	code := deliveredCode(t, sender)

	rec, err := store.FindOTP(ctx, "ada@campus.edu", code)
	if err != nil {
		t.Fatalf("stored record not found: %v", err)
	}
	if rec.Matric != "U2021/001" {
		t.Fatalf("record carries wrong matric: %q", rec.Matric)
	}
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Fatalf("expiry not after creation: %+v", rec)
	}
}

func TestIssueRejectsUnknownVoter(t *testing.T) {
	svc, _, _ := newFixture(t)
	err := svc.Issue(context.Background(), "ada@campus.edu", "U1999/999")
	if !errors.Is(err, election.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIssueRejectsVotedStudent(t *testing.T) {
	svc, store, _ := newFixture(t)
	store.AddPost("post-1", "president", "President")
	store.AddCandidate("cand-1", "post-1", "Bola Ade")
	ctx := context.Background()
	if err := store.RecordBallot(ctx, &election.Ballot{
		Matric:     "U2021/001",
		Selections: map[string]string{"post-1": "cand-1"},
	}); err != nil {
		t.Fatalf("record ballot: %v", err)
	}

	err := svc.Issue(ctx, "ada@campus.edu", "U2021/001")
	if !errors.Is(err, election.ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
}

func TestIssueEnforcesCooldown(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newFixture(t, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	if err := svc.Issue(ctx, "ada@campus.edu", "U2021/001"); err != nil {
		t.Fatalf("first issue: %v", err)
	}

	current = current.Add(10 * time.Minute)
	err := svc.Issue(ctx, "ada@campus.edu", "U2021/001")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %T", err)
	}
	if limited.RetryAfter != 50*time.Minute {
		t.Fatalf("unexpected retry-after: %s", limited.RetryAfter)
	}

	// Once the hour has passed a fresh code may be issued.
	current = current.Add(51 * time.Minute)
	if err := svc.Issue(ctx, "ada@campus.edu", "U2021/001"); err != nil {
		t.Fatalf("issue after cooldown: %v", err)
	}
}

func TestIssueCooldownConfigurable(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newFixture(t,
		WithCooldown(2*time.Minute),
		WithClock(func() time.Time { return current }),
	)
	ctx := context.Background()

	if err := svc.Issue(ctx, "ada@campus.edu", "U2021/001"); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	current = current.Add(3 * time.Minute)
	if err := svc.Issue(ctx, "ada@campus.edu", "U2021/001"); err != nil {
		t.Fatalf("issue after short cooldown: %v", err)
	}
}

func TestIssueSurfacesDeliveryFailure(t *testing.T) {
	svc, store, sender := newFixture(t)
	sender.FailWith(errors.New("relay refused"))
	ctx := context.Background()

	err := svc.Issue(ctx, "ada@campus.edu", "U2021/001")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}

	// The record persisted before dispatch and stays verifiable.
	rec, err := store.LatestOTP(ctx, "ada@campus.edu")
	if err != nil {
		t.Fatalf("latest otp: %v", err)
	}
	cred, err := svc.Verify(ctx, "ada@campus.edu", rec.Code)
	if err != nil {
		t.Fatalf("verify after failed delivery: %v", err)
	}
	if cred.Matric != "U2021/001" {
		t.Fatalf("unexpected matric: %q", cred.Matric)
	}
}

func TestVerifyHappyPath(t *testing.T) {
	svc, _, sender := newFixture(t)
	ctx := context.Background()

	if err := svc.Issue(ctx, "ada@campus.edu", "U2021/001"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := deliveredCode(t, sender)

	cred, err := svc.Verify(ctx, " Ada@Campus.edu", code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if cred.Email != "ada@campus.edu" || cred.Matric != "U2021/001" {
		t.Fatalf("unexpected credential identity: %+v", cred)
	}
	claims, err := session.ParseAndValidate(cred.Token)
	if err != nil {
		t.Fatalf("issued credential invalid: %v", err)
	}
	if claims.Matric != "U2021/001" || claims.IsAdmin() {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyIsSingleUse(t *testing.T) {
	svc, _, sender := newFixture(t)
	ctx := context.Background()

	if err := svc.Issue(ctx, "ada@campus.edu", "U2021/001"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := deliveredCode(t, sender)

	if _, err := svc.Verify(ctx, "ada@campus.edu", code); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	_, err := svc.Verify(ctx, "ada@campus.edu", code)
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode on reuse, got %v", err)
	}
}

func TestVerifyRejectsWrongCode(t *testing.T) {
	svc, _, sender := newFixture(t)
	ctx := context.Background()

	if err := svc.Issue(ctx, "ada@campus.edu", "U2021/001"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err := svc.Verify(ctx, "ada@campus.edu", "000000")
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	// A failed guess does not consume the real code.
	if _, err := svc.Verify(ctx, "ada@campus.edu", deliveredCode(t, sender)); err != nil {
		t.Fatalf("verify with real code after wrong guess: %v", err)
	}
}

func TestVerifyRejectsExpiredCode(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc, _, sender := newFixture(t, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	if err := svc.Issue(ctx, "ada@campus.edu", "U2021/001"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := deliveredCode(t, sender)

	current = current.Add(11 * time.Minute)
	_, err := svc.Verify(ctx, "ada@campus.edu", code)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyResolvesMatricFromRoster(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()

	// Legacy record shape: no matric on the row.
	now := time.Now().UTC()
	rec := &election.OTPRecord{
		Email:     "ada@campus.edu",
		Code:      "123456",
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
	if err := store.CreateOTP(ctx, rec); err != nil {
		t.Fatalf("create otp: %v", err)
	}

	cred, err := svc.Verify(ctx, "ada@campus.edu", "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if cred.Matric != "U2021/001" {
		t.Fatalf("expected roster fallback to resolve matric, got %q", cred.Matric)
	}
}

func TestGenerateCodeRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := generateCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("code %q is not 6 digits", code)
		}
		if code[0] == '0' {
			t.Fatalf("code %q outside [100000, 999999]", code)
		}
	}
}
