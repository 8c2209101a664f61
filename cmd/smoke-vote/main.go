// smoke-vote drives the whole vote-integrity pipeline in process: issue a
// passcode, verify it, cast a ballot and cross-check the tallies against
// the roster flag. Exits non-zero on the first broken invariant.
package main

import (
	"context"
	"log"
	"os"
	"regexp"
	"time"

	"univote.org/internal/election"
	"univote.org/internal/mail"
	"univote.org/internal/otp"
)

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

func main() {
	if os.Getenv("UNIVOTE_SESSION_SECRET") == "" {
		_ = os.Setenv("UNIVOTE_SESSION_SECRET", "smoke-secret")
	}

	store := election.NewInMemory()
	store.AddVoter("U2021/001", "Ada Obi", "ada@campus.edu")
	store.AddPost("post-president", "president", "President")
	store.AddPost("post-secretary", "secretary", "General Secretary")
	store.AddCandidate("cand-1", "post-president", "Bola Ade")
	store.AddCandidate("cand-2", "post-president", "Chika Eze")
	store.AddCandidate("cand-3", "post-secretary", "Dayo Musa")

	sender := mail.NewRecorder()
	otps := otp.NewService(store, sender)
	elections := election.NewService(store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := otps.Issue(ctx, "ada@campus.edu", "U2021/001"); err != nil {
		log.Fatalf("issue otp: %v", err)
	}
	msgs := sender.Messages()
	if len(msgs) != 1 {
		log.Fatalf("expected 1 outbound mail, got %d", len(msgs))
	}
	match := codePattern.FindStringSubmatch(msgs[0].Body)
	if match == nil {
		log.Fatalf("no passcode found in mail body: %q", msgs[0].Body)
	}

	cred, err := otps.Verify(ctx, "ada@campus.edu", match[1])
	if err != nil {
		log.Fatalf("verify otp: %v", err)
	}
	if cred.Matric != "U2021/001" {
		log.Fatalf("credential resolved wrong matric: %s", cred.Matric)
	}

	err = elections.SubmitBallot(ctx, cred.Matric, map[string]string{
		"post-president": "cand-2",
		"post-secretary": "cand-3",
	})
	if err != nil {
		log.Fatalf("submit ballot: %v", err)
	}

	// Second submission must fail without touching counts.
	err = elections.SubmitBallot(ctx, cred.Matric, map[string]string{
		"post-president": "cand-1",
		"post-secretary": "cand-3",
	})
	if err != election.ErrAlreadyVoted {
		log.Fatalf("expected ErrAlreadyVoted on resubmission, got %v", err)
	}

	results, err := elections.Results(ctx)
	if err != nil {
		log.Fatalf("results: %v", err)
	}
	for _, post := range results {
		for _, cand := range post.Candidates {
			log.Printf("%s: %s %d (%.1f%%)", post.PostTitle, cand.Name, cand.Votes, cand.Percent)
		}
	}

	stuck, err := elections.Unreconciled(ctx)
	if err != nil {
		log.Fatalf("reconcile check: %v", err)
	}
	if len(stuck) != 0 {
		log.Fatalf("ballots without voted flag: %v", stuck)
	}

	log.Println("OK: vote pipeline invariants hold")
}
