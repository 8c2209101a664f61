package mail

import (
	"context"
	"errors"
	"testing"
)

func TestRecorderCapturesMessages(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()

	if err := rec.Send(ctx, "ada@campus.edu", "Your voting passcode", "code inside"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := rec.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].To != "ada@campus.edu" || msgs[0].Body != "code inside" {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}

	// Messages returns a copy; mutating it must not affect the recorder.
	msgs[0].To = "tampered"
	if rec.Messages()[0].To != "ada@campus.edu" {
		t.Fatal("recorder state leaked through returned slice")
	}
}

func TestRecorderFailWith(t *testing.T) {
	rec := NewRecorder()
	boom := errors.New("relay refused")
	rec.FailWith(boom)

	err := rec.Send(context.Background(), "ada@campus.edu", "s", "b")
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if len(rec.Messages()) != 0 {
		t.Fatal("failed send must not record a message")
	}
}

func TestNewSMTPSenderValidation(t *testing.T) {
	base := SMTPConfig{Host: "smtp.campus.edu", Port: 587, From: "vote@campus.edu"}

	if _, err := NewSMTPSender(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	missingHost := base
	missingHost.Host = " "
	if _, err := NewSMTPSender(missingHost); err == nil {
		t.Fatal("expected error for missing host")
	}

	missingPort := base
	missingPort.Port = 0
	if _, err := NewSMTPSender(missingPort); err == nil {
		t.Fatal("expected error for missing port")
	}

	missingFrom := base
	missingFrom.From = ""
	if _, err := NewSMTPSender(missingFrom); err == nil {
		t.Fatal("expected error for missing from address")
	}
}

func TestSMTPSenderHonorsContext(t *testing.T) {
	sender, err := NewSMTPSender(SMTPConfig{Host: "smtp.campus.edu", Port: 587, From: "vote@campus.edu"})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sender.Send(ctx, "ada@campus.edu", "s", "b"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
