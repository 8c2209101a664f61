package admin

import (
	"context"
	"errors"
	"testing"
)

func newStoreWithAdmin(t *testing.T) (*MemoryStore, string) {
	t.Helper()
	store := NewMemoryStore()
	id, err := store.Add("ops@campus.edu", "Returning Officer", "correct horse")
	if err != nil {
		t.Fatalf("add admin: %v", err)
	}
	return store, id
}

func TestSignInHappyPath(t *testing.T) {
	store, id := newStoreWithAdmin(t)
	svc := NewService(store)

	adm, err := svc.SignIn(context.Background(), " OPS@campus.edu ", "correct horse")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if adm.ID != id {
		t.Fatalf("unexpected admin id: %q", adm.ID)
	}
}

func TestSignInFailuresCollapse(t *testing.T) {
	store, id := newStoreWithAdmin(t)
	svc := NewService(store)
	ctx := context.Background()

	cases := map[string]func() error{
		"wrong password": func() error {
			_, err := svc.SignIn(ctx, "ops@campus.edu", "wrong")
			return err
		},
		"unknown email": func() error {
			_, err := svc.SignIn(ctx, "nobody@campus.edu", "correct horse")
			return err
		},
		"empty password": func() error {
			_, err := svc.SignIn(ctx, "ops@campus.edu", "")
			return err
		},
		"inactive account": func() error {
			store.SetActive(id, false)
			defer store.SetActive(id, true)
			_, err := svc.SignIn(ctx, "ops@campus.edu", "correct horse")
			return err
		},
	}
	for name, fn := range cases {
		if err := fn(); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestAuthorizeTracksMembership(t *testing.T) {
	store, id := newStoreWithAdmin(t)
	svc := NewService(store)
	ctx := context.Background()

	if _, err := svc.Authorize(ctx, id); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	// Demotion takes effect on the very next check, not at token expiry.
	store.SetActive(id, false)
	if _, err := svc.Authorize(ctx, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after demotion, got %v", err)
	}

	store.SetActive(id, true)
	if _, err := svc.Authorize(ctx, id); err != nil {
		t.Fatalf("authorize after reinstatement: %v", err)
	}

	if _, err := svc.Authorize(ctx, "missing"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown id, got %v", err)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash must not equal the plaintext")
	}
	if err := VerifyPassword(hash, "correct horse"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
}
