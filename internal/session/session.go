package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer            = "univote"
	secretEnvVariable = "UNIVOTE_SESSION_SECRET"

	// RoleAdmin marks credentials issued through the admin sign-in path.
	RoleAdmin = "admin"
)

var (
	errMissingSecret = errors.New("session secret is not configured")

	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

// ErrInvalidToken indicates the credential failed validation.
var ErrInvalidToken = errors.New("invalid session credential")

// Claims is the signed assertion carried by a session credential. For
// voters the subject is the matric identifier; for admins it is the admin
// row id. Verified is only ever true for credentials minted after a
// successful OTP verification or admin sign-in.
type Claims struct {
	Email    string   `json:"email"`
	Matric   string   `json:"matric,omitempty"`
	Verified bool     `json:"verified"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the credential carries the admin role.
func (c *Claims) IsAdmin() bool {
	for _, r := range c.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

// GenerateVoter signs a voter credential for the given identity using HS256.
func GenerateVoter(email, matric string, ttl time.Duration) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	matric = strings.TrimSpace(matric)
	if email == "" || matric == "" {
		return "", errors.New("email and matric are required")
	}
	return generate(Claims{Email: email, Matric: matric, Verified: true}, matric, ttl)
}

// GenerateAdmin signs an admin credential. The subject is the admin row id
// so the gate can re-resolve membership on every request.
func GenerateAdmin(adminID, email string, ttl time.Duration) (string, error) {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return "", errors.New("adminID is required")
	}
	claims := Claims{
		Email:    strings.TrimSpace(strings.ToLower(email)),
		Verified: true,
		Roles:    []string{RoleAdmin},
	}
	return generate(claims, adminID, ttl)
}

func generate(claims Claims, subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretBytes)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies the credential signature and required claims.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secretBytes, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func validateClaims(claims *Claims) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if !claims.Verified {
		return errors.New("credential is not verified")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := time.Now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("credential expired")
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return errors.New("credential not yet valid")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("credential issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("credential expiry precedes issued-at")
	}
	return nil
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret.err = errMissingSecret
		secret.ready = true
		return nil, secret.err
	}
	secret.value = []byte(raw)
	secret.err = nil
	secret.ready = true
	return secret.value, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}

type claimsContextKey struct{}

// ContextWithClaims attaches verified claims to the context.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts verified claims from the context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(claimsContextKey{}).(*Claims)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
