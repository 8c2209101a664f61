package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"univote.org/internal/mail"
)

// Config carries every tunable the service reads. Values are loaded once
// at startup and injected into constructors; nothing reads ambient
// environment state after Load returns. The voting-open flag is the one
// runtime-mutable value and lives in Flag.
type Config struct {
	Addr        string
	DatabaseDSN string

	OTPCooldown time.Duration
	OTPExpiry   time.Duration
	SessionTTL  time.Duration

	RateBurst  int
	RatePerSec int

	VotingOpen bool

	// CookieSecure marks session cookies Secure. Defaults to true; local
	// plain-HTTP demos set UNIVOTE_COOKIE_SECURE=false or the browser
	// drops the cookie after verification.
	CookieSecure bool

	// AllowedOrigins are extra origins granted credentialed CORS access,
	// alongside the built-in localhost allowance.
	AllowedOrigins []string

	SMTP mail.SMTPConfig
}

const envPrefix = "UNIVOTE_"

// Load reads configuration from UNIVOTE_* environment variables, applying
// the documented defaults: 1h cooldown, 10m passcode expiry, 1h sessions.
func Load() (Config, error) {
	cfg := Config{
		Addr:         ":8080",
		OTPCooldown:  time.Hour,
		OTPExpiry:    10 * time.Minute,
		SessionTTL:   time.Hour,
		RateBurst:    20,
		RatePerSec:   10,
		VotingOpen:   true,
		CookieSecure: true,
	}

	if v := getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	cfg.DatabaseDSN = getenv("PG_DSN")

	var err error
	if cfg.OTPCooldown, err = durationEnv("OTP_COOLDOWN", cfg.OTPCooldown); err != nil {
		return Config{}, err
	}
	if cfg.OTPExpiry, err = durationEnv("OTP_EXPIRY", cfg.OTPExpiry); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = durationEnv("SESSION_TTL", cfg.SessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.RateBurst, err = intEnv("RATE_BURST", cfg.RateBurst); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSec, err = intEnv("RATE_PER_SEC", cfg.RatePerSec); err != nil {
		return Config{}, err
	}
	if cfg.VotingOpen, err = boolEnv("VOTING_OPEN", cfg.VotingOpen); err != nil {
		return Config{}, err
	}
	if cfg.CookieSecure, err = boolEnv("COOKIE_SECURE", cfg.CookieSecure); err != nil {
		return Config{}, err
	}
	cfg.AllowedOrigins = listEnv("CORS_ORIGINS")

	cfg.SMTP = mail.SMTPConfig{
		Host:     getenv("SMTP_HOST"),
		Username: getenv("SMTP_USER"),
		Password: getenv("SMTP_PASS"),
		From:     getenv("FROM_EMAIL"),
	}
	if cfg.SMTP.Port, err = intEnv("SMTP_PORT", 587); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s%s must be positive", envPrefix, key)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	return n, nil
}

func listEnv(key string) []string {
	raw := getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func boolEnv(key string, def bool) (bool, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	return b, nil
}

// Flag is the process-wide voting-open switch. Reads are atomic and happen
// per request; writes come from the admin endpoint (push-invalidate).
type Flag struct {
	open atomic.Bool
}

// NewFlag initialises the flag.
func NewFlag(open bool) *Flag {
	f := &Flag{}
	f.open.Store(open)
	return f
}

// Open reports the current state.
func (f *Flag) Open() bool { return f.open.Load() }

// Set replaces the current state.
func (f *Flag) Set(open bool) { f.open.Store(open) }
