package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"univote.org/internal/admin"
	"univote.org/internal/config"
	"univote.org/internal/election"
	"univote.org/internal/obs"
	"univote.org/internal/otp"
)

// ReadyProbe reports readiness (database ping when a handle is present).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the voting pipeline.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	elections *election.Service
	otps      *otp.Service
	admins    *admin.Service
	voting    *config.Flag

	adminTTL     time.Duration
	cookieSecure bool

	allowedOrigins []string

	rateBurst  int
	ratePerSec int
}

// New wires the routes. The voting-open flag gates the OTP and ballot
// endpoints before any handler logic runs.
func New(rp ReadyProbe, version string, elections *election.Service, otps *otp.Service, admins *admin.Service, voting *config.Flag) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		elections:  elections,
		otps:       otps,
		admins:     admins,
		voting:     voting,
		adminTTL:   time.Hour,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReady)
	a.mux.HandleFunc("/v1/info", a.handleInfo)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/otp/request", a.requireVotingOpen(a.handleOTPRequest))
	a.mux.HandleFunc("/v1/otp/verify", a.requireVotingOpen(a.handleOTPVerify))
	a.mux.HandleFunc("/v1/election", a.requireVotingOpen(a.withVoterSession(a.handleElectionView)))
	a.mux.HandleFunc("/v1/ballots", a.requireVotingOpen(a.withVoterSession(a.handleBallot)))

	a.mux.HandleFunc("/v1/admin/login", a.handleAdminLogin)
	a.mux.HandleFunc("/v1/admin/logout", a.withAdminSession(a.handleAdminLogout))
	a.mux.HandleFunc("/v1/admin/voting", a.withAdminSession(a.handleVotingFlag))
	a.mux.HandleFunc("/v1/results", a.withAdminSession(a.handleResults))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetCookieSecure toggles the Secure attribute on issued cookies.
func (a *API) SetCookieSecure(secure bool) { a.cookieSecure = secure }

// SetAllowedOrigins grants credentialed CORS access to additional origins.
func (a *API) SetAllowedOrigins(origins []string) { a.allowedOrigins = origins }

// SetAdminTTL overrides the admin credential lifetime.
func (a *API) SetAdminTTL(ttl time.Duration) {
	if ttl > 0 {
		a.adminTTL = ttl
	}
}

// SetRateLimit overrides the per-IP token bucket parameters.
func (a *API) SetRateLimit(burst, perSec int) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSec > 0 {
		a.ratePerSec = perSec
	}
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h, a.allowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- service handlers ---

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "univote-api",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "univote-api",
		"time":        time.Now().UTC().Format(time.RFC3339),
		"version":     a.version,
		"voting_open": a.voting.Open(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
