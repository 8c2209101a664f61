package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"univote.org/internal/admin"
	"univote.org/internal/session"
)

const (
	sessionCookie = "univote_token"
	authHeader    = "Authorization"
	bearer        = "Bearer "
)

// credentialFromRequest extracts the session credential, preferring the
// http-only cookie and falling back to a bearer header for API clients.
func credentialFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header == "" {
		return "", errors.New("missing session credential")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing session credential")
	}
	return token, nil
}

// withVoterSession admits only verified voter credentials. The matric used
// downstream always comes from the validated claims, never the request body.
func (a *API) withVoterSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := credentialFromRequest(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := session.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		if claims.Matric == "" || claims.IsAdmin() {
			writeError(w, r, http.StatusForbidden, "a voter session is required")
			return
		}
		next(w, r.WithContext(session.ContextWithClaims(r.Context(), claims)))
	}
}

// withAdminSession admits only admin credentials and re-resolves admin
// membership on every request so a deactivated admin loses access
// immediately rather than at credential expiry.
func (a *API) withAdminSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := credentialFromRequest(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := session.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		if !claims.IsAdmin() {
			writeError(w, r, http.StatusForbidden, "admin access required")
			return
		}
		if _, err := a.admins.Authorize(r.Context(), claims.Subject); err != nil {
			if errors.Is(err, admin.ErrUnauthorized) {
				writeError(w, r, http.StatusForbidden, "admin access required")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		next(w, r.WithContext(session.ContextWithClaims(r.Context(), claims)))
	}
}

// requireVotingOpen gates the sign-in and ballot flow entirely while the
// election is closed.
func (a *API) requireVotingOpen(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.voting.Open() {
			writeError(w, r, http.StatusForbidden, "voting is closed")
			return
		}
		next(w, r)
	}
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
