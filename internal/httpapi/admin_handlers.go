package httpapi

import (
	"errors"
	"net/http"
	"time"

	"univote.org/internal/admin"
	"univote.org/internal/audit"
	"univote.org/internal/obs"
	"univote.org/internal/session"
)

type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type votingFlagRequest struct {
	Open bool `json:"open"`
}

func (a *API) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req adminLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	adm, err := a.admins.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, admin.ErrUnauthorized) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		obs.Error("admin sign-in failed", map[string]any{"error": err.Error()})
		writeError(w, r, http.StatusInternalServerError, "sign-in failed")
		return
	}

	token, err := session.GenerateAdmin(adm.ID, adm.Email, a.adminTTL)
	if err != nil {
		obs.Error("admin credential issuance failed", map[string]any{"error": err.Error()})
		writeError(w, r, http.StatusInternalServerError, "sign-in failed")
		return
	}

	a.setSessionCookie(w, token, time.Now().UTC().Add(a.adminTTL))
	_ = audit.LogEvent(r.Context(), "admin.signin", map[string]any{"admin_id": adm.ID})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "signed in",
		"success": true,
	})
}

func (a *API) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.clearSessionCookie(w)
	_ = audit.LogEvent(r.Context(), "admin.signout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"message": "signed out"})
}

func (a *API) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	results, err := a.elections.Results(r.Context())
	if err != nil {
		obs.Error("results aggregation failed", map[string]any{"error": err.Error()})
		writeError(w, r, http.StatusInternalServerError, "could not load results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"as_of":   time.Now().UTC(),
	})
}

func (a *API) handleVotingFlag(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req votingFlagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.voting.Set(req.Open)
	_ = audit.LogEvent(r.Context(), "admin.voting_flag", map[string]any{"open": req.Open})
	writeJSON(w, http.StatusOK, map[string]any{"open": a.voting.Open()})
}
