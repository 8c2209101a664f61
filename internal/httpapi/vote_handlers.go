package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"univote.org/internal/audit"
	"univote.org/internal/election"
	"univote.org/internal/obs"
	"univote.org/internal/otp"
	"univote.org/internal/session"
)

type otpRequest struct {
	Email  string `json:"email"`
	Matric string `json:"matric"`
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type ballotSelection struct {
	PostID      string `json:"post_id"`
	CandidateID string `json:"candidate_id"`
}

type ballotRequest struct {
	Selections []ballotSelection `json:"selections"`
	// Matric is accepted for wire compatibility but never trusted; the
	// identity used below always comes from the session claims.
	Matric string `json:"matric"`
}

func (a *API) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	matric := strings.TrimSpace(req.Matric)
	if email == "" || matric == "" {
		writeError(w, r, http.StatusBadRequest, "email and matric number are required")
		return
	}

	err := a.otps.Issue(r.Context(), email, matric)
	if err != nil {
		var limited *otp.RateLimitedError
		switch {
		case errors.Is(err, election.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "student not found")
		case errors.Is(err, election.ErrAlreadyVoted):
			writeError(w, r, http.StatusForbidden, "this student has already voted")
		case errors.As(err, &limited):
			secs := int(limited.RetryAfter.Seconds() + 0.5)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, r, http.StatusTooManyRequests,
				fmt.Sprintf("please wait %s before requesting another passcode", limited.RetryAfter.Round(time.Second)))
		case errors.Is(err, otp.ErrDeliveryFailed):
			writeError(w, r, http.StatusInternalServerError, "failed to send passcode email")
		default:
			obs.Error("otp issuance failed", map[string]any{"error": err.Error()})
			writeError(w, r, http.StatusInternalServerError, "could not issue passcode")
		}
		return
	}

	obs.CountOTPIssued()
	_ = audit.LogEvent(r.Context(), "otp.issued", map[string]any{"email": email})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "passcode sent, check your inbox",
	})
}

func (a *API) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req otpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		writeError(w, r, http.StatusBadRequest, "email and passcode are required")
		return
	}

	cred, err := a.otps.Verify(r.Context(), req.Email, req.OTP)
	if err != nil {
		switch {
		case errors.Is(err, otp.ErrInvalidCode):
			writeError(w, r, http.StatusBadRequest, "invalid passcode, check and try again")
		case errors.Is(err, otp.ErrExpired):
			writeError(w, r, http.StatusBadRequest, "passcode has expired, request a new one once the cooldown passes")
		case errors.Is(err, otp.ErrVoterLookup):
			writeError(w, r, http.StatusInternalServerError, "could not verify student information")
		default:
			obs.Error("otp verification failed", map[string]any{"error": err.Error()})
			writeError(w, r, http.StatusInternalServerError, "verification failed")
		}
		return
	}

	a.setSessionCookie(w, cred.Token, cred.ExpiresAt)
	_ = audit.LogEvent(r.Context(), "otp.verified", map[string]any{"email": cred.Email})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "passcode verified",
		"success": true,
	})
}

func (a *API) handleElectionView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	paper, err := a.elections.BallotPaper(r.Context())
	if err != nil {
		obs.Error("ballot paper load failed", map[string]any{"error": err.Error()})
		writeError(w, r, http.StatusInternalServerError, "could not load election data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": paper})
}

func (a *API) handleBallot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, _ := session.ClaimsFromContext(r.Context())

	var req ballotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Selections) == 0 {
		writeError(w, r, http.StatusBadRequest, "selections are required")
		return
	}
	selections := make(map[string]string, len(req.Selections))
	for _, sel := range req.Selections {
		postID := strings.TrimSpace(sel.PostID)
		candID := strings.TrimSpace(sel.CandidateID)
		if postID == "" || candID == "" {
			writeError(w, r, http.StatusBadRequest, "each selection needs post_id and candidate_id")
			return
		}
		if _, dup := selections[postID]; dup {
			writeError(w, r, http.StatusBadRequest, "duplicate selection for post "+postID)
			return
		}
		selections[postID] = candID
	}

	// Identity comes from the verified credential, never the body.
	err := a.elections.SubmitBallot(r.Context(), claims.Matric, selections)
	if err != nil {
		switch {
		case errors.Is(err, election.ErrAlreadyVoted):
			writeError(w, r, http.StatusForbidden, "you have already voted in this election")
		case errors.Is(err, election.ErrIncompleteBallot):
			writeError(w, r, http.StatusBadRequest, "ballot must select one candidate for every post")
		case errors.Is(err, election.ErrUnknownSelection):
			writeError(w, r, http.StatusBadRequest, "ballot contains an unknown post or candidate")
		case errors.Is(err, election.ErrNotFound):
			writeError(w, r, http.StatusForbidden, "voter is not on the roster")
		default:
			obs.Error("ballot submission failed", map[string]any{
				"matric": claims.Matric,
				"error":  err.Error(),
			})
			// A ballot may already exist; the client must check voted
			// status before retrying, so keep the message generic.
			writeError(w, r, http.StatusInternalServerError, "could not record ballot, do not retry blindly")
		}
		return
	}

	obs.CountBallotAccepted()
	_ = audit.LogEvent(r.Context(), "ballot.accepted", map[string]any{"matric": claims.Matric})

	// The credential is now useless; tell the client to drop local state.
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        "ballot recorded",
		"logoutRequired": true,
	})
}
