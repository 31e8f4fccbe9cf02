package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haasonsaas/concierge/internal/auth"
	"github.com/haasonsaas/concierge/internal/stepup"
)

// codeRequest asks for a step-up verification code for one action.
type codeRequest struct {
	Action string `json:"action"`
}

// verifyRequest submits a code for checking.
type verifyRequest struct {
	Action string `json:"action"`
	Code   string `json:"code"`
}

// handleCreateCode mints a verification code. The plaintext appears in the
// response exactly once; delivering it over a second channel is the
// operator's integration, not this endpoint's job.
func (s *Server) handleCreateCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	user := auth.UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "authentication is required")
		return
	}

	var body codeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Action == "" {
		writeError(w, http.StatusBadRequest, "an action is required")
		return
	}

	code, err := s.verifier.CreateCode(r.Context(), user.ID, body.Action)
	if errors.Is(err, stepup.ErrLockedOut) {
		writeError(w, http.StatusTooManyRequests, "verification is locked out; try again later")
		return
	}
	if err != nil {
		s.logger.Error("code creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "the code could not be created")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	user := auth.UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "authentication is required")
		return
	}

	var body verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Action == "" || body.Code == "" {
		writeError(w, http.StatusBadRequest, "an action and code are required")
		return
	}

	ok, err := s.verifier.VerifyCode(r.Context(), user.ID, body.Action, body.Code)
	if errors.Is(err, stepup.ErrLockedOut) {
		writeError(w, http.StatusTooManyRequests, "verification is locked out; try again later")
		return
	}
	if err != nil {
		s.logger.Error("code verification failed", "error", err)
		writeError(w, http.StatusInternalServerError, "the code could not be checked")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "the code did not match")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}
