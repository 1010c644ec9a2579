package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/acapretto/tokenvault/internal/token"
)

const maxTokenRequestBody = 5_000

type issueTokenReq struct {
	AccessCode string `json:"accessCode"`
}

type issueTokenResp struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
	RequestID string `json:"requestId"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	reqID := newRequestID()
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", reqID)
		return
	}
	if !s.rlToken.Allow(getClientIP(r)) {
		tooMany(w, 60)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTokenRequestBody+1))
	if err != nil || len(body) > maxTokenRequestBody {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large", reqID)
		return
	}
	var req issueTokenReq
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json", reqID)
		return
	}

	tok, exp, err := s.tokens.Issue(req.AccessCode)
	if errors.Is(err, token.ErrUnauthorized) {
		// Same message for unknown and empty codes; no hint which codes exist.
		writeError(w, http.StatusForbidden, "invalid access code", reqID)
		return
	}
	if err != nil {
		s.logger.Printf("issue token: %v request=%s", err, reqID)
		writeError(w, http.StatusInternalServerError, "auth error", reqID)
		return
	}
	s.logger.Printf("token issued request=%s expires=%s", reqID, exp.Format(time.RFC3339))
	writeJSON(w, issueTokenResp{Token: tok, ExpiresAt: exp.Unix(), RequestID: reqID})
}
