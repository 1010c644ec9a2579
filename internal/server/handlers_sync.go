package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/acapretto/tokenvault/internal/audit"
	"github.com/acapretto/tokenvault/internal/syncer"
)

// Twice the bundle ceiling leaves room for the JSON envelope around the blob.
const maxSyncRequestBody = 2 * syncer.MaxBundleSize

type syncRequest struct {
	Action     string          `json:"action"` // push | pull | delete
	UserID     string          `json:"userId"`
	VaultBlob  string          `json:"vaultBlob,omitempty"`
	ConfigBlob json.RawMessage `json:"configBlob,omitempty"`
	DeviceID   string          `json:"deviceId,omitempty"`
	Version    int64           `json:"version,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	reqID := newRequestID()
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", reqID)
		return
	}
	if !s.rlSync.Allow(getClientIP(r)) {
		tooMany(w, 60)
		return
	}

	var req syncRequest
	if r.Method == http.MethodGet {
		// GET is a pull keyed by query parameter.
		req.Action = "pull"
		req.UserID = r.URL.Query().Get("userId")
	} else {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSyncRequestBody+1))
		if err != nil || len(body) > maxSyncRequestBody {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large", reqID)
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json", reqID)
			return
		}
	}

	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing userId", reqID)
		return
	}
	// Log lines carry a hash of the identifier, never the identifier itself.
	s.logger.Printf("sync action=%s user=%s request=%s", req.Action, hashUserID(req.UserID), reqID)

	switch req.Action {
	case "push":
		s.handlePush(w, r, req, reqID)
	case "pull":
		s.handlePull(w, r, req, reqID)
	case "delete":
		s.handleDelete(w, r, req, reqID)
	default:
		writeError(w, http.StatusBadRequest, "unknown action", reqID)
	}
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request, req syncRequest, reqID string) {
	if req.VaultBlob == "" {
		writeError(w, http.StatusBadRequest, "missing vaultBlob", reqID)
		return
	}
	bundle := syncer.Bundle{
		Vault:  req.VaultBlob,
		Config: req.ConfigBlob,
		Meta:   syncer.Meta{Version: req.Version, DeviceID: req.DeviceID},
	}
	stamped, err := s.sync.Push(r.Context(), req.UserID, bundle)
	switch {
	case errors.Is(err, syncer.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large", reqID)
	case errors.Is(err, syncer.ErrStorageUnavailable):
		s.logger.Printf("push storage error: %v request=%s", err, reqID)
		writeError(w, http.StatusServiceUnavailable, "storage error", reqID)
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error(), reqID)
	default:
		s.audit.Append(audit.EventPush)
		writeJSON(w, map[string]any{
			"success":   true,
			"timestamp": stamped.Meta.UpdatedAt,
			"requestId": reqID,
		})
	}
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request, req syncRequest, reqID string) {
	bundle, err := s.sync.Pull(r.Context(), req.UserID)
	switch {
	case errors.Is(err, syncer.ErrNotFound):
		writeError(w, http.StatusNotFound, "no data found", reqID)
	case errors.Is(err, syncer.ErrStorageUnavailable):
		s.logger.Printf("pull storage error: %v request=%s", err, reqID)
		writeError(w, http.StatusServiceUnavailable, "storage error", reqID)
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error(), reqID)
	default:
		s.audit.Append(audit.EventPull)
		writeJSON(w, bundle)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, req syncRequest, reqID string) {
	if err := s.sync.Delete(r.Context(), req.UserID); err != nil {
		s.logger.Printf("delete storage error: %v request=%s", err, reqID)
		writeError(w, http.StatusServiceUnavailable, "delete failed", reqID)
		return
	}
	s.audit.Append(audit.EventDelete)
	writeJSON(w, map[string]any{"success": true, "requestId": reqID})
}

func hashUserID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:6])
}
