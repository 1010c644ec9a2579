package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxProxyRequestBody = 100_000

// proxyRequest asks the server to relay a call to an upstream HTTPS API on
// the caller's behalf, using the caller's long-lived API token. The
// capability token in the Authorization header is what authorizes the relay;
// the upstream token never needs to leave the caller's vault except inside
// this request.
type proxyRequest struct {
	UpstreamURL string          `json:"upstreamUrl"`
	Method      string          `json:"method,omitempty"`
	APIToken    string          `json:"apiToken"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	reqID := newRequestID()
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", reqID)
		return
	}
	if !s.rlProxy.Allow(getClientIP(r)) {
		tooMany(w, 60)
		return
	}

	auth := r.Header.Get("Authorization")
	bearer := strings.TrimPrefix(auth, "Bearer ")
	if bearer == auth || !s.tokens.Verify(bearer) {
		// One message for missing, malformed, forged and expired tokens.
		writeError(w, http.StatusUnauthorized, "unauthorized", reqID)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyRequestBody+1))
	if err != nil || len(body) > maxProxyRequestBody {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large", reqID)
		return
	}
	var req proxyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json", reqID)
		return
	}
	if !isValidHTTPSURL(req.UpstreamURL) {
		writeError(w, http.StatusBadRequest, "invalid upstream url", reqID)
		return
	}
	if req.APIToken == "" {
		writeError(w, http.StatusBadRequest, "missing api token", reqID)
		return
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	upReq, err := http.NewRequestWithContext(r.Context(), method, req.UpstreamURL, bytes.NewReader(req.Payload))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid upstream request", reqID)
		return
	}
	upReq.Header.Set("Authorization", "Bearer "+req.APIToken)
	if len(req.Payload) > 0 {
		upReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.upstream.Do(upReq)
	if err != nil {
		s.logger.Printf("proxy upstream error: %v request=%s", err, reqID)
		writeError(w, http.StatusBadGateway, "upstream unavailable", reqID)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, io.LimitReader(resp.Body, 10<<20))
}

func isValidHTTPSURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "https" && u.Host != ""
}
