package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/acapretto/tokenvault/internal/storage"
	"github.com/acapretto/tokenvault/internal/syncer"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(context.Background(), Config{
		DataDir:     t.TempDir(),
		AuthSecret:  "test-secret",
		AccessCodes: []string{"FOILED-BY-MATH"},
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return s
}

func postJSON(t *testing.T, s *Server, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

type closableStore struct {
	storage.BlobStore
	closed bool
}

func (c *closableStore) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

func TestCloseDisconnectsStore(t *testing.T) {
	s := newTestServer(t)

	// The file store holds nothing to release.
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A store with resources, like the Mongo client, must be closed.
	cs := &closableStore{BlobStore: s.store}
	s.store = cs
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !cs.closed {
		t.Fatal("server close did not release the blob store")
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestSyncPushPullDeleteOverHTTP(t *testing.T) {
	s := newTestServer(t)

	push := map[string]any{
		"action":    "push",
		"userId":    "teacher@example.edu",
		"vaultBlob": `{"ciphertext":"abc"}`,
		"deviceId":  "dev-1",
		"version":   1,
	}
	rec := postJSON(t, s, "/api/sync", push, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("push = %d %s", rec.Code, rec.Body.String())
	}
	var pushResp struct {
		Success   bool  `json:"success"`
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pushResp); err != nil {
		t.Fatalf("decode push resp: %v", err)
	}
	if !pushResp.Success || pushResp.Timestamp == 0 {
		t.Fatalf("push resp = %+v", pushResp)
	}

	rec = postJSON(t, s, "/api/sync", map[string]any{"action": "pull", "userId": "teacher@example.edu"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pull = %d %s", rec.Code, rec.Body.String())
	}
	var bundle syncer.Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	if bundle.Vault != `{"ciphertext":"abc"}` || bundle.Meta.Version != 1 {
		t.Fatalf("bundle = %+v", bundle)
	}

	rec = postJSON(t, s, "/api/sync", map[string]any{"action": "delete", "userId": "teacher@example.edu"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, s, "/api/sync", map[string]any{"action": "pull", "userId": "teacher@example.edu"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("pull after delete = %d, want 404", rec.Code)
	}
}

func TestSyncPullViaGet(t *testing.T) {
	s := newTestServer(t)
	postJSON(t, s, "/api/sync", map[string]any{
		"action": "push", "userId": "u@example.edu", "vaultBlob": "blob", "version": 1,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sync?userId=u@example.edu", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET pull = %d %s", rec.Code, rec.Body.String())
	}
}

func TestSyncRejectsOversizedPush(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s, "/api/sync", map[string]any{
		"action":    "push",
		"userId":    "u",
		"vaultBlob": strings.Repeat("x", syncer.MaxBundleSize+1),
	}, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversize push = %d, want 413", rec.Code)
	}
}

func TestSyncMissingUserID(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s, "/api/sync", map[string]any{"action": "push", "vaultBlob": "v"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing userId = %d, want 400", rec.Code)
	}
}

func TestIssueTokenAndProxyAuth(t *testing.T) {
	s := newTestServer(t)

	rec := postJSON(t, s, "/api/auth/token", map[string]string{"accessCode": "foiled-by-math"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("issue = %d %s", rec.Code, rec.Body.String())
	}
	var resp issueTokenResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" || !strings.Contains(resp.Token, ".") {
		t.Fatalf("token = %q", resp.Token)
	}

	// Bad code is rejected with the same generic message.
	rec = postJSON(t, s, "/api/auth/token", map[string]string{"accessCode": "WRONG"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("bad code = %d, want 403", rec.Code)
	}

	// Proxy without a token is unauthorized.
	rec = postJSON(t, s, "/api/proxy", map[string]string{"upstreamUrl": "https://example.edu/api"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("proxy without token = %d, want 401", rec.Code)
	}

	// Proxy with a mangled token is also unauthorized.
	rec = postJSON(t, s, "/api/proxy",
		map[string]string{"upstreamUrl": "https://example.edu/api", "apiToken": "tok"},
		map[string]string{"Authorization": "Bearer " + resp.Token + "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("proxy with mangled token = %d, want 401", rec.Code)
	}

	// With a valid token the request passes the guard and reaches URL
	// validation (http:// is refused before any upstream call).
	rec = postJSON(t, s, "/api/proxy",
		map[string]string{"upstreamUrl": "http://insecure.example.edu", "apiToken": "tok"},
		map[string]string{"Authorization": "Bearer " + resp.Token})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("proxy with http url = %d, want 400", rec.Code)
	}
}

func TestTokenRateLimit(t *testing.T) {
	s := newTestServer(t)
	s.rlToken = newWindowLimiter(3, time.Minute)

	var last int
	for i := 0; i < 4; i++ {
		rec := postJSON(t, s, "/api/auth/token", map[string]string{"accessCode": "FOILED-BY-MATH"}, nil)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("4th call = %d, want 429", last)
	}
}

func TestSyncOperationsFeedAuditChain(t *testing.T) {
	s := newTestServer(t)
	postJSON(t, s, "/api/sync", map[string]any{
		"action": "push", "userId": "u@example.edu", "vaultBlob": "b", "version": 1,
	}, nil)
	postJSON(t, s, "/api/sync", map[string]any{"action": "pull", "userId": "u@example.edu"}, nil)
	postJSON(t, s, "/api/sync", map[string]any{"action": "delete", "userId": "u@example.edu"}, nil)

	entries := s.Audit().Entries()
	if len(entries) != 3 {
		t.Fatalf("audit entries = %d, want 3", len(entries))
	}
	if err := s.Audit().Verify(); err != nil {
		t.Fatalf("audit verify: %v", err)
	}
}

func TestClientRoundTripAgainstServer(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	c := syncer.NewClient(ts.URL)
	ctx := context.Background()

	if err := c.Push(ctx, "me@example.edu", "encrypted-blob", nil); err != nil {
		t.Fatalf("client push: %v", err)
	}
	if c.LocalVersion() != 1 {
		t.Fatalf("localVersion = %d, want 1", c.LocalVersion())
	}

	b, err := c.Pull(ctx, "me@example.edu")
	if err != nil {
		t.Fatalf("client pull: %v", err)
	}
	if b.Vault != "encrypted-blob" || b.Meta.Version != 1 {
		t.Fatalf("bundle = %+v", b)
	}

	// A device that has seen version 5 must refuse the stored version 1.
	stale := syncer.NewClient(ts.URL)
	stale.Restore("other-device", 5)
	if _, err := stale.Pull(ctx, "me@example.edu"); !errors.Is(err, syncer.ErrRollbackDetected) {
		t.Fatalf("expected ErrRollbackDetected, got %v", err)
	}

	if err := c.Delete(ctx, "me@example.edu"); err != nil {
		t.Fatalf("client delete: %v", err)
	}
	if _, err := c.Pull(ctx, "me@example.edu"); err == nil {
		t.Fatal("pull after delete should fail")
	}
}
