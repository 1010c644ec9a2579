// Package token issues and verifies the short-lived capability tokens that
// gate the network proxy. Verification is stateless: a token is a pure
// function of its payload and the server-held secret, so no session table is
// needed, at the cost of not being able to revoke one token early.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// DefaultTTL bounds expiresAt relative to issuedAt.
const DefaultTTL = 14 * 24 * time.Hour

var ErrUnauthorized = errors.New("token: invalid access code")

// Payload is the signed token body. Wire format of the full token is
// base64url(JSON payload) + "." + base64url(HMAC-SHA256), no padding.
type Payload struct {
	IssuedAt  int64 `json:"iat"`
	ExpiresAt int64 `json:"exp"`
	Version   int   `json:"v"`
}

type Service struct {
	secret []byte
	codes  map[string]struct{}
	ttl    time.Duration
	now    func() time.Time
}

type Config struct {
	Secret      []byte
	AccessCodes []string
	TTL         time.Duration
	Now         func() time.Time
}

func NewService(cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	codes := make(map[string]struct{}, len(cfg.AccessCodes))
	for _, c := range cfg.AccessCodes {
		codes[normalizeCode(c)] = struct{}{}
	}
	return &Service{secret: cfg.Secret, codes: codes, ttl: cfg.TTL, now: cfg.Now}
}

func normalizeCode(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// Issue checks the presented access code against the allow-list
// (case-insensitive, trimmed) and returns a signed bearer token.
func (s *Service) Issue(presentedCode string) (tok string, expiresAt time.Time, err error) {
	if _, ok := s.codes[normalizeCode(presentedCode)]; !ok {
		return "", time.Time{}, ErrUnauthorized
	}
	now := s.now()
	exp := now.Add(s.ttl)
	p := Payload{IssuedAt: now.Unix(), ExpiresAt: exp.Unix(), Version: 1}
	body, err := json.Marshal(p)
	if err != nil {
		return "", time.Time{}, err
	}
	enc := base64.RawURLEncoding.EncodeToString(body)
	return enc + "." + s.sign(enc), exp, nil
}

// Verify reports whether tok carries a genuine, unexpired payload. Malformed
// input of any shape is simply invalid; Verify never panics.
func (s *Service) Verify(tok string) bool {
	enc, sig, ok := strings.Cut(tok, ".")
	if !ok || enc == "" || sig == "" {
		return false
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(enc))) {
		return false
	}
	body, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return false
	}
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return false
	}
	return p.ExpiresAt > s.now().Unix()
}

func (s *Service) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
