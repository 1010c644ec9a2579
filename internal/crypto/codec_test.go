package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"golang.org/x/crypto/pbkdf2"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	rec, err := Encrypt("tok_abc123", "correct horse battery")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := Decrypt(rec, "correct horse battery")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "tok_abc123" {
		t.Fatalf("plaintext mismatch: %q", got)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	rec, err := Encrypt("secret", "password-one")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	_, err = Decrypt(rec, "password-two")
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestDecryptTamper(t *testing.T) {
	rec, err := Encrypt("secret", "pw")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	flip := func(s string) string {
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		raw[0] ^= 0x01
		return base64.StdEncoding.EncodeToString(raw)
	}

	cases := map[string]Record{
		"ciphertext": func() Record { r := rec; r.Ciphertext = flip(r.Ciphertext); return r }(),
		"iv":         func() Record { r := rec; r.IV = flip(r.IV); return r }(),
		"salt":       func() Record { r := rec; r.Salt = flip(r.Salt); return r }(),
	}
	for name, mut := range cases {
		if _, err := Decrypt(mut, "pw"); !errors.Is(err, ErrAuthentication) {
			t.Errorf("%s tamper: expected ErrAuthentication, got %v", name, err)
		}
	}
}

func TestDecryptGarbageEncoding(t *testing.T) {
	rec, err := Encrypt("secret", "pw")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	rec.Salt = "not-base64!!!"
	if _, err := Decrypt(rec, "pw"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

// Records written before the kdf header existed must decrypt with the legacy
// iteration count.
func TestDecryptLegacyRecord(t *testing.T) {
	password := "old-password"
	salt := []byte("0123456789abcdef")
	nonce := []byte("0123456789ab")
	key := pbkdf2.Key([]byte(password), salt, LegacyIterations, keySize, sha256.New)
	aead, err := newGCM(key)
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	ct := aead.Seal(nil, nonce, []byte("legacy-token"), nil)

	rec := Record{
		Ciphertext:    base64.StdEncoding.EncodeToString(ct),
		IV:            base64.StdEncoding.EncodeToString(nonce),
		Salt:          base64.StdEncoding.EncodeToString(salt),
		SchemaVersion: 1,
	}
	got, err := Decrypt(rec, password)
	if err != nil {
		t.Fatalf("legacy decrypt: %v", err)
	}
	if got != "legacy-token" {
		t.Fatalf("plaintext mismatch: %q", got)
	}
}

func TestEncryptUniqueSaltAndNonce(t *testing.T) {
	r1, err := Encrypt("same", "same")
	if err != nil {
		t.Fatalf("encrypt1: %v", err)
	}
	r2, err := Encrypt("same", "same")
	if err != nil {
		t.Fatalf("encrypt2: %v", err)
	}
	if r1.Salt == r2.Salt {
		t.Fatal("expected distinct salts")
	}
	if r1.IV == r2.IV {
		t.Fatal("expected distinct nonces")
	}
}

func TestEncryptEmbedsCurrentKDF(t *testing.T) {
	rec, err := Encrypt("s", "p")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if rec.KDF == nil || rec.KDF.Iterations != DefaultIterations {
		t.Fatalf("expected kdf header with %d iterations, got %+v", DefaultIterations, rec.KDF)
	}
	if rec.SchemaVersion != recordSchemaVersion {
		t.Fatalf("expected schema version %d, got %d", recordSchemaVersion, rec.SchemaVersion)
	}
}
