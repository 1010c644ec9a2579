package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	// DefaultIterations is the current PBKDF2 policy for new records.
	DefaultIterations = 250_000
	// LegacyIterations is assumed for records that predate the kdf header.
	LegacyIterations = 100_000

	recordSchemaVersion = 2
)

// ErrAuthentication covers every decryption failure: wrong password,
// corrupted ciphertext, tampered nonce or salt. Callers must not be able to
// tell these apart.
var ErrAuthentication = errors.New("crypto: incorrect password or corrupted vault")

// Encrypt seals secret under a key derived from password with PBKDF2-SHA256
// and a fresh 16-byte salt, using AES-256-GCM with a fresh 12-byte nonce.
// The returned record embeds the exact KDF parameters used.
func Encrypt(secret, password string) (Record, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return Record{}, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Record{}, err
	}

	key := pbkdf2.Key([]byte(password), salt, DefaultIterations, keySize, sha256.New)
	defer Zero(key)

	aead, err := newGCM(key)
	if err != nil {
		return Record{}, err
	}
	ct := aead.Seal(nil, nonce, []byte(secret), nil)

	return Record{
		Ciphertext:    base64.StdEncoding.EncodeToString(ct),
		IV:            base64.StdEncoding.EncodeToString(nonce),
		Salt:          base64.StdEncoding.EncodeToString(salt),
		SchemaVersion: recordSchemaVersion,
		KDF: &KDFHeader{
			Algo:       "PBKDF2",
			Hash:       "SHA-256",
			Iterations: DefaultIterations,
		},
		CreatedAt: time.Now().UnixMilli(),
	}, nil
}

// Decrypt opens a record with the given password, honoring the record's own
// KDF parameters. Records without a kdf header fall back to the legacy
// iteration count. Every failure mode collapses to ErrAuthentication.
func Decrypt(rec Record, password string) (string, error) {
	salt, err := base64.StdEncoding.DecodeString(rec.Salt)
	if err != nil {
		return "", ErrAuthentication
	}
	nonce, err := base64.StdEncoding.DecodeString(rec.IV)
	if err != nil {
		return "", ErrAuthentication
	}
	ct, err := base64.StdEncoding.DecodeString(rec.Ciphertext)
	if err != nil {
		return "", ErrAuthentication
	}

	iterations := LegacyIterations
	if rec.KDF != nil && rec.KDF.Iterations > 0 {
		iterations = rec.KDF.Iterations
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)
	defer Zero(key)

	aead, err := newGCM(key)
	if err != nil {
		return "", ErrAuthentication
	}
	if len(nonce) != aead.NonceSize() {
		return "", ErrAuthentication
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrAuthentication
	}
	out := string(pt)
	Zero(pt)
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Zero overwrites key material in memory once it is no longer needed.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
