package crypto

// KDFHeader records the key-derivation parameters a Record was created with.
// Decryption must honor these, not the current defaults, so records created
// under older policies keep working.
type KDFHeader struct {
	Algo       string `json:"name"` // "PBKDF2"
	Hash       string `json:"hash"` // "SHA-256"
	Iterations int    `json:"iterations"`
}

// Record is the persisted, non-secret-revealing form of the credential.
// Field encoding mirrors the on-disk vault format: ciphertext, iv and salt
// are standard base64 strings.
type Record struct {
	Ciphertext    string     `json:"ciphertext"`
	IV            string     `json:"iv"`
	Salt          string     `json:"salt"`
	SchemaVersion int        `json:"version"`
	KDF           *KDFHeader `json:"kdf,omitempty"`
	CreatedAt     int64      `json:"createdAt"` // unix milliseconds
}
