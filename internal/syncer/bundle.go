// Package syncer implements push/pull/delete of a versioned bundle (the
// encrypted vault record plus non-secret settings) against an opaque remote
// blob store, with anti-rollback enforcement on pull.
//
// The store is keyed by a user-supplied identifier (an email string). That
// identifier is NOT authenticated: anyone who knows it can fetch or
// overwrite the blob. This is a deliberate simplification: the blob is
// useless without the vault password, so the identifier plus the
// password-derived key form the actual security boundary.
package syncer

import (
	"encoding/json"
	"errors"
)

// MaxBundleSize caps the serialized vault blob a push may carry.
const MaxBundleSize = 50_000

var (
	ErrNotFound = errors.New("syncer: no bundle for user")
	// ErrRollbackDetected means the fetched bundle carries a version
	// strictly older than local state; applying it would downgrade the
	// device to a superseded, possibly compromised credential set.
	ErrRollbackDetected   = errors.New("syncer: remote bundle is older than local state")
	ErrPayloadTooLarge    = errors.New("syncer: bundle exceeds size ceiling")
	ErrStorageUnavailable = errors.New("syncer: storage unavailable")
	ErrRateLimited        = errors.New("syncer: too many requests")
	ErrMissingUserID      = errors.New("syncer: userId required")
)

// Meta describes a bundle revision. Version is pre-incremented by the
// pushing device (localVersion + 1); concurrent pushes that compute the same
// next version are last-write-wins at the storage layer, with no locking.
// DeviceID identifies the writer for diagnostics only; it is not a
// security boundary.
type Meta struct {
	Version   int64  `json:"version,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"` // unix milliseconds, stamped by the server
	DeviceID  string `json:"deviceId,omitempty"`
}

// Bundle is the unit exchanged with the remote store.
type Bundle struct {
	Vault  string          `json:"vaultBlob"`
	Config json.RawMessage `json:"configBlob,omitempty"`
	Meta   Meta            `json:"meta"`
}

// CheckRollback rejects a fetched version that regresses below the locally
// held one. A zero fetched version is a legacy bundle and passes: records
// written before versioning are accepted as a one-time migration path.
func CheckRollback(localVersion, fetchedVersion int64) error {
	if fetchedVersion > 0 && fetchedVersion < localVersion {
		return ErrRollbackDetected
	}
	return nil
}
