package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/acapretto/tokenvault/internal/storage"
)

// Service is the server-side leg of the protocol: it validates, stamps and
// stores bundles in a blob store. It adds no locking; see Meta.Version for
// the documented last-write-wins behavior.
type Service struct {
	store storage.BlobStore
	now   func() time.Time
}

func NewService(store storage.BlobStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Push stores bundle under userID, stamping Meta.UpdatedAt with the current
// time. Bundles over MaxBundleSize are rejected before touching storage.
func (s *Service) Push(ctx context.Context, userID string, b Bundle) (Bundle, error) {
	if userID == "" {
		return Bundle{}, ErrMissingUserID
	}
	if b.Vault == "" {
		return Bundle{}, errors.New("syncer: vaultBlob required")
	}
	if len(b.Vault)+len(b.Config) > MaxBundleSize {
		return Bundle{}, ErrPayloadTooLarge
	}
	b.Meta.UpdatedAt = s.now().UnixMilli()

	data, err := json.Marshal(b)
	if err != nil {
		return Bundle{}, err
	}
	if err := s.store.Put(ctx, userID, data); err != nil {
		return Bundle{}, wrapStorage(err)
	}
	return b, nil
}

// Pull fetches the bundle stored under userID. Rollback checking against a
// device's local version happens on the client, which is the side that
// holds that state.
func (s *Service) Pull(ctx context.Context, userID string) (Bundle, error) {
	if userID == "" {
		return Bundle{}, ErrMissingUserID
	}
	data, err := s.store.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return Bundle{}, ErrNotFound
	}
	if err != nil {
		return Bundle{}, wrapStorage(err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("%w: corrupt bundle: %v", ErrStorageUnavailable, err)
	}
	return b, nil
}

// Delete removes the stored bundle; deleting an absent one succeeds.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if err := s.store.Delete(ctx, userID); err != nil {
		return wrapStorage(err)
	}
	return nil
}

func wrapStorage(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
