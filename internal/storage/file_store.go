package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// FileBlobStore keeps one file per blob under dir. Identifiers are
// user-supplied strings (emails), so filenames use a hash of the id rather
// than the id itself. Meant for development and single-host deployments.
type FileBlobStore struct{ dir string }

func NewFileBlobStore(dir string) *FileBlobStore {
	_ = os.MkdirAll(dir, 0o700)
	return &FileBlobStore{dir: dir}
}

func (f *FileBlobStore) path(id string) string {
	sum := sha256.Sum256([]byte(id))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:16])+".blob")
}

func (f *FileBlobStore) Put(_ context.Context, id string, data []byte) error {
	if err := os.WriteFile(f.path(id), data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (f *FileBlobStore) Get(_ context.Context, id string) ([]byte, error) {
	b, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return b, nil
}

func (f *FileBlobStore) Delete(_ context.Context, id string) error {
	err := os.Remove(f.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
