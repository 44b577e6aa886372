package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"tufserv/internal/domain"
)

// LocalStore is the reference blob store: one file per target under
// root/{repo}/{sha256(filename)}. Hashing the filename sidesteps any
// path characters the underlying filesystem would object to.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("blob store root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, err
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) Put(_ context.Context, repoID, filename string, content []byte) error {
	dir := filepath.Join(s.root, repoID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path(repoID, filename))
}

func (s *LocalStore) Get(_ context.Context, repoID, filename string) ([]byte, error) {
	content, err := os.ReadFile(s.path(repoID, filename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrMissingEntity
		}
		return nil, err
	}
	return content, nil
}

func (s *LocalStore) Exists(_ context.Context, repoID, filename string) (bool, error) {
	_, err := os.Stat(s.path(repoID, filename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *LocalStore) Delete(_ context.Context, repoID, filename string) error {
	err := os.Remove(s.path(repoID, filename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) path(repoID, filename string) string {
	sum := sha256.Sum256([]byte(filename))
	return filepath.Join(s.root, repoID, hex.EncodeToString(sum[:]))
}
