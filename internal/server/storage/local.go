package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/chunkkeeper/internal/filex"
)

// LocalStore keeps chunks as files under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates root if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, &Error{Op: "init", Err: err}
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	if !filepath.IsLocal(key) {
		return "", fmt.Errorf("key %q escapes the store root", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *LocalStore) Store(ctx context.Context, sessionID string, chunkNumber int, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := newChunkKey(sessionID, chunkNumber)
	p, err := s.path(key)
	if err != nil {
		return "", &Error{Op: "store", Err: err}
	}
	if _, err := filex.WriteFileAtomic(p, bytes.NewReader(data)); err != nil {
		return "", &Error{Op: "store", Err: err}
	}
	return key, nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, &Error{Op: "exists", Err: err}
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &Error{Op: "exists", Err: err}
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return &Error{Op: "delete", Err: err}
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Op: "delete", Err: err}
	}
	return nil
}

func (s *LocalStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, &Error{Op: "read", Err: err}
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &Error{Op: "read", Err: ErrChunkMissing}
	}
	if err != nil {
		return nil, &Error{Op: "read", Err: err}
	}
	return f, nil
}

func (s *LocalStore) Cleanup(ctx context.Context, sessionID string) (int, error) {
	dir, err := s.path(SessionPrefix(sessionID))
	if err != nil {
		return 0, &Error{Op: "cleanup", Err: err}
	}
	files, _, err := filex.DirSize(dir)
	if err != nil {
		return 0, &Error{Op: "cleanup", Err: err}
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, &Error{Op: "cleanup", Err: err}
	}
	return files, nil
}
