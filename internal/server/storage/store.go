// Package storage persists raw chunk bytes. Every stored attempt gets its
// own key, so bytes referenced by a committed chunk row are never
// overwritten. Superseded attempts are removed with Delete.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/google/uuid"
)

// ChunkStore is implemented by the S3 and local filesystem backends.
type ChunkStore interface {
	// Store writes data under a fresh key and returns it. Two calls for the
	// same chunk never share a key.
	Store(ctx context.Context, sessionID string, chunkNumber int, data []byte) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes one object. A missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Cleanup removes every chunk of the session and returns how many
	// objects were removed.
	Cleanup(ctx context.Context, sessionID string) (int, error)
}

// SessionPrefix is the key prefix shared by all chunks of a session.
func SessionPrefix(sessionID string) string {
	return "sessions/" + sessionID + "/"
}

// ChunkKey is zero padded so that lexical order equals numeric order.
// attempt distinguishes uploads of the same chunk number.
func ChunkKey(sessionID string, chunkNumber int, attempt string) string {
	return fmt.Sprintf("%schunk_%06d_%s", SessionPrefix(sessionID), chunkNumber, attempt)
}

func newChunkKey(sessionID string, chunkNumber int) string {
	return ChunkKey(sessionID, chunkNumber, uuid.NewString())
}

// Error is a backend failure. It matches common.ErrStorage and never
// includes the storage key in its message.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *Error) Is(target error) bool { return target == common.ErrStorage }

func (e *Error) Unwrap() error { return e.Err }

// ErrChunkMissing is returned by Read when the key has no bytes behind it.
var ErrChunkMissing = errors.New("chunk bytes missing")

// Concat returns a reader over the given keys, in order, opening each
// object only when the previous one is exhausted.
func Concat(ctx context.Context, store ChunkStore, keys []string) io.ReadCloser {
	return &concatReader{ctx: ctx, store: store, keys: keys}
}

type concatReader struct {
	ctx   context.Context
	store ChunkStore
	keys  []string
	cur   io.ReadCloser
}

func (r *concatReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if len(r.keys) == 0 {
				return 0, io.EOF
			}
			if err := r.ctx.Err(); err != nil {
				return 0, err
			}
			rc, err := r.store.Read(r.ctx, r.keys[0])
			if err != nil {
				return 0, err
			}
			r.cur = rc
			r.keys = r.keys[1:]
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			_ = r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *concatReader) Close() error {
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}
