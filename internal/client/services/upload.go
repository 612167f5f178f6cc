// Package services holds the uploader's client-side workflows: splitting a
// local file into chunks and pushing them through signed URLs.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/chunkkeeper/internal/api"
	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/cryptox"
	"github.com/dmitrijs2005/chunkkeeper/internal/netx"
)

// Control is the part of the gRPC client the upload workflow needs.
type Control interface {
	CreateUpload(ctx context.Context, req *api.CreateUploadRequest) (*api.Session, error)
	GenerateChunkURLs(ctx context.Context, sessionID string, numbers []int, ttl time.Duration) ([]api.ChunkURL, error)
	GetStatus(ctx context.Context, sessionID string) (*api.UploadStatus, error)
}

// Options tune one upload. Zero values fall back to DefaultOptions.
type Options struct {
	WorkspaceID    string
	ContainerID    string
	ContentType    string
	Metadata       map[string]any
	ChunkSize      int64
	Concurrency    int
	Retries        int
	URLTTL         time.Duration
	RequestTimeout time.Duration
	// BearerToken is sent with chunk POSTs in addition to the URL signature.
	BearerToken string
	// Progress is called after every chunk the server acknowledged.
	Progress func(done, total int)
}

var DefaultOptions = Options{
	ChunkSize:      8 << 20,
	Concurrency:    4,
	Retries:        3,
	RequestTimeout: 30 * time.Second,
}

type UploadService interface {
	// Upload creates a session for path and sends every chunk.
	Upload(ctx context.Context, path string) (*api.UploadStatus, error)
	// Resume sends the chunks of sessionID the server is still missing.
	Resume(ctx context.Context, sessionID, path string) (*api.UploadStatus, error)
}

type uploadService struct {
	control Control
	http    *http.Client
	opts    Options
	backoff func(retries int) retry.Backoff
}

func NewUploadService(control Control, httpClient *http.Client, opts Options) UploadService {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultOptions.ChunkSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultOptions.Concurrency
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultOptions.RequestTimeout
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &uploadService{
		control: control,
		http:    httpClient,
		opts:    opts,
		backoff: func(retries int) retry.Backoff {
			return retry.WithMaxRetries(uint64(retries), retry.NewExponential(200*time.Millisecond))
		},
	}
}

// source is the local file being uploaded.
type source struct {
	f         *os.File
	size      int64
	chunkSize int64
}

func openSource(path string, chunkSize int64) (*source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if fi.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("%s is empty", path)
	}
	return &source{f: f, size: fi.Size(), chunkSize: chunkSize}, nil
}

func (s *source) chunks() int {
	return int((s.size + s.chunkSize - 1) / s.chunkSize)
}

// read returns chunk n (1-based). The last chunk may be shorter.
func (s *source) read(n int) ([]byte, error) {
	off := int64(n-1) * s.chunkSize
	if off >= s.size || n < 1 {
		return nil, fmt.Errorf("chunk %d is outside the file", n)
	}
	buf := make([]byte, min(s.chunkSize, s.size-off))
	if _, err := io.ReadFull(io.NewSectionReader(s.f, off, int64(len(buf))), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (u *uploadService) Upload(ctx context.Context, path string) (*api.UploadStatus, error) {
	src, err := openSource(path, u.opts.ChunkSize)
	if err != nil {
		return nil, err
	}
	defer src.f.Close()

	contentType := u.opts.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}

	sess, err := u.control.CreateUpload(ctx, &api.CreateUploadRequest{
		WorkspaceID: u.opts.WorkspaceID,
		ContainerID: u.opts.ContainerID,
		Filename:    filepath.Base(path),
		ContentType: contentType,
		TotalSize:   src.size,
		ChunksCount: src.chunks(),
		Metadata:    u.opts.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}

	return u.send(ctx, sess.ID, src)
}

func (u *uploadService) Resume(ctx context.Context, sessionID, path string) (*api.UploadStatus, error) {
	st, err := u.control.GetStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// chunk boundaries must match the ones the session was created with
	chunkSize := (st.Session.TotalSize + int64(st.Session.ChunksCount) - 1) / int64(st.Session.ChunksCount)
	src, err := openSource(path, chunkSize)
	if err != nil {
		return nil, err
	}
	defer src.f.Close()

	if src.size != st.Session.TotalSize {
		return nil, fmt.Errorf("%s is %d bytes, session %s expects %d", path, src.size, sessionID, st.Session.TotalSize)
	}
	if len(st.MissingChunks) == 0 {
		return st, nil
	}
	return u.send(ctx, sessionID, src)
}

// send uploads the chunks the server reports missing, Concurrency at a time.
func (u *uploadService) send(ctx context.Context, sessionID string, src *source) (*api.UploadStatus, error) {
	urls, err := u.control.GenerateChunkURLs(ctx, sessionID, nil, u.opts.URLTTL)
	if err != nil {
		return nil, fmt.Errorf("chunk urls: %w", err)
	}

	total := src.chunks()
	var done atomic.Int64
	done.Store(int64(total - len(urls)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Concurrency)
	for _, cu := range urls {
		g.Go(func() error {
			if err := u.sendChunk(gctx, sessionID, src, cu); err != nil {
				return fmt.Errorf("chunk %d: %w", cu.ChunkNumber, err)
			}
			n := done.Add(1)
			if u.opts.Progress != nil {
				u.opts.Progress(int(n), total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	st, err := u.control.GetStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sum := st.Session.AssembledChecksum; sum != "" {
		local, _, err := cryptox.DigestReader(cryptox.SHA256, io.NewSectionReader(src.f, 0, src.size))
		if err != nil {
			return nil, err
		}
		if local != sum {
			return st, &cryptox.MismatchError{Algorithm: cryptox.SHA256, Expected: local, Actual: sum}
		}
	}
	return st, nil
}

func (u *uploadService) sendChunk(ctx context.Context, sessionID string, src *source, cu api.ChunkURL) error {
	data, err := src.read(cu.ChunkNumber)
	if err != nil {
		return err
	}
	headers := map[string]string{common.ChunkChecksumHeader: cryptox.Digest(cryptox.SHA256, data)}
	if u.opts.BearerToken != "" {
		headers["Authorization"] = "Bearer " + u.opts.BearerToken
	}

	url := cu.URL
	refreshed := false
	return retry.Do(ctx, u.backoff(u.opts.Retries), func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, u.opts.RequestTimeout)
		defer cancel()

		_, err := netx.PostChunk(reqCtx, u.http, url, data, headers)
		if err == nil {
			return nil
		}

		var se *netx.StatusError
		if errors.As(err, &se) {
			if se.StatusCode == http.StatusUnauthorized && !refreshed && strings.Contains(string(se.Body), "signature_expired") {
				refreshed = true
				fresh, ferr := u.control.GenerateChunkURLs(ctx, sessionID, []int{cu.ChunkNumber}, u.opts.URLTTL)
				if ferr != nil || len(fresh) == 0 {
					return err
				}
				url = fresh[0].URL
				return retry.RetryableError(err)
			}
			if se.Retryable() {
				return retry.RetryableError(err)
			}
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		// transport failure
		return retry.RetryableError(err)
	})
}
