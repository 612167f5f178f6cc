package services

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/dbx"
	"github.com/dmitrijs2005/chunkkeeper/internal/filex"
	"github.com/dmitrijs2005/chunkkeeper/internal/logging"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/config"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/scanning"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/security"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/signedurl"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ws      = "ws-1"
	owner   = "alice"
	collab  = "bob"
	viewer  = "vic"
	outside = "mallory"
)

// flakyStore wraps a real store and can be told to fail or to pause.
// Hooks must be set before the goroutines that use the store start.
type flakyStore struct {
	storage.ChunkStore
	failStore atomic.Bool
	failRead  atomic.Bool

	// afterStore runs once the bytes of an attempt are written.
	afterStore func(chunkNumber int)
	// beforeRead runs before every chunk read.
	beforeRead func(key string)
}

func (f *flakyStore) Store(ctx context.Context, id string, n int, data []byte) (string, error) {
	if f.failStore.Load() {
		return "", &storage.Error{Op: "store", Err: errors.New("no space left on device")}
	}
	key, err := f.ChunkStore.Store(ctx, id, n, data)
	if err == nil && f.afterStore != nil {
		f.afterStore(n)
	}
	return key, err
}

func (f *flakyStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if f.beforeRead != nil {
		f.beforeRead(key)
	}
	if f.failRead.Load() {
		return nil, &storage.Error{Op: "read", Err: errors.New("i/o timeout")}
	}
	return f.ChunkStore.Read(ctx, key)
}

type fixture struct {
	svc       *UploadService
	assembler *Assembler
	rm        *repomanager.InMemoryRepositoryManager
	store     *flakyStore
	queue     *scanning.MemoryQueue
	signer    *signedurl.Signer
	cfg       *config.Config
}

func newFixture(t *testing.T, scan bool, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg := &config.Config{
		PublicHTTPURL: "http://uploads.test",
		SecretKey:     "test-secret",
		MaxUploadSize: 1 << 20,
		MaxChunkSize:  1 << 10,
		SignedURLTTL:  time.Hour,
		ChunkDir:      t.TempDir(),
		AssembledDir:  t.TempDir(),
	}
	for _, m := range mutate {
		m(cfg)
	}

	rm := repomanager.NewInMemoryRepositoryManager()
	require.NoError(t, rm.Members(nil).Add(ctx, ws, owner, models.RoleOwner))
	require.NoError(t, rm.Members(nil).Add(ctx, ws, collab, models.RoleCollaborator))
	require.NoError(t, rm.Members(nil).Add(ctx, ws, viewer, models.RoleViewer))

	local, err := storage.NewLocalStore(cfg.ChunkDir)
	require.NoError(t, err)
	store := &flakyStore{ChunkStore: local}

	signer, err := signedurl.NewSigner(cfg.SecretKey, cfg.SignedURLTTL)
	require.NoError(t, err)

	tx := &dbx.LockingTxRunner{}
	var queue *scanning.MemoryQueue
	var q scanning.Queue
	if scan {
		queue = scanning.NewMemoryQueue(16)
		q = queue
	}
	asm := NewAssembler(tx, rm, store, q, cfg.AssembledDir, logging.Nop{})
	svc := NewUploadService(cfg, tx, rm, store, signer, asm, logging.Nop{})

	return &fixture{svc: svc, assembler: asm, rm: rm, store: store, queue: queue, signer: signer, cfg: cfg}
}

func (f *fixture) create(t *testing.T, filename string, chunks ...[]byte) *models.UploadSession {
	t.Helper()
	var total int64
	for _, c := range chunks {
		total += int64(len(c))
	}
	sess, err := f.svc.CreateUpload(context.Background(), CreateUploadRequest{
		WorkspaceID: ws,
		UserID:      owner,
		Filename:    filename,
		ContentType: "audio/wav",
		TotalSize:   total,
		ChunksCount: len(chunks),
		Metadata:    map[string]any{"source": "test"},
	})
	require.NoError(t, err)
	return sess
}

func (f *fixture) ingest(sessionID string, n int, data []byte, checksum string) (*IngestResult, error) {
	return f.svc.IngestChunk(context.Background(), IngestRequest{
		SessionID:   sessionID,
		ChunkNumber: n,
		UserID:      owner,
		Data:        data,
		Checksum:    checksum,
	})
}

func (f *fixture) session(t *testing.T, id string) *models.UploadSession {
	t.Helper()
	s, err := f.rm.Sessions(nil).Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

// storedChunks counts the chunk objects the local store holds for a session.
func (f *fixture) storedChunks(t *testing.T, id string) int {
	t.Helper()
	n, _, err := filex.DirSize(filepath.Join(f.cfg.ChunkDir, filepath.FromSlash(storage.SessionPrefix(id))))
	require.NoError(t, err)
	return n
}

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var (
	c1 = []byte("first chunk|")
	c2 = []byte("second chunk|")
	c3 = []byte("third")
)

func TestCreateUpload_Validation(t *testing.T) {
	f := newFixture(t, false)
	base := CreateUploadRequest{WorkspaceID: ws, UserID: owner, Filename: "mix.wav", TotalSize: 100, ChunksCount: 1}

	tests := []struct {
		name   string
		mutate func(r *CreateUploadRequest)
		want   error
	}{
		{"traversal", func(r *CreateUploadRequest) { r.Filename = "../../etc/passwd" }, common.ErrInvalidFilename},
		{"separator", func(r *CreateUploadRequest) { r.Filename = "dir/mix.wav" }, common.ErrInvalidFilename},
		{"backslash", func(r *CreateUploadRequest) { r.Filename = `dir\mix.wav` }, common.ErrInvalidFilename},
		{"empty", func(r *CreateUploadRequest) { r.Filename = "" }, common.ErrInvalidFilename},
		{"dots only", func(r *CreateUploadRequest) { r.Filename = "..." }, common.ErrInvalidFilename},
		{"control char", func(r *CreateUploadRequest) { r.Filename = "mix\x00.wav" }, common.ErrInvalidFilename},
		{"too long", func(r *CreateUploadRequest) { r.Filename = strings.Repeat("a", 256) }, common.ErrInvalidFilename},
		{"zero size", func(r *CreateUploadRequest) { r.TotalSize = 0 }, common.ErrInvalidSize},
		{"over ceiling", func(r *CreateUploadRequest) { r.TotalSize = 2 << 20; r.ChunksCount = 4096 }, common.ErrInvalidSize},
		{"no chunks", func(r *CreateUploadRequest) { r.ChunksCount = 0 }, common.ErrInvalidSize},
		{"more chunks than bytes", func(r *CreateUploadRequest) { r.ChunksCount = 101 }, common.ErrInvalidSize},
		{"chunks too big", func(r *CreateUploadRequest) { r.TotalSize = 4096; r.ChunksCount = 2 }, common.ErrChunkTooLarge},
		{"bad workspace", func(r *CreateUploadRequest) { r.WorkspaceID = "../ws" }, common.ErrValidation},
		{"bad metadata", func(r *CreateUploadRequest) { r.Metadata = map[string]any{"ch": make(chan int)} }, common.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := f.svc.CreateUpload(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestCreateUpload_PermissionAndUniqueness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	req := CreateUploadRequest{WorkspaceID: ws, UserID: viewer, Filename: "mix.wav", TotalSize: 10, ChunksCount: 1}

	_, err := f.svc.CreateUpload(ctx, req)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	req.UserID = collab
	first, err := f.svc.CreateUpload(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, first.Status)
	assert.Equal(t, collab, first.OwnerUserID)

	_, err = f.svc.CreateUpload(ctx, req)
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)

	req.ContainerID = "folder-2"
	_, err = f.svc.CreateUpload(ctx, req)
	require.NoError(t, err, "other container is another destination")

	req.ContainerID = ""
	_, err = f.svc.CancelUpload(ctx, first.ID, collab)
	require.NoError(t, err)
	_, err = f.svc.CreateUpload(ctx, req)
	require.NoError(t, err, "cancelled sessions release the destination")
}

func TestIngest_OutOfOrderAssemblesWithoutScanner(t *testing.T) {
	f := newFixture(t, false)
	sess := f.create(t, "song.wav", c1, c2, c3)

	res, err := f.ingest(sess.ID, 2, c2, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploading, res.Session.Status)
	assert.Equal(t, 33.33, res.Progress)
	assert.Nil(t, res.Assembly)
	assert.Equal(t, sha(c2), res.Chunk.Checksum)
	assert.Equal(t, models.ChunkStatusCompleted, res.Chunk.Status)

	res, err = f.ingest(sess.ID, 3, c3, sha(c3))
	require.NoError(t, err)
	assert.Equal(t, 66.67, res.Progress)

	st, err := f.svc.GetStatus(context.Background(), sess.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, st.CompletedChunks)
	assert.Equal(t, []int{1}, st.MissingChunks)

	res, err = f.ingest(sess.ID, 1, c1, "")
	require.NoError(t, err)
	require.NotNil(t, res.Assembly)
	assert.Equal(t, models.StatusCompleted, res.Session.Status)
	assert.Equal(t, float64(100), res.Progress)

	want := bytes.Join([][]byte{c1, c2, c3}, nil)
	got, err := os.ReadFile(res.Assembly.Path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, sha(want), res.Assembly.Checksum)

	stored := f.session(t, sess.ID)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, res.Assembly.Path, stored.AssembledFilePath)
	assert.Equal(t, sha(want), stored.AssembledChecksum)

	assert.Zero(t, f.storedChunks(t, sess.ID), "chunk bytes are released after assembly")
}

func TestIngest_ScannerPathAndCallbacks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	clean := f.create(t, "clean.wav", c1, c2)
	_, err := f.ingest(clean.ID, 1, c1, "")
	require.NoError(t, err)
	res, err := f.ingest(clean.ID, 2, c2, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusVirusScanning, res.Session.Status)

	require.Equal(t, 1, f.queue.Len())
	job, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, clean.ID, job.SessionID)
	assert.Equal(t, res.Assembly.Path, job.FilePath)
	assert.NotNil(t, f.session(t, clean.ID).VirusScanQueuedAt)

	require.NoError(t, f.svc.ScanClean(ctx, clean.ID))
	stored := f.session(t, clean.ID)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	v, _ := stored.Metadata.Get(MetaScanResult)
	assert.Equal(t, "clean", v)
	v, _ = stored.Metadata.Get("source")
	assert.Equal(t, "test", v)

	err = f.svc.ScanClean(ctx, clean.ID)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	dirty := f.create(t, "dirty.wav", c1)
	res, err = f.ingest(dirty.ID, 1, c1, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.ScanDirty(ctx, dirty.ID, "signature matched: EICAR-Test-File"))

	stored = f.session(t, dirty.ID)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "EICAR")
	v, _ = stored.Metadata.Get(MetaScanResult)
	assert.Equal(t, "infected", v)
	_, err = os.Stat(res.Assembly.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIngest_IdempotentReupload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	sess := f.create(t, "take.wav", c1, c2)

	first, err := f.ingest(sess.ID, 1, []byte("draft"), "")
	require.NoError(t, err)
	second, err := f.ingest(sess.ID, 1, c1, "")
	require.NoError(t, err)
	assert.Equal(t, first.Chunk.ID, second.Chunk.ID)
	assert.NotEqual(t, first.Chunk.StorageKey, second.Chunk.StorageKey)
	assert.Equal(t, 1, f.storedChunks(t, sess.ID), "the replaced attempt is deleted")

	rows, err := f.rm.Chunks(nil).ListBySession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(len(c1)), rows[0].Size)
	assert.Equal(t, sha(c1), rows[0].Checksum)
	assert.Equal(t, models.StatusUploading, f.session(t, sess.ID).Status)

	res, err := f.ingest(sess.ID, 2, c2, "")
	require.NoError(t, err)
	got, err := os.ReadFile(res.Assembly.Path)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, c1...), c2...), got)
}

func TestIngest_Checksums(t *testing.T) {
	f := newFixture(t, false)
	sess := f.create(t, "sum.wav", c1, c2, c3)

	_, err := f.ingest(sess.ID, 1, c1, sha(c2))
	require.ErrorIs(t, err, common.ErrChecksumMismatch)
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Contains(t, err.Error(), "chunk 1")
	assert.Zero(t, f.storedChunks(t, sess.ID), "mismatching chunk must not be stored")
	assert.Equal(t, models.StatusPending, f.session(t, sess.ID).Status)

	md := md5.Sum(c1)
	_, err = f.ingest(sess.ID, 1, c1, strings.ToUpper(hex.EncodeToString(md[:])))
	require.NoError(t, err)

	_, err = f.ingest(sess.ID, 2, c2, "not-a-digest")
	require.NoError(t, err, "unrecognised shapes are ignored")

	strict := newFixture(t, false, func(c *config.Config) { c.RequireChecksums = true })
	sess = strict.create(t, "strict.wav", c1)
	_, err = strict.ingest(sess.ID, 1, c1, "")
	assert.ErrorIs(t, err, common.ErrChecksumRequired)
	_, err = strict.ingest(sess.ID, 1, c1, sha(c1))
	require.NoError(t, err)
}

func TestIngest_Rejections(t *testing.T) {
	f := newFixture(t, false)
	sess := f.create(t, "r.wav", c1, c2)

	_, err := f.ingest(sess.ID, 0, c1, "")
	assert.ErrorIs(t, err, common.ErrInvalidChunkNumber)
	_, err = f.ingest(sess.ID, 3, c1, "")
	assert.ErrorIs(t, err, common.ErrInvalidChunkNumber)
	assert.Contains(t, err.Error(), "1..2")

	_, err = f.ingest(sess.ID, 1, nil, "")
	assert.ErrorIs(t, err, common.ErrEmptyChunk)

	_, err = f.ingest(sess.ID, 1, make([]byte, 2<<10), "")
	assert.ErrorIs(t, err, common.ErrChunkTooLarge)

	_, err = f.ingest("no-such-session", 1, c1, "")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	for _, user := range []string{viewer, outside, ""} {
		_, err = f.svc.IngestChunk(context.Background(), IngestRequest{SessionID: sess.ID, ChunkNumber: 1, UserID: user, Data: c1})
		assert.ErrorIs(t, err, common.ErrorNotFound, user)
	}

	_, err = f.svc.IngestChunk(context.Background(), IngestRequest{SessionID: sess.ID, ChunkNumber: 1, UserID: collab, Data: c1})
	require.NoError(t, err, "collaborators may upload")
	_, err = f.ingest(sess.ID, 2, c2, "")
	require.NoError(t, err)

	_, err = f.ingest(sess.ID, 1, c1, "")
	require.ErrorIs(t, err, common.ErrSessionNotAcceptingChunks)
	assert.Contains(t, err.Error(), string(models.StatusCompleted))
}

func TestIngest_LateChunkAfterAssemblyStartedIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	sess := f.create(t, "late.wav", c1, c2)
	_, err := f.ingest(sess.ID, 1, c1, "")
	require.NoError(t, err)

	ok, err := f.rm.Sessions(nil).CompareAndSwapStatus(ctx, sess.ID, []models.Status{models.StatusUploading}, models.StatusAssembling)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.ingest(sess.ID, 2, c2, "")
	assert.ErrorIs(t, err, common.ErrSessionNotAcceptingChunks)
}

func TestIngest_ReuploadDuringAssemblyKeepsRecordedBytes(t *testing.T) {
	f := newFixture(t, false)
	sess := f.create(t, "overlap.wav", c1, c2)
	_, err := f.ingest(sess.ID, 1, c1, "")
	require.NoError(t, err)

	written := make(chan struct{})
	resume := make(chan struct{})
	f.store.afterStore = func(n int) {
		if n == 1 {
			close(written)
			<-resume
		}
	}

	late := make(chan error, 1)
	go func() {
		// Same length as c1, so only the content can tell them apart.
		_, err := f.ingest(sess.ID, 1, []byte("rewritten!!|"), "")
		late <- err
	}()
	<-written

	res, err := f.ingest(sess.ID, 2, c2, "")
	close(resume)
	require.NoError(t, err)
	require.ErrorIs(t, <-late, common.ErrSessionNotAcceptingChunks)

	got, err := os.ReadFile(res.Assembly.Path)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, c1...), c2...), got)
	assert.Zero(t, f.storedChunks(t, sess.ID))
}

func TestIngest_RejectedAttemptIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	sess := f.create(t, "discard.wav", c1, c2)
	_, err := f.ingest(sess.ID, 1, c1, "")
	require.NoError(t, err)
	require.Equal(t, 1, f.storedChunks(t, sess.ID))

	f.store.afterStore = func(int) {
		ok, err := f.rm.Sessions(nil).CompareAndSwapStatus(ctx, sess.ID,
			[]models.Status{models.StatusUploading}, models.StatusCancelled)
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, err = f.ingest(sess.ID, 2, c2, "")
	require.ErrorIs(t, err, common.ErrSessionNotAcceptingChunks)
	assert.Equal(t, 1, f.storedChunks(t, sess.ID), "bytes of the rejected attempt are deleted")

	row, err := f.rm.Chunks(nil).Get(ctx, sess.ID, 1)
	require.NoError(t, err)
	ok, err := f.store.Exists(ctx, row.StorageKey)
	require.NoError(t, err)
	assert.True(t, ok, "the recorded chunk is untouched")
}

func TestIngest_SecurityVerdicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	blocked := f.create(t, "screensaver.scr", c1)
	_, err := f.ingest(blocked.ID, 1, c1, "")
	var be *security.BlockedError
	require.ErrorAs(t, err, &be)
	assert.ErrorIs(t, err, common.ErrSecurityBlocked)
	assert.Equal(t, models.RiskCritical, be.Report.RiskLevel)
	assert.Zero(t, f.storedChunks(t, blocked.ID))

	flagged := f.create(t, "plugin.exe", c1, c2)
	res, err := f.ingest(flagged.ID, 1, c1, "")
	require.NoError(t, err)
	require.NotNil(t, res.Security)
	assert.Equal(t, models.RiskMedium, res.Security.RiskLevel)
	assert.True(t, res.Security.RequiresVerification)
	assert.Contains(t, res.Security.Warnings, security.WarnExecutable)

	rows, err := f.rm.Chunks(nil).ListBySession(ctx, flagged.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.RiskMedium, rows[0].SecurityMetadata.RiskLevel)

	plain := f.create(t, "plain.wav", c1, c2)
	res, err = f.ingest(plain.ID, 1, c1, "")
	require.NoError(t, err)
	assert.Nil(t, res.Security)
}

func TestIngest_StorageFailureIsServerSide(t *testing.T) {
	f := newFixture(t, false)
	sess := f.create(t, "disk.wav", c1, c2)

	f.store.failStore.Store(true)
	_, err := f.ingest(sess.ID, 1, c1, "")
	require.ErrorIs(t, err, common.ErrStorage)
	assert.False(t, common.IsClientError(err))
	assert.NotContains(t, err.Error(), storage.SessionPrefix(sess.ID))

	f.store.failStore.Store(false)
	_, err = f.ingest(sess.ID, 1, c1, "")
	require.NoError(t, err, "the same chunk can be retried")
}

func TestIngest_IntegrityFailureFailsSession(t *testing.T) {
	f := newFixture(t, false)
	sess, err := f.svc.CreateUpload(context.Background(), CreateUploadRequest{
		WorkspaceID: ws, UserID: owner, Filename: "short.wav", TotalSize: 100, ChunksCount: 2,
	})
	require.NoError(t, err)

	_, err = f.ingest(sess.ID, 1, c1, "")
	require.NoError(t, err)
	_, err = f.ingest(sess.ID, 2, c2, "")
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, common.ErrIntegrity)
	assert.EqualValues(t, 100, ie.Expected)
	assert.EqualValues(t, len(c1)+len(c2), ie.Actual)

	stored := f.session(t, sess.ID)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.FailureReason)
	_, err = os.Stat(f.assembler.OutputPath(stored))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIngest_ConcurrentChunksAssembleOnce(t *testing.T) {
	f := newFixture(t, true)
	const n = 8
	parts := make([][]byte, n)
	for i := range parts {
		parts[i] = []byte(fmt.Sprintf("part-%02d;", i+1))
	}
	sess := f.create(t, "race.wav", parts...)

	var (
		wg         sync.WaitGroup
		assemblies atomic.Int32
	)
	for round := 0; round < 2; round++ {
		for i := n; i >= 1; i-- {
			wg.Add(1)
			go func(num int) {
				defer wg.Done()
				res, err := f.ingest(sess.ID, num, parts[num-1], "")
				if err != nil {
					// A duplicate can arrive while the session is assembling.
					assert.True(t, errors.Is(err, common.ErrSessionNotAcceptingChunks) ||
						errors.Is(err, common.ErrAssemblyInProgress) ||
						errors.Is(err, common.ErrInvalidTransition), err)
					return
				}
				if res.Assembly != nil {
					assemblies.Add(1)
				}
			}(i)
		}
	}
	wg.Wait()

	assert.EqualValues(t, 1, assemblies.Load())
	assert.Equal(t, 1, f.queue.Len())

	stored := f.session(t, sess.ID)
	assert.Equal(t, models.StatusVirusScanning, stored.Status)
	got, err := os.ReadFile(stored.AssembledFilePath)
	require.NoError(t, err)
	assert.Equal(t, bytes.Join(parts, nil), got)

	rows, err := f.rm.Chunks(nil).ListBySession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, rows, n)
}

func TestCancelAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	sess := f.create(t, "cancel.wav", c1, c2)
	_, err := f.ingest(sess.ID, 1, c1, "")
	require.NoError(t, err)

	_, err = f.svc.CancelUpload(ctx, sess.ID, collab)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	_, err = f.svc.CancelUpload(ctx, sess.ID, outside)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	cancelled, err := f.svc.CancelUpload(ctx, sess.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Zero(t, f.storedChunks(t, sess.ID))

	_, err = f.svc.CancelUpload(ctx, sess.ID, owner)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
	_, err = f.ingest(sess.ID, 2, c2, "")
	assert.ErrorIs(t, err, common.ErrSessionNotAcceptingChunks)

	require.NoError(t, f.svc.DeleteUpload(ctx, sess.ID, owner))
	_, err = f.svc.GetStatus(ctx, sess.ID, owner)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	rows, err := f.rm.Chunks(nil).ListBySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGenerateChunkURLs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	sess := f.create(t, "signed.wav", c1, c2, c3)
	_, err := f.ingest(sess.ID, 2, c2, "")
	require.NoError(t, err)

	urls, err := f.svc.GenerateChunkURLs(ctx, sess.ID, collab, nil, 0)
	require.NoError(t, err)
	require.Len(t, urls, 2)
	assert.Equal(t, 1, urls[0].ChunkNumber)
	assert.Equal(t, 3, urls[1].ChunkNumber)

	for _, cu := range urls {
		u, err := url.Parse(cu.URL)
		require.NoError(t, err)
		assert.Equal(t, "uploads.test", u.Host)
		assert.Equal(t, ChunkPath(sess.ID, cu.ChunkNumber), u.Path)
		user, err := f.signer.VerifyQuery(sess.ID, cu.ChunkNumber, u.Query())
		require.NoError(t, err)
		assert.Equal(t, collab, user)
		assert.WithinDuration(t, time.Now().Add(time.Hour), cu.ExpiresAt, time.Minute)

		_, err = f.signer.VerifyQuery(sess.ID, cu.ChunkNumber+1, u.Query())
		assert.ErrorIs(t, err, common.ErrInvalidSignature)
	}

	urls, err = f.svc.GenerateChunkURLs(ctx, sess.ID, owner, []int{3}, time.Minute)
	require.NoError(t, err)
	require.Len(t, urls, 1)
	u, _ := url.Parse(urls[0].URL)
	exp, err := strconv.ParseInt(u.Query().Get(signedurl.ParamExpires), 10, 64)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), time.Unix(exp, 0), 5*time.Second)

	_, err = f.svc.GenerateChunkURLs(ctx, sess.ID, owner, []int{4}, 0)
	assert.ErrorIs(t, err, common.ErrInvalidChunkNumber)
	_, err = f.svc.GenerateChunkURLs(ctx, sess.ID, viewer, nil, 0)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
