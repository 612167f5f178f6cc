// Package server wires the chunkkeeper components together: repositories,
// chunk storage, the scan queue and worker, the upload services, the
// stale-session sweeper and the gRPC and HTTP front ends.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/chunkkeeper/internal/dbx"
	"github.com/dmitrijs2005/chunkkeeper/internal/logging"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/config"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/models"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/scanning"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/services"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/signedurl"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/storage"

	gs "github.com/dmitrijs2005/chunkkeeper/internal/server/grpc"
)

// scanWorkers is the number of concurrent virus scan consumers.
const scanWorkers = 2

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	queue   scanning.Queue
	uploads *services.UploadService
	sweeper *services.Sweeper
	worker  *scanning.Worker
	grpc    *gs.GRPCServer
	http    *httpapi.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	app := &App{config: c, logger: logging.NewJSON(os.Stdout, c.LogLevel)}

	tx, rm, err := app.initRepositories(ctx)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	store, err := app.initChunkStore(ctx)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("chunk store init error: %w", err)
	}

	if err := app.initScanQueue(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("scan queue init error: %w", err)
	}

	signer, err := signedurl.NewSigner(c.SecretKey, c.SignedURLTTL)
	if err != nil {
		app.Close()
		return nil, err
	}

	assembler := services.NewAssembler(tx, rm, store, app.queue, c.AssembledDir, app.logger)
	app.uploads = services.NewUploadService(c, tx, rm, store, signer, assembler, app.logger)
	app.sweeper = services.NewSweeper(app.uploads, c.SweepInterval, c.StaleSessionTTL, app.logger)
	if app.queue != nil {
		app.worker = scanning.NewWorker(app.queue, scanning.NewSignatureEngine(nil), app.uploads, app.logger, scanWorkers)
	}

	app.grpc = gs.NewGRPCServer(c.EndpointAddrGRPC, app.logger, app.uploads, c.SecretKey)
	app.http = httpapi.NewServer(c.EndpointAddrHTTP, app.uploads, signer, httpapi.Options{
		JWTSecret:         c.SecretKey,
		RequireSignedURLs: c.RequireSignedURLs,
		MaxChunkSize:      c.MaxChunkSize,
	}, app.logger)

	return app, nil
}

// initRepositories opens PostgreSQL and migrates it, or falls back to the
// in-process repositories when DatabaseDSN is "memory". Configured
// memberships are seeded either way.
func (app *App) initRepositories(ctx context.Context) (dbx.TxRunner, repomanager.RepositoryManager, error) {
	var (
		tx dbx.TxRunner
		rm repomanager.RepositoryManager
	)

	if app.config.DatabaseDSN == config.DatabaseMemory {
		app.logger.Warn(ctx, "Using in-memory repositories, state is lost on restart")
		tx, rm = &dbx.LockingTxRunner{}, repomanager.NewInMemoryRepositoryManager()
	} else {
		db, err := sql.Open("pgx", app.config.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		app.db = db
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, err
		}
		pm := repomanager.NewPostgresRepositoryManager()
		if err := pm.RunMigrations(ctx, db); err != nil {
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		tx, rm = dbx.NewSQLTxRunner(db), pm
	}

	for _, m := range app.config.Members {
		role := models.Role(m.Role)
		if !role.Valid() {
			return nil, nil, fmt.Errorf("member %s/%s: unknown role %q", m.WorkspaceID, m.UserID, m.Role)
		}
		if err := rm.Members(tx.Conn()).Add(ctx, m.WorkspaceID, m.UserID, role); err != nil {
			return nil, nil, fmt.Errorf("seed member %s/%s: %w", m.WorkspaceID, m.UserID, err)
		}
	}
	return tx, rm, nil
}

func (app *App) initChunkStore(ctx context.Context) (storage.ChunkStore, error) {
	switch app.config.ChunkBackend {
	case config.BackendLocal:
		return storage.NewLocalStore(app.config.ChunkDir)
	case config.BackendS3:
		client, err := storage.NewS3Client(ctx, storage.S3Config{
			AccessKey:    app.config.S3RootUser,
			SecretKey:    app.config.S3RootPassword,
			Region:       app.config.S3Region,
			BaseEndpoint: app.config.S3BaseEndpoint,
			Bucket:       app.config.S3Bucket,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(client, app.config.S3Bucket, app.logger), nil
	}
	return nil, fmt.Errorf("unknown chunk backend %q", app.config.ChunkBackend)
}

// initScanQueue leaves app.queue nil when scanning is disabled.
func (app *App) initScanQueue(ctx context.Context) error {
	if !app.config.ScannerEnabled {
		return nil
	}
	if app.config.RedisAddr == "" {
		app.queue = scanning.NewMemoryQueue(1024)
		return nil
	}
	client, err := scanning.NewRedisClient(ctx, app.config.RedisAddr)
	if err != nil {
		return err
	}
	app.queue = scanning.NewRedisQueue(client, app.config.ScanQueueName)
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts every component and blocks until a signal arrives or one of
// them fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	app.initSignalHandler(cancelFunc)

	app.logger.Info(ctx, "Starting app...")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.grpc.Run(gctx) })
	g.Go(func() error { return app.http.Run(gctx) })
	g.Go(func() error { return app.sweeper.Run(gctx) })
	if app.worker != nil {
		g.Go(func() error { return app.worker.Run(gctx) })
	}

	err := g.Wait()
	app.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		app.logger.Error(ctx, "app stopped with error", "error", err)
		return err
	}
	app.logger.Info(ctx, "App stopped")
	return nil
}

// Close releases the database and queue connections.
func (app *App) Close() {
	if app.queue != nil {
		_ = app.queue.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
