package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/dmitrijs2005/chunkkeeper/internal/api"
	"github.com/dmitrijs2005/chunkkeeper/internal/client/client"
	"github.com/dmitrijs2005/chunkkeeper/internal/client/config"
	"github.com/dmitrijs2005/chunkkeeper/internal/client/services"
	"github.com/dmitrijs2005/chunkkeeper/internal/common"
)

// Client is the control API as used by the commands.
type Client interface {
	services.Control
	CancelUpload(ctx context.Context, sessionID string) (*api.Session, error)
	DeleteUpload(ctx context.Context, sessionID string) error
	Close() error
}

type App struct {
	config  *config.Config
	client  Client
	uploads services.UploadService
	reader  *bufio.Reader
	out     io.Writer
}

func NewApp(c *config.Config) (*App, error) {
	if c.AccessToken == "" {
		tok, err := GetToken(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("access token: %w", err)
		}
		c.AccessToken = tok
	}

	apiClient, err := client.NewGRPCClient(c.ServerEndpointAddr, c.AccessToken)
	if err != nil {
		return nil, err
	}

	app := &App{config: c, client: apiClient, reader: bufio.NewReader(os.Stdin), out: os.Stdout}
	app.uploads = services.NewUploadService(apiClient, &http.Client{}, app.uploadOptions())
	return app, nil
}

func (a *App) uploadOptions() services.Options {
	return services.Options{
		WorkspaceID:    a.config.WorkspaceID,
		ContainerID:    a.config.ContainerID,
		ChunkSize:      a.config.ChunkSize,
		Concurrency:    a.config.Concurrency,
		Retries:        a.config.Retries,
		URLTTL:         a.config.URLTTL,
		RequestTimeout: a.config.RequestTimeout,
		BearerToken:    a.config.AccessToken,
		Progress:       a.printProgress,
	}
}

func (a *App) printProgress(done, total int) {
	fmt.Fprintf(a.out, "\r  %d/%d chunks (%.2f%%)", done, total, common.Percent(done, total))
	if done == total {
		fmt.Fprintln(a.out)
	}
}

// Run executes one command given as positional arguments.
func (a *App) Run(ctx context.Context, args []string) error {
	defer a.client.Close()

	if len(args) == 0 {
		a.usage()
		return errors.New("no command given")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "upload":
		return a.Upload(ctx, rest)
	case "resume":
		if len(rest) != 2 {
			return errors.New("usage: resume <session> <file>")
		}
		return a.Resume(ctx, rest[0], rest[1])
	case "status":
		if len(rest) != 1 {
			return errors.New("usage: status <session>")
		}
		return a.Status(ctx, rest[0])
	case "cancel":
		if len(rest) != 1 {
			return errors.New("usage: cancel <session>")
		}
		return a.Cancel(ctx, rest[0])
	case "delete":
		if len(rest) != 1 {
			return errors.New("usage: delete <session>")
		}
		return a.Delete(ctx, rest[0])
	case "help":
		a.usage()
		return nil
	}
	a.usage()
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *App) usage() {
	fmt.Fprintln(a.out, "Available commands: upload <file>..., resume <session> <file>, status <session>, cancel <session>, delete <session>")
}

func (a *App) Upload(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return errors.New("usage: upload <file>...")
	}
	if a.config.WorkspaceID == "" {
		return errors.New("workspace id is required (-w)")
	}

	var errs []error
	for _, f := range files {
		fmt.Fprintf(a.out, "Uploading %s\n", f)
		st, err := a.uploads.Upload(ctx, f)
		if err != nil {
			fmt.Fprintf(a.out, "  failed: %v\n", err)
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
			continue
		}
		a.printStatus(st)
	}
	return errors.Join(errs...)
}

func (a *App) Resume(ctx context.Context, sessionID, file string) error {
	st, err := a.uploads.Resume(ctx, sessionID, file)
	if err != nil {
		return err
	}
	a.printStatus(st)
	return nil
}

func (a *App) Status(ctx context.Context, sessionID string) error {
	st, err := a.client.GetStatus(ctx, sessionID)
	if err != nil {
		return err
	}
	a.printStatus(st)
	return nil
}

func (a *App) Cancel(ctx context.Context, sessionID string) error {
	s, err := a.client.CancelUpload(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Session %s: %s\n", s.ID, s.Status)
	return nil
}

func (a *App) Delete(ctx context.Context, sessionID string) error {
	ok, err := Confirm(a.reader, fmt.Sprintf("Delete upload %s and its data?", sessionID), a.out)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "Aborted")
		return nil
	}
	if err := a.client.DeleteUpload(ctx, sessionID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Session %s deleted\n", sessionID)
	return nil
}

func (a *App) printStatus(st *api.UploadStatus) {
	s := st.Session
	fmt.Fprintf(a.out, "Session %s (%s): %s, %.2f%%\n", s.ID, s.Filename, s.Status, st.Progress)
	if len(st.MissingChunks) > 0 {
		fmt.Fprintf(a.out, "  missing chunks: %s\n", joinInts(st.MissingChunks))
	}
	if s.AssembledChecksum != "" {
		fmt.Fprintf(a.out, "  sha256: %s\n", s.AssembledChecksum)
	}
	if s.FailureReason != "" {
		fmt.Fprintf(a.out, "  failure: %s\n", s.FailureReason)
	}
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}
