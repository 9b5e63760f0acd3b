package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jgivc/fileforager/internal/adapter/hasher"
	"github.com/jgivc/fileforager/internal/adapter/transport"
	"github.com/jgivc/fileforager/internal/common"
	"github.com/jgivc/fileforager/internal/config"
	"github.com/jgivc/fileforager/internal/service/discover"
	"github.com/jgivc/fileforager/internal/service/transfer"
	"github.com/jgivc/fileforager/internal/storage/ledger"
	"github.com/spf13/afero"
)

type App struct {
	cfg       *config.Config
	fs        afero.Fs
	transport transfer.Transport
	log       *slog.Logger
}

func New(cfg *config.Config, log *slog.Logger) *App {
	return NewWithFS(cfg, afero.NewOsFs(), nil, log)
}

// NewWithFS is the test seam: it takes the filesystem and, optionally, a
// transport to use instead of the real client.
func NewWithFS(cfg *config.Config, fs afero.Fs, tr transfer.Transport, log *slog.Logger) *App {
	return &App{
		cfg:       cfg,
		fs:        fs,
		transport: tr,
		log:       log,
	}
}

// Run executes one full run: startup validation, discovery, transfer. Any
// error returned here is startup-fatal; per-candidate failures are recorded
// in the ledgers and never surface as an error.
func (a *App) Run(ctx context.Context) error {
	exists, err := afero.DirExists(a.fs, a.cfg.Source)
	if err != nil {
		return fmt.Errorf("cannot check source directory: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", common.ErrSourceNotFound, a.cfg.Source)
	}

	if err := a.fs.MkdirAll(a.cfg.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	meta, err := config.LoadMetadata(a.fs, a.cfg.MetadataPath())
	if err != nil {
		return fmt.Errorf("cannot load run metadata: %w", err)
	}

	tr := a.transport
	if tr == nil {
		if err := a.cfg.LoadTransportEnv(a.fs, a.cfg.EnvPath()); err != nil {
			return fmt.Errorf("cannot load transport settings: %w", err)
		}

		if !a.cfg.Transfer.DryRun && a.cfg.Transport.Endpoint == "" {
			return common.ErrNoTransportEndpoint
		}

		client, err := transport.NewClient(&a.cfg.Transport, a.log)
		if err != nil {
			return fmt.Errorf("cannot create transport client: %w", err)
		}
		tr = client
	}
	defer func() {
		if closer, ok := tr.(io.Closer); ok {
			closer.Close()
		}
	}()

	store, err := ledger.NewLedgerStoreWithFS(a.fs, a.cfg.TransferredPath(), a.cfg.RejectedPath(), a.log)
	if err != nil {
		return fmt.Errorf("cannot open ledger store: %w", err)
	}

	h := hasher.NewWithFS(a.fs)
	discoverer := discover.NewDiscoverServiceWithFS(a.fs, &a.cfg.Discover, h, store, a.log)

	candidates, err := discoverer.Discover(a.cfg.Source)
	if err != nil {
		return fmt.Errorf("cannot discover files: %w", err)
	}

	a.log.Info("Found files to process", slog.Int("count", len(candidates)))

	// An interrupted run is not a startup failure: the ledgers are consistent
	// row by row and the next run re-discovers whatever is left.
	orchestrator := transfer.NewTransferServiceWithFS(a.fs, &a.cfg.Transfer, meta, tr, h, store, a.log)
	if _, err := orchestrator.Run(ctx, candidates); err != nil {
		a.log.Warn("Run interrupted", slog.Any("error", err))
	}

	return nil
}
