package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jgivc/fileforager/internal/app"
	"github.com/jgivc/fileforager/internal/config"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	cfg          config.Config
	delaySeconds float64
)

var rootCmd = &cobra.Command{
	Use:   "forager",
	Short: "Scan a directory and forward new files to an ingestion endpoint",
	Long: `FileForager scans a source directory for files, deduplicates them by
content digest against a local ledger and uploads eligible files with
attached metadata, recording every outcome under <source>/.forager/.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Transfer.Delay = time.Duration(delaySeconds * float64(time.Second))
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		log := newLogger(cfg.Debug)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return app.New(&cfg, log).Run(ctx)
	},
}

func init() {
	f := rootCmd.Flags()
	f.SortFlags = false
	f.StringVar(&cfg.Source, "source", config.DefaultSource, "Source directory to scan")
	f.StringVar(&cfg.Discover.Pattern, "glob", "", "Glob pattern to match files against (supports **)")
	f.BoolVarP(&cfg.Discover.Recursive, "recursive", "r", false, "Scan subdirectories recursively")
	f.IntVar(&cfg.Discover.SkipLastN, "skip-last-n", config.DefaultSkipLastN, "Defer the newest N candidates to a future run")
	f.StringVar(&cfg.Discover.SortKey, "sort-key", config.SortKeyMTime, "Candidate ordering: mtime or name")
	f.BoolVar(&cfg.Discover.IncludeSymlinks, "symlinks", false, "Include symbolic links")
	f.Int64Var(&cfg.Transfer.MaxFileSize, "max-file-size", config.DefaultMaxFileSize, "Reject files larger than this many bytes")
	f.IntVar(&cfg.Transfer.MaxFiles, "max-files", config.DefaultMaxFiles, "Stop after this many successful transfers")
	f.Float64Var(&delaySeconds, "delay", config.DefaultDelay.Seconds(), "Seconds to wait between candidates")
	f.StringVar(&cfg.Transfer.Prefix, "prefix", "", "Prefix for the uploaded file name")
	f.StringVar(&cfg.Transfer.Suffix, "suffix", "", "Suffix for the uploaded file name (before the extension)")
	f.BoolVar(&cfg.Transfer.DryRun, "dry-run", false, "Simulate transfers without uploading or touching the ledger")
	f.BoolVar(&cfg.Transfer.DeleteAfter, "delete", false, "Delete source files after a successful transfer")
	f.StringVar(&cfg.Transfer.TimestampSource, "timestamp", config.TimestampSourceMTime, "Upload timestamp source: mtime or current")
	f.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
