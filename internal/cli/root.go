// Package cli is the tfm command line: one verb per engine operation.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/tfm/internal/config"
	"github.com/NamanBalaji/tfm/internal/engine"
	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/logger"
	"github.com/NamanBalaji/tfm/internal/storage"
	"github.com/NamanBalaji/tfm/internal/transfer"
	"github.com/NamanBalaji/tfm/internal/tui/styles"
)

var Version = "dev"

const (
	outputWidth      = 100
	progressInterval = 500 * time.Millisecond
	shutdownTimeout  = 30 * time.Second
)

// Exit codes returned by Execute.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitUsage       = 2
	ExitInterrupted = 130
)

type app struct {
	configPath string
	debug      bool

	out    io.Writer
	errOut io.Writer

	cfg    *config.Config
	engine *engine.Engine

	openRemote func(context.Context, *config.RemoteConfig) (storage.Store, error)
	signals    []os.Signal
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:        out,
		errOut:     errOut,
		openRemote: engine.OpenRemote,
		signals:    []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	a := newApp(os.Stdout, os.Stderr)
	defer a.close()

	err := a.rootCmd().ExecuteContext(context.Background())

	return a.exitCode(err)
}

func (a *app) exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errors.ErrJobPaused):
		return ExitInterrupted
	case errors.Is(err, errors.ErrInvalidArgument):
		fmt.Fprintln(a.errOut, styles.ErrorStyle.Render("Error: "+err.Error()))
		return ExitUsage
	default:
		fmt.Fprintln(a.errOut, styles.ErrorStyle.Render("Error: "+err.Error()))
		return ExitError
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "tfm",
		Short:             "tfm moves files to and from remote storage in resumable chunks",
		Version:           Version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to the config file (default "+config.Path()+")")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.NewInvalidArgumentError("%v", err)
	})

	root.AddCommand(
		a.newPutCmd(),
		a.newGetCmd(),
		a.newListCmd("list", "List all jobs", ""),
		a.newListCmd("list-uploads", "List upload jobs", transfer.Upload),
		a.newListCmd("list-downloads", "List download jobs", transfer.Download),
		a.newStatusCmd(),
		a.newResumeCmd("resume", "Resume a paused or failed job", ""),
		a.newResumeCmd("resume-upload", "Resume a paused or failed upload", transfer.Upload),
		a.newResumeCmd("resume-download", "Resume a paused or failed download", transfer.Download),
		a.newClearCmd(),
		a.newClearDirectionCmd("clear-uploads", "Clear every upload that is not running", transfer.Upload),
		a.newClearDirectionCmd("clear-downloads", "Clear every download that is not running", transfer.Download),
	)

	return root
}

// setup loads the configuration and opens the engine before any verb runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	path := a.configPath
	if path == "" {
		path = config.Path()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.InitLogging(a.debug, cfg.LogPath()); err != nil {
		return err
	}

	remote, err := a.openRemote(cmd.Context(), cfg.Remote)
	if err != nil {
		return fmt.Errorf("failed to open remote store: %w", err)
	}

	eng, err := engine.New(&engine.Config{
		DBPath:              cfg.DBPath(),
		MaxConcurrentChunks: cfg.MaxConcurrentChunks,
		AutoClean:           cfg.AutoClean,
		Defaults: transfer.Options{
			ChunkSize:  cfg.ChunkSize,
			Workers:    cfg.Workers,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		},
	}, storage.NewOS("/"), remote)
	if err != nil {
		return err
	}

	logger.Debugf("Using remote %s and state %s", remote, cfg.DBPath())

	a.cfg = cfg
	a.engine = eng

	return nil
}

func (a *app) close() {
	if a.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := a.engine.Shutdown(ctx); err != nil {
			logger.Errorf("Engine shutdown: %v", err)
		}

		a.engine = nil
	}

	logger.Close()
}

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return errors.NewInvalidArgumentError("expected %s, got %d argument(s)", usage, len(args))
		}

		return nil
	}
}

func rangeArgs(lo, hi int, usage string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) < lo || len(args) > hi {
			return errors.NewInvalidArgumentError("expected %s, got %d argument(s)", usage, len(args))
		}

		return nil
	}
}
