package cli

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/tfm/internal/transfer"
)

type transferFlags struct {
	chunkSize int64
	threads   int
	force     bool
	retries   int
}

func (f *transferFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64VarP(&f.chunkSize, "chunksize", "b", 0, "Size of each chunk in bytes (default from config)")
	cmd.Flags().IntVarP(&f.threads, "threads", "c", 0, "Chunks transferred in parallel (default number of CPUs)")
	cmd.Flags().BoolVarP(&f.force, "force", "f", false, "Overwrite existing files")
	cmd.Flags().IntVar(&f.retries, "retries", 0, "Attempts per chunk before the job fails (default from config)")
}

func (a *app) options(f *transferFlags) (transfer.Options, error) {
	if f.chunkSize != 0 {
		probe := *a.cfg
		probe.ChunkSize = f.chunkSize

		if err := probe.Validate(); err != nil {
			return transfer.Options{}, err
		}
	}

	return transfer.Options{
		ChunkSize:  f.chunkSize,
		Workers:    f.threads,
		Overwrite:  f.force,
		MaxRetries: f.retries,
	}, nil
}

func (a *app) newPutCmd() *cobra.Command {
	var flags transferFlags

	cmd := &cobra.Command{
		Use:   "put LOCAL [REMOTE]",
		Short: "Upload a local file or directory",
		Args:  rangeArgs(1, 2, "LOCAL [REMOTE]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := ""
			if len(args) > 1 {
				remote = args[1]
			}

			opts, err := a.options(&flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), a.signals...)
			defer stop()

			name, err := a.engine.SubmitUpload(ctx, args[0], remote, opts)
			if err != nil {
				return err
			}

			return a.follow(ctx, name)
		},
	}

	flags.register(cmd)

	return cmd
}

func (a *app) newGetCmd() *cobra.Command {
	var flags transferFlags

	cmd := &cobra.Command{
		Use:   "get REMOTE [LOCAL]",
		Short: "Download a remote file or directory",
		Args:  rangeArgs(1, 2, "REMOTE [LOCAL]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := "."
			if len(args) > 1 {
				local = args[1]
			}

			opts, err := a.options(&flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), a.signals...)
			defer stop()

			name, err := a.engine.SubmitDownload(ctx, args[0], local, opts)
			if err != nil {
				return err
			}

			return a.follow(ctx, name)
		},
	}

	flags.register(cmd)

	return cmd
}

// follow prints progress for a submitted job until it stops. When ctx is
// done the job is paused and its in-flight chunks are allowed to finish.
func (a *app) follow(ctx context.Context, name string) error {
	fmt.Fprintf(a.out, "job: %s\n", name)

	updates := a.engine.Watch(context.Background(), name, progressInterval)
	interrupted := ctx.Done()

	for updates != nil {
		select {
		case s, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}

			a.printProgress(s)
		case <-interrupted:
			interrupted = nil

			if err := a.engine.Pause(name); err != nil {
				return err
			}

			fmt.Fprintln(a.errOut)
			fmt.Fprintln(a.errOut, "Pausing, waiting for chunks in flight...")
		}
	}

	err := a.engine.Wait(context.Background(), name)

	return a.report(name, err)
}
