package cli

import (
	"fmt"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/tfm/internal/engine"
	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/logger"
	"github.com/NamanBalaji/tfm/internal/transfer"
	"github.com/NamanBalaji/tfm/internal/tui/components"
	"github.com/NamanBalaji/tfm/internal/tui/styles"
)

func (a *app) newListCmd(use, short string, dir transfer.Direction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  exactArgs(0, "no arguments"),
		RunE: func(_ *cobra.Command, _ []string) error {
			jobs, err := a.engine.ListJobs(engine.Filter{Direction: dir})
			if err != nil {
				return err
			}

			fmt.Fprintln(a.out, components.RenderJobList(jobs, outputWidth))

			return nil
		},
	}
}

func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status NAME",
		Short: "Show the state of a job",
		Args:  exactArgs(1, "NAME"),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := a.engine.GetStatus(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(a.out, components.RenderJobStatus(st, outputWidth))

			return nil
		},
	}
}

func (a *app) newResumeCmd(use, short string, dir transfer.Direction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Args:  exactArgs(1, "NAME"),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			st, err := a.engine.GetStatus(name)
			if err != nil {
				return err
			}

			if dir != "" && st.Direction != dir {
				return errors.NewInvalidArgumentError("job %s is a %s, not a %s", name, st.Direction, dir)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), a.signals...)
			defer stop()

			fmt.Fprintf(a.out, "job: %s\n", name)

			result := make(chan error, 1)
			go func() {
				result <- a.engine.ResumeJob(ctx, name)
			}()

			ticker := time.NewTicker(progressInterval)
			defer ticker.Stop()

			for {
				select {
				case err := <-result:
					if errors.Is(err, errors.ErrJobBusy) {
						return err
					}

					return a.report(name, err)
				case <-ticker.C:
					if st, err := a.engine.GetStatus(name); err == nil {
						a.printProgress(st.Summary)
					}
				}
			}
		},
	}
}

func (a *app) newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [NAME]",
		Short: "Clear one job, or every job that is not running",
		Args:  rangeArgs(0, 1, "[NAME]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}

			if err := a.engine.ClearJobs(cmd.Context(), name); err != nil {
				return err
			}

			if name == "" {
				fmt.Fprintln(a.out, styles.SuccessStyle.Render("Cleared all jobs"))
			} else {
				fmt.Fprintln(a.out, styles.SuccessStyle.Render("Cleared "+name))
			}

			return nil
		},
	}
}

func (a *app) newClearDirectionCmd(use, short string, dir transfer.Direction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.engine.ClearDirection(cmd.Context(), dir); err != nil {
				return err
			}

			fmt.Fprintln(a.out, styles.SuccessStyle.Render(fmt.Sprintf("Cleared all %ss", dir)))

			return nil
		},
	}
}

// printProgress rewrites the progress line on the error stream.
func (a *app) printProgress(s engine.Summary) {
	p := s.Progress

	fmt.Fprintf(a.errOut, "\r%s %5.1f%%  %s / %s  %d/%d chunks  %s/s   ",
		components.StatusLabel(s.Status),
		p.GetPercentage(),
		components.FormatSize(p.BytesDone),
		components.FormatSize(p.BytesTotal),
		p.ChunksDone, p.ChunksTotal,
		components.FormatSize(p.SpeedBPS))
}

// report prints the final state of a job and the way to resume it if it
// stopped early.
func (a *app) report(name string, err error) error {
	fmt.Fprintln(a.errOut)

	st, statusErr := a.engine.GetStatus(name)
	if statusErr == nil {
		fmt.Fprintln(a.out, components.RenderJobStatus(st, outputWidth))
	} else if !errors.Is(statusErr, errors.ErrNotFound) {
		logger.Warnf("Failed to read final state of %s: %v", name, statusErr)
	}

	switch {
	case err == nil:
		fmt.Fprintln(a.out, styles.SuccessStyle.Render("Job "+name+" completed"))
	case errors.Is(err, errors.ErrJobPaused):
		fmt.Fprintln(a.out, styles.HintStyle.Render("Job paused. Resume it with: tfm resume "+name))
	default:
		fmt.Fprintln(a.out, styles.HintStyle.Render("Job stopped. Retry the remaining chunks with: tfm resume "+name))
	}

	return err
}
