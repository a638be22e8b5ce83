package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/backmassage/transmux/internal/check"
	"github.com/backmassage/transmux/internal/display"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue an interrupted batch",
	Long: `Resume reloads the persisted batch state and schedules exactly the
conversions that were still pending, reusing the cached analyses instead
of probing again.`,
	Args: cobra.NoArgs,
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	display.PrintBanner()

	if err := check.CheckDeps(&cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer cleanup()

	if !orch.Resume(ctx) {
		return errBatchFailed
	}
	return nil
}
