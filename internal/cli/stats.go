package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/backmassage/transmux/internal/display"
	"github.com/backmassage/transmux/internal/store"
)

var (
	statsReset bool
	statsLimit int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show all-time conversion statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsReset, "reset", false, "zero the statistics ledger")
	statsCmd.Flags().IntVarP(&statsLimit, "recent", "n", 10, "number of recent conversions to list")
}

func runStats(cmd *cobra.Command, args []string) error {
	results, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer results.Close()

	if statsReset {
		if err := results.ClearStatistics(); err != nil {
			return err
		}
		log.Success("Statistics cleared")
		return nil
	}

	stats, err := results.GetStatistics()
	if err != nil {
		return err
	}

	log.Info("=== Conversion Statistics ===")
	log.Info("Successful: %d", stats.Successful)
	log.Info("Failed:     %d", stats.Failed)
	log.Info("Skipped:    %d", stats.Skipped)
	log.Info("Original:   %s", display.FormatBytes(stats.TotalOriginalSize))
	log.Info("Converted:  %s", display.FormatBytes(stats.TotalConvertedSize))
	log.Info("Saved:      %s (avg %s)", display.FormatBytes(stats.TotalSpaceSaved),
		display.FormatPercent(stats.AvgSavingsPercent))
	log.Info("Avg time:   %.0fs per conversion", stats.AvgProcessingTime)

	recent, err := results.GetRecentConversions(statsLimit)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return nil
	}

	log.Info("")
	log.Info("Recent conversions:")
	for _, c := range recent {
		switch c.Status {
		case "completed":
			log.Success("  %s: %s -> %s", filepath.Base(c.FilePath),
				display.FormatBytes(c.OriginalSize), display.FormatBytes(c.ConvertedSize))
		case "failed":
			log.Error("  %s: failed (%s)", filepath.Base(c.FilePath), c.ErrorMessage)
		case "skipped":
			log.Warn("  %s: skipped (%s)", filepath.Base(c.FilePath), c.ErrorMessage)
		default:
			log.Warn("  %s: interrupted mid-conversion", filepath.Base(c.FilePath))
		}
	}
	return nil
}
