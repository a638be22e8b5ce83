package cli

import (
	"github.com/spf13/cobra"

	"github.com/backmassage/transmux/internal/check"
	"github.com/backmassage/transmux/internal/display"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run system diagnostics",
	Long:  "Check verifies ffmpeg, ffprobe, the configured encoders, and the conversion database.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		display.PrintBanner()
		check.RunCheck(&cfg, log)
	},
}
