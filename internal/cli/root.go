// Package cli provides the command-line interface for transmux.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/backmassage/transmux/internal/config"
	"github.com/backmassage/transmux/internal/logging"
)

// Version is set at build time via -ldflags.
var Version = "1.0.0-dev"

var (
	cfgFile    string
	presetName string

	cfg config.Config
	log *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "transmux",
	Short: "Resumable batch media converter",
	Long: `Transmux batch-converts media libraries to HEVC under bounded
concurrency. Progress is persisted after every job, so an interrupted
batch picks up where it left off with "transmux resume". Conversion
history and aggregate savings live in a local SQLite database.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Close()
		}
	},
}

// setup loads configuration in layers (defaults, YAML file, preset, then
// flags that were explicitly set), validates it, and opens the logger.
func setup(cmd *cobra.Command, args []string) error {
	switch cmd.Name() {
	case "help", "version", "completion":
		return nil
	}

	var err error
	cfg, err = config.Load(cfgFile, config.Preset(presetName))
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("jobs") {
		cfg.Jobs, _ = flags.GetInt("jobs")
	}
	if flags.Changed("verbose") {
		cfg.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("color") {
		c, _ := flags.GetString("color")
		cfg.ColorMode = config.ColorMode(c)
	}
	if flags.Changed("log-file") {
		cfg.LogFile, _ = flags.GetString("log-file")
	}
	if flags.Changed("webhook") {
		cfg.WebhookURL, _ = flags.GetString("webhook")
	}
	if flags.Changed("gpu") {
		cfg.GPU, _ = flags.GetBool("gpu")
	}
	if flags.Changed("gpu-type") {
		t, _ := flags.GetString("gpu-type")
		cfg.GPUType = config.GPUType(t)
	}
	if flags.Changed("database") {
		cfg.DatabasePath, _ = flags.GetString("database")
	}
	if flags.Changed("state-file") {
		cfg.StateFile, _ = flags.GetString("state-file")
	}
	if flags.Changed("ffmpeg") {
		cfg.FFmpegPath, _ = flags.GetString("ffmpeg")
	}
	if flags.Changed("ffprobe") {
		cfg.FFprobePath, _ = flags.GetString("ffprobe")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err = logging.NewLogger(&cfg)
	return err
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "path to YAML config file")
	pf.StringVarP(&presetName, "preset", "p", "", "quality preset (fast, balanced, quality, archive)")
	pf.IntP("jobs", "j", 0, "concurrent conversion workers")
	pf.BoolP("verbose", "v", false, "enable debug output")
	pf.String("color", "", "colorize output (auto, always, never)")
	pf.String("log-file", "", "also append log output to this file")
	pf.String("webhook", "", "webhook URL for the batch-outcome notification")
	pf.Bool("gpu", false, "use hardware encoding")
	pf.String("gpu-type", "", "hardware encoder (nvidia, amd, intel, videotoolbox)")
	pf.String("database", "", "path to the conversion database")
	pf.String("state-file", "", "path to the batch state file")
	pf.String("ffmpeg", "", "ffmpeg binary path")
	pf.String("ffprobe", "", "ffprobe binary path")

	rootCmd.AddCommand(runCmd, resumeCmd, statsCmd, checkCmd)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "transmux: %v\n", err)
		return 1
	}
	return 0
}
