package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/backmassage/transmux/internal/check"
	"github.com/backmassage/transmux/internal/display"
	"github.com/backmassage/transmux/internal/encode"
	"github.com/backmassage/transmux/internal/notify"
	"github.com/backmassage/transmux/internal/pipeline"
	"github.com/backmassage/transmux/internal/probe"
	"github.com/backmassage/transmux/internal/scan"
	"github.com/backmassage/transmux/internal/state"
	"github.com/backmassage/transmux/internal/store"
)

// errBatchFailed maps a failed batch to a nonzero exit code.
var errBatchFailed = errors.New("batch finished with failures")

var (
	runRecursive bool
)

var runCmd = &cobra.Command{
	Use:   "run [path...]",
	Short: "Convert the media files under the given paths",
	Long: `Run scans the given files and directories, analyzes what needs
conversion, and converts under the configured concurrency. Progress is
persisted continuously; an interrupted run can be continued with
"transmux resume".`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&runRecursive, "recursive", true, "descend into subdirectories")
	f.Bool("dry-run", false, "preview planned conversions without converting")
	f.Bool("force", false, "reconvert files already recorded as completed")
	f.Int("crf", 0, "x265 CRF (0-51), overrides preset")
	f.String("speed", "", "x265 speed preset, overrides preset")
	f.Bool("skip-larger", true, "discard outputs that are not smaller than the input")
	f.Bool("backup", false, "keep a .bak copy of replaced originals")
	f.String("suffix", "", "output filename suffix (empty replaces the original)")
	f.String("output-dir", "", "write outputs to this directory instead of in place")
}

func applyRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("dry-run") {
		cfg.DryRun, _ = f.GetBool("dry-run")
	}
	if f.Changed("force") {
		cfg.Force, _ = f.GetBool("force")
	}
	if f.Changed("crf") {
		cfg.CRF, _ = f.GetInt("crf")
	}
	if f.Changed("speed") {
		cfg.Speed, _ = f.GetString("speed")
	}
	if f.Changed("skip-larger") {
		cfg.SkipIfLarger, _ = f.GetBool("skip-larger")
	}
	if f.Changed("backup") {
		cfg.CreateBackup, _ = f.GetBool("backup")
	}
	if f.Changed("suffix") {
		cfg.OutputSuffix, _ = f.GetString("suffix")
	}
	if f.Changed("output-dir") {
		cfg.OutputDir, _ = f.GetString("output-dir")
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	display.PrintBanner()
	logRunHeader()

	if !cfg.DryRun {
		if err := check.CheckDeps(&cfg); err != nil {
			return err
		}
	}

	files, err := collectCandidates(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Warn("No media files found")
		return nil
	}
	log.Info("Found %d media files", len(files))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer cleanup()

	if !orch.Run(ctx, files) {
		return errBatchFailed
	}
	return nil
}

// collectCandidates expands the argument list: files are taken when
// their extension matches, directories are scanned.
func collectCandidates(args []string) ([]string, error) {
	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts["."+strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}

	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			found, err := scan.Discover(arg, cfg.Extensions, runRecursive)
			if err != nil {
				return nil, err
			}
			files = append(files, found...)
			continue
		}
		if exts[strings.ToLower(filepath.Ext(arg))] {
			abs, err := filepath.Abs(arg)
			if err != nil {
				abs = arg
			}
			files = append(files, abs)
		} else {
			log.Warn("Ignoring %s: not a recognized media extension", arg)
		}
	}
	return files, nil
}

// buildOrchestrator wires the pipeline's collaborators. The returned
// cleanup closes the database.
func buildOrchestrator() (*pipeline.Orchestrator, func(), error) {
	results, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}

	orch := pipeline.New(&cfg, pipeline.Options{
		Analyzer:  probe.New(&cfg),
		Converter: encode.New(&cfg, log),
		States:    state.NewStore(cfg.StateFile, log),
		Results:   results,
		Notifier:  notify.New(cfg.WebhookURL, log),
		Log:       log,
	})
	return orch, func() { results.Close() }, nil
}

func logRunHeader() {
	mode := "CPU libx265"
	if cfg.GPU {
		mode = "GPU " + encode.HardwareEncoder(cfg.GPUType)
	}
	log.Info("Target: %s / %s, CRF %d, preset %s", cfg.TargetVideoCodec, cfg.TargetAudioCodec, cfg.CRF, cfg.Speed)
	log.Info("Encoder: %s, %d workers", mode, cfg.Jobs)
	if cfg.DryRun {
		log.Warn("DRY RUN")
	}
	if cfg.Force {
		log.Warn("Force: reconverting files already on record")
	}
}
