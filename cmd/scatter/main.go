package main

import (
	"fmt"
	"os"

	"github.com/fogfactory/scatter/internal/env"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	rootCmd = &cobra.Command{
		Use:   "scatter",
		Short: "Split, transform and gather batches of record files",
		Long: `scatter processes record files (lines, FASTQ reads) as a keyed scatter/gather:
each file is split into pieces on record boundaries, pieces are transformed in
parallel, and each file is merged back as soon as its own pieces are done.

Settings are read from the environment (and a .env file) and can be overridden
by flags: SCATTER_PIECES, SCATTER_WORKERS, SCATTER_UNIT_WORKERS, SCATTER_POLICY,
SCATTER_FORMAT, SCATTER_TRANSFORM, SCATTER_MAX_IN_FLIGHT, MINIO_* and KAFKA_*.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: loadSettings,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settings.envFile, "env-file", "", "Load environment variables from this file (default .env)")
	flags.IntVarP(&settings.pieces, "pieces", "n", 0, "Target number of pieces per unit")
	flags.IntVar(&settings.unitWorkers, "unit-workers", 0, "Size of the split pool, 0 splits in the reading routine")
	flags.IntVarP(&settings.workers, "workers", "w", 0, "Size of the transform pool")
	flags.IntVar(&settings.readers, "readers", 4, "Number of concurrent unit reads")
	flags.IntVar(&settings.maxInFlight, "max-in-flight", 0, "Maximum number of units between split and output, 0 is unbounded")
	flags.StringVarP(&settings.policy, "policy", "p", "", "Failure policy: abort-group or skip-partial")
	flags.StringVarP(&settings.format, "format", "f", "", "Record format of the units")
	flags.StringVarP(&settings.transform, "transform", "t", "", "Transform applied to every record")
	flags.IntVarP(&settings.quality, "quality", "q", 20, "Phred threshold of the trim transform")
	flags.BoolVar(&settings.failFast, "fail-fast", false, "Stop at the first failed unit")
	flags.BoolVar(&settings.cancelOnAbort, "cancel-on-abort", false, "Skip the remaining pieces of an aborted unit")
	flags.BoolVarP(&settings.verbose, "verbose", "v", false, "Log every failed piece")

	// Add commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(s3Cmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(formatsCmd)
}

// loadSettings fills the flags left unset from the environment.
func loadSettings(cmd *cobra.Command, _ []string) error {
	var files []string
	if settings.envFile != "" {
		files = append(files, settings.envFile)
	}
	if err := env.Load(files...); err != nil {
		return err
	}
	cfg, err := env.FromEnv()
	if err != nil {
		return err
	}
	settings.cfg = cfg

	flags := cmd.Flags()
	for name, set := range map[string]func(){
		"pieces":        func() { settings.pieces = cfg.Pieces },
		"unit-workers":  func() { settings.unitWorkers = cfg.UnitWorkers },
		"workers":       func() { settings.workers = cfg.Workers },
		"max-in-flight": func() { settings.maxInFlight = cfg.MaxInFlight },
		"policy":        func() { settings.policy = cfg.Policy },
		"format":        func() { settings.format = cfg.Format },
		"transform":     func() { settings.transform = cfg.Transform },
	} {
		if !flags.Changed(name) {
			set()
		}
	}
	return nil
}
