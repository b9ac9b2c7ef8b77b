package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/blockforest/blockforest/sim"
	"github.com/blockforest/blockforest/sim/snapshot"
	"github.com/blockforest/blockforest/sim/trace"
)

var (
	// CLI flags for the run command
	configPath        string  // YAML run file
	logLevel          string  // Log verbosity level
	runID             string  // Run identifier; empty draws a fresh one
	ranks             int     // Ranks of the in-process world
	maximumLevel      int     // Deepest refinement level
	endTime           float64 // Simulated end time
	maximumMacroSteps int     // Macro step limit (0 = unlimited)
	traceLevel        string  // Decision trace level
	snapshotOut       string  // Write the final forest here
	restartPath       string  // Continue from this snapshot
	disableCorrection bool    // Drop the jump-flux correction
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "blockforest",
	Short: "Distributed adaptive block-structured multiresolution grid",
}

// runCmd executes the simulation using the run file and CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an adaptive advection simulation on an in-process world",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := executeRun(ctx, cmd); err != nil {
			logrus.Fatalf("Simulation stopped: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// executeRun runs the simulation until it finishes or ctx is cancelled. The
// metrics and the requested snapshot are written in both cases; a cancelled
// run still returns an error wrapping sim.ErrAborted.
func executeRun(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := runOptions()
	if err != nil {
		return err
	}
	opts.Abort = func(int) bool { return ctx.Err() != nil }

	logrus.Infof("Starting simulation on %d ranks: %dD, %v roots, maximum level %d, end time %g",
		cfg.Grid.Ranks, cfg.Grid.Dim, cfg.Grid.Roots, cfg.Remesh.MaximumLevel, cfg.Time.EndTime)
	res, runErr := sim.Run(ctx, cfg, opts)
	if res == nil {
		return runErr
	}
	res.Metrics.Print(cmd.OutOrStdout())
	if snapshotOut != "" && res.Snapshot != nil {
		if err := writeSnapshot(snapshotOut, res.Snapshot); err != nil {
			return errors.Join(runErr, err)
		}
		logrus.Infof("Snapshot of macro step %d written to %s", res.Snapshot.Step, snapshotOut)
	}
	return runErr
}

// loadConfig starts from the defaults, applies the run file if one was
// given and then every flag the user set explicitly.
func loadConfig(cmd *cobra.Command) (sim.SimConfig, error) {
	cfg := sim.DefaultSimConfig()
	if configPath != "" {
		rf, err := sim.LoadRunFile(configPath)
		if err != nil {
			return cfg, err
		}
		rf.Apply(&cfg)
	}
	flags := cmd.Flags()
	if flags.Changed("ranks") {
		cfg.Grid.Ranks = ranks
	}
	if flags.Changed("max-level") {
		cfg.Remesh.MaximumLevel = maximumLevel
	}
	if flags.Changed("end-time") {
		cfg.Time.EndTime = endTime
	}
	if flags.Changed("macro-steps") {
		cfg.Time.MaximumMacroSteps = maximumMacroSteps
	}
	if flags.Changed("trace") {
		cfg.Trace.Level = trace.TraceLevel(traceLevel)
	}
	if flags.Changed("disable-correction") {
		cfg.Time.DisableCorrection = disableCorrection
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runOptions() (sim.RunOptions, error) {
	opts := sim.RunOptions{Snapshot: snapshotOut != ""}
	if runID != "" {
		id, err := uuid.Parse(runID)
		if err != nil {
			return opts, fmt.Errorf("parsing run id: %w", err)
		}
		opts.RunID = id
	}
	if restartPath != "" {
		s, err := readSnapshot(restartPath)
		if err != nil {
			return opts, err
		}
		opts.Restart = s
	}
	return opts, nil
}

func writeSnapshot(path string, s *snapshot.Snapshot) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing snapshot: %w", cerr)
		}
	}()
	return snapshot.Write(f, s)
}

func readSnapshot(path string) (*snapshot.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()
	return snapshot.Read(f)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML run file; flags override its values")
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (UUID); drawn at random when empty")

	runCmd.Flags().IntVar(&ranks, "ranks", 2, "Ranks of the in-process world")
	runCmd.Flags().IntVar(&maximumLevel, "max-level", 2, "Deepest refinement level")
	runCmd.Flags().Float64Var(&endTime, "end-time", 1, "Simulated end time")
	runCmd.Flags().IntVar(&maximumMacroSteps, "macro-steps", 0, "Stop after this many macro steps (0 = unlimited)")
	runCmd.Flags().BoolVar(&disableCorrection, "disable-correction", false, "Skip the jump-flux correction (conservation is lost)")
	runCmd.Flags().StringVar(&traceLevel, "trace", "none", "Decision trace level (none, decisions)")

	runCmd.Flags().StringVar(&snapshotOut, "snapshot-out", "", "Write the final forest to this CBOR file")
	runCmd.Flags().StringVar(&restartPath, "restart", "", "Continue from this CBOR snapshot")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectIDsCmd)
}
