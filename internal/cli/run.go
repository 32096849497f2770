package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/otaloop/internal/loop"
	"github.com/roach88/otaloop/internal/requestor"
	"github.com/roach88/otaloop/internal/sim"
	"github.com/roach88/otaloop/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Duration time.Duration
	Trigger  bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Run the OTA requestor against the simulated platform",
		Long: `Run the OTA requestor event loop against the simulated platform.

The configuration file describes the provider, the image transfer and the
session behavior. Transitions, download errors and applied versions are
recorded in the SQLite database for later inspection with "otaloop trace".

Example:
  otaloop run ./ota.yaml
  otaloop run ./ota.yaml --db /tmp/ota.db --duration 5s --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "override the database path from the config file")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this wall-clock duration (0 = run until signal)")
	cmd.Flags().BoolVar(&opts.Trigger, "trigger", true, "trigger an immediate query at startup")

	return cmd
}

func runSession(opts *RunOptions, configPath string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	cfg, err := parseConfig(configPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	l := loop.New()
	driver := sim.NewDriver(l, st, cfg.SimConfig())
	image := sim.NewMemoryImage(cfg.Image.SizeBytes)
	req := requestor.New(l, driver, image,
		requestor.WithQueryInterval(cfg.QueryIntervalMS),
		requestor.WithDefaultProvider(cfg.Provider.FabricIndex, cfg.Provider.NodeID),
	)
	driver.Bind(req, image)

	if status := req.Initialize(); status != requestor.StatusNoError {
		slog.Warn("starting without stored context", "status", status)
	}
	if cfg.Session.FailFirst > 0 {
		driver.FailNextSessions(cfg.Session.FailFirst)
	}
	if opts.Trigger {
		req.TriggerImmediateQuery()
	}

	// Setup signal handling for graceful shutdown
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	if opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(parentCtx, opts.Duration)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
		case <-ctx.Done():
		}
		l.Shutdown()
	}()

	if opts.Format != "json" {
		fmt.Fprintln(cmd.OutOrStdout(), "OTA loop started. Press Ctrl-C to stop.")
	}
	if err := l.Run(nil); err != nil {
		return WrapExitError(ExitFailure, "event loop error", err)
	}

	// Post-run summary from the durable trace.
	transitions, err := st.Transitions(context.Background())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read transitions", err)
	}
	versions, err := st.AppliedVersions(context.Background())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read applied versions", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(runSummary{
		Transitions:     len(transitions),
		VersionsApplied: len(versions),
	})
}

// runSummary is the post-run report emitted through the OutputFormatter.
type runSummary struct {
	Transitions     int `json:"transitions"`
	VersionsApplied int `json:"versions_applied"`
}

func (s runSummary) String() string {
	return fmt.Sprintf("Stopped: %d transitions, %d versions applied.",
		s.Transitions, s.VersionsApplied)
}
