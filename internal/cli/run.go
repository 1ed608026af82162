package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
}

// NewRunCommand builds the "run" command: load the persisted rule set
// and start the engine's dispatch loop, tailing its metrics trace to
// stdout until interrupted.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine against the configured database",
		Long: `Start the rule engine's single-writer dispatch loop against the rules
persisted in --db, tailing every matched/fired/failed metric to stdout
until interrupted.

Example:
  ruleenginectl --db ./ruleengine.db run`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}
	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	adapter, err := openStorage(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer adapter.Close()

	e := engineWithTrace(adapter, newTraceSink(cmd.OutOrStdout()))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := e.LoadRules(runCtx); err != nil {
		return WrapExitError(ExitCommandError, "failed to load rules", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-runCtx.Done():
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "engine started, tailing dispatch trace. Press Ctrl-C to stop.")
	if err := e.Run(runCtx); err != nil && err != context.Canceled {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	slog.Info("engine stopped")
	return nil
}
