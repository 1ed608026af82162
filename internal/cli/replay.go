package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamicek/ruleengine/internal/clock"
	"github.com/hamicek/ruleengine/internal/engine"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
}

// replayEvent is one entry in a replay file: an event to emit, after
// advancing a fake clock by AfterMs from the previous entry.
type replayEvent struct {
	Topic   string         `json:"topic"`
	Data    map[string]any `json:"data"`
	AfterMs int64          `json:"afterMs"`
}

// NewReplayCommand builds the "replay" command: drive the persisted
// rule set against a recorded sequence of events on a fake clock, and
// print the resulting dispatch trace and final fact state. Useful for
// reproducing a production incident against the exact rule set that
// was live when it happened.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <events.json>",
		Short: "Replay a recorded event sequence against the persisted rules",
		Long: `Replay reads a JSON array of {"topic","data","afterMs"} events, advances a
fake clock by afterMs before emitting each one, and prints every metric
the engine records plus the fact store's final state. Nothing is
persisted back; replay is read-only against the database.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return replay(opts, args[0], cmd)
		},
	}
	return cmd
}

func replay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read replay file", err)
	}
	var events []replayEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return WrapExitError(ExitCommandError, "failed to parse replay file", err)
	}

	adapter, err := openStorage(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer adapter.Close()

	clk := clock.NewFake(time.Unix(0, 0))
	e := engine.New(engine.WithStorageAdapter(adapter), engine.WithClock(clk), engine.WithMetricsSink(newTraceSink(cmd.OutOrStdout())))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.LoadRules(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to load rules", err)
	}

	for _, ev := range events {
		if ev.AfterMs > 0 {
			clk.Advance(time.Duration(ev.AfterMs) * time.Millisecond)
			e.Drain(ctx)
		}
		e.Events().Emit(ev.Topic, ev.Data)
		e.Drain(ctx)
	}

	facts := map[string]any{}
	for _, f := range e.Facts().All() {
		facts[f.Key] = f.Value
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return formatter.Success(facts)
	}
	return formatter.Success(fmt.Sprintf("final facts: %v", facts))
}
