package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hamicek/ruleengine/internal/engine"
	"github.com/hamicek/ruleengine/internal/storage/sqlite"
)

// RulesOptions holds flags for the rules subcommands.
type RulesOptions struct {
	*RootOptions
}

// NewRulesCommand builds "rules list" and "rules show".
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RulesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rules persisted in the configured database",
	}
	cmd.AddCommand(newRulesListCommand(opts))
	cmd.AddCommand(newRulesShowCommand(opts))
	return cmd
}

func newRulesListCommand(opts *RulesOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List every persisted rule",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := loadEngine(cmd.Context(), opts.DB)
			if err != nil {
				return err
			}
			defer closeFn()

			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			rules := e.Registry().List()
			if opts.Format == "json" {
				return formatter.Success(rules)
			}
			if len(rules) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no rules registered")
				return nil
			}
			for _, r := range rules {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s v%-3d priority=%-4d enabled=%-5v trigger=%s\n",
					r.ID, r.Version, r.Priority, r.Enabled, r.Trigger.Kind)
			}
			return nil
		},
	}
}

func newRulesShowCommand(opts *RulesOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <rule-id>",
		Short:         "Show one rule's full definition and version history",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := loadEngine(cmd.Context(), opts.DB)
			if err != nil {
				return err
			}
			defer closeFn()

			rule, ok := e.Registry().Get(args[0])
			if !ok {
				return NewExitError(ExitCommandError, fmt.Sprintf("no such rule: %s", args[0]))
			}

			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			if opts.Format == "json" {
				return formatter.Success(struct {
					Rule    any `json:"rule"`
					History any `json:"history"`
				}{Rule: rule, History: e.Registry().History(rule.ID)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) v%d priority=%d enabled=%v group=%q\n",
				rule.Name, rule.ID, rule.Version, rule.Priority, rule.Enabled, rule.Group)
			fmt.Fprintf(cmd.OutOrStdout(), "trigger: %+v\n", rule.Trigger)
			for i, a := range rule.Actions {
				fmt.Fprintf(cmd.OutOrStdout(), "action[%d]: %s\n", i, a.Kind)
			}
			for _, v := range e.Registry().History(rule.ID) {
				fmt.Fprintf(cmd.OutOrStdout(), "  v%d %s at %s\n", v.Version, v.ChangeType, v.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}
}

// loadEngine opens the SQLite-backed storage adapter at dbPath, builds
// an engine against it, and restores every persisted rule. Facts and
// timers are not restored here: facts are never persisted (they are
// process-local derived state), and the engine has no running Timer
// Wheel to arm against outside Run, so rules commands only need the
// registry populated.
func loadEngine(ctx context.Context, dbPath string) (*engine.Engine, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	adapter, err := openStorage(dbPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	e := engine.New(engine.WithStorageAdapter(adapter))
	if err := e.LoadRules(ctx); err != nil {
		adapter.Close()
		return nil, nil, WrapExitError(ExitCommandError, "failed to load rules", err)
	}
	return e, func() { adapter.Close() }, nil
}

// engineWithTrace builds an engine backed by adapter with sink wired as
// its metrics sink, for commands that stream the dispatch trace rather
// than just inspecting state.
func engineWithTrace(adapter *sqlite.Adapter, sink *traceSink) *engine.Engine {
	return engine.New(engine.WithStorageAdapter(adapter), engine.WithMetricsSink(sink))
}
