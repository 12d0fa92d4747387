package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// Version is the progressctl release.
const Version = "0.1.0"

type rootOptions struct {
	store string
	lock  string
}

// opener builds the app for one command run.
type opener func(ctx context.Context, opts *rootOptions) (*app, error)

func openFromEnv(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg, newLogger(cfg))
}

func newRootCmd(open opener) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "progressctl",
		Short:         "Operate the habit progression engine",
		Long:          "progressctl records habits, evaluates streaks and inspects the progression of users.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	root.PersistentFlags().StringVar(&opts.store, "store", "", "store backend: postgres or memory (overrides ENGINE_STORE)")
	root.PersistentFlags().StringVar(&opts.lock, "lock", "", "lock backend: redis or local (overrides ENGINE_LOCK)")

	run := func(cmd *cobra.Command, fn func(a *app) error) error {
		a, err := open(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(a)
	}

	root.AddCommand(
		newMigrateCmd(run),
		newUserCmd(run),
		newRecordCmd(run),
		newGoalsCmd(run),
		newStreakCmd(run),
		newStatusCmd(run),
		newServeCmd(run),
	)
	return root
}

// runner opens the app, runs fn and closes the app.
type runner func(cmd *cobra.Command, fn func(a *app) error) error

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
