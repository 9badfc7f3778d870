package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

type reconcileOptions struct {
	*rootOptions
	Loop string
}

func newReconcileCommand(root *rootOptions) *cobra.Command {
	opts := &reconcileOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single cycle and print its report",
		Long: `Run one reconciliation cycle against the configured backends and exit.

Example:
  livelaunch reconcile --loop ll2
  livelaunch reconcile --loop all --config ./livelaunch.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reconcileOnce(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Loop, "loop", "all", "loop to run (ll2|rss|all)")
	return cmd
}

func reconcileOnce(cmd *cobra.Command, opts *reconcileOptions) error {
	switch opts.Loop {
	case "ll2", "rss", "all":
	default:
		return fmt.Errorf("invalid loop %q: must be one of ll2, rss, all", opts.Loop)
	}

	a, err := newApp(opts.cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.cfg.CycleTimeout)
	defer cancel()

	out := map[string]interface{}{}
	if opts.Loop != "rss" {
		report, err := a.engine.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("structured cycle: %w", err)
		}
		out[a.engine.Name()] = report
	}
	if opts.Loop != "ll2" {
		if a.sweep == nil {
			if opts.Loop == "rss" {
				return fmt.Errorf("no content feed channels configured")
			}
		} else {
			n, err := a.sweep.Sweep(ctx)
			if err != nil {
				return fmt.Errorf("content cycle: %w", err)
			}
			out[a.sweep.Name()] = map[string]int{"media_announced": n}
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
