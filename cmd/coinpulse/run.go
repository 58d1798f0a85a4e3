package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/coinpulse/coinpulse/internal/app"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the ingest loop, the indicator engine, and the ops server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoops(cmd, flags, (*app.App).Run)
		},
	}
}

func newIngestCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run only the snapshot fetch loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoops(cmd, flags, (*app.App).RunIngest)
		},
	}
}

func newIndicateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "indicate",
		Short: "Run only the indicator engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoops(cmd, flags, (*app.App).RunIndicator)
		},
	}
}

func runLoops(cmd *cobra.Command, flags *rootFlags, loop func(*app.App, context.Context) error) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, logger, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, version, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return loop(a, ctx)
}
