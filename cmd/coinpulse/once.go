package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/coinpulse/coinpulse/internal/app"
	"github.com/coinpulse/coinpulse/internal/models"
)

func newOnceCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single ingest tick and exit with its outcome",
		Long:  "Runs one tick against the current bucket.\nExit code 0 on success, 1 on a partial tick, 2 on failure.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			switch outcome := a.RunOnce(ctx); outcome {
			case models.TickSuccess:
				return nil
			case models.TickPartial:
				return &app.FatalError{Code: 1, Err: errors.New("tick finished partial")}
			default:
				return &app.FatalError{Code: 2, Err: errors.New("tick finished failure")}
			}
		},
	}
}
