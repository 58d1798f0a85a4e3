package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coinpulse/coinpulse/internal/app"
)

func newProbeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check configuration, database schema, and provider connectivity",
		Long:  "Exit code 0 when everything answers, 1 for configuration or\nprovider failures, 2 when the database probe fails.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, logger, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			// New runs the schema probe; its error carries exit code 2.
			a, err := app.New(ctx, cfg, version, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ProbeProvider(ctx); err != nil {
				return &app.FatalError{Code: app.ExitConfig, Err: fmt.Errorf("provider probe: %w", err)}
			}
			logger.Info().Msg("probe ok: config, database, provider")
			return nil
		},
	}
}
