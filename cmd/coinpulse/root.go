package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/coinpulse/coinpulse/internal/app"
	"github.com/coinpulse/coinpulse/internal/config"
)

// rootFlags carries the persistent flag values. Only flags the operator
// set explicitly become config overrides; unset flags defer to the file
// and the environment.
type rootFlags struct {
	configPath string
	logLevel   string
	dbDSN      string
	apiKey     string
	opsListen  string
}

func execute() int {
	flags := &rootFlags{}
	root := newRootCmd(flags)
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("exited with error")
		return app.ExitCode(err)
	}
	return app.ExitOK
}

func newRootCmd(flags *rootFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Market snapshot and indicator pipeline",
		Long:          "coinpulse ingests paged market snapshots on a fixed cadence,\nderives a per-asset indicator battery from the snapshot history,\nand emits operational events to log and webhook channels.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file path (default config.yaml when present)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: trace|debug|info|warn|error")
	pf.StringVar(&flags.dbDSN, "db-dsn", "", "Postgres DSN")
	pf.StringVar(&flags.apiKey, "api-key", "", "market data provider API key")
	pf.StringVar(&flags.opsListen, "ops-listen", "", "ops HTTP listen address; empty disables the server")

	root.AddCommand(
		newRunCmd(flags),
		newIngestCmd(flags),
		newIndicateCmd(flags),
		newOnceCmd(flags),
		newProbeCmd(flags),
		newVersionCmd(),
	)
	return root
}

// configOverrides lifts explicitly set persistent flags over the file and
// environment values.
func configOverrides(cmd *cobra.Command, flags *rootFlags) []config.Override {
	var ovs []config.Override
	set := cmd.Flags()
	if set.Changed("log-level") {
		ovs = append(ovs, func(c *config.Config) { c.LogLevel = flags.logLevel })
	}
	if set.Changed("db-dsn") {
		ovs = append(ovs, func(c *config.Config) { c.DBDSN = flags.dbDSN })
	}
	if set.Changed("api-key") {
		ovs = append(ovs, func(c *config.Config) { c.APIKey = flags.apiKey })
	}
	if set.Changed("ops-listen") {
		ovs = append(ovs, func(c *config.Config) { c.OpsListenAddr = flags.opsListen })
	}
	return ovs
}

// loadConfig resolves the effective configuration and builds the process
// logger from it. Configuration failures map to exit code 1.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(flags.configPath, configOverrides(cmd, flags)...)
	if err != nil {
		return nil, zerolog.Nop(), &app.FatalError{Code: app.ExitConfig, Err: err}
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stderr
	if term.IsTerminal(int(os.Stderr.Fd())) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).
		Level(cfg.Level()).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()
}

// signalContext cancels on SIGINT/SIGTERM for cooperative shutdown.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
