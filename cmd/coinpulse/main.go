// Command coinpulse runs the market snapshot pipeline: a fixed-cadence
// ingest loop writing aligned snapshots, an indicator engine deriving the
// per-asset battery, and a local ops endpoint.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

const appName = "coinpulse"

// version is stamped by the release build.
var version = "v0.0.0-dev"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	os.Exit(execute())
}
