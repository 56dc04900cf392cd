package fixture

import (
	"fmt"
	"os"

	"github.com/okian/racefeed/pkg/logger"
)

// SetupLogging initializes the logger with the given format and level.
func SetupLogging(format, level string) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := logger.SetFormat(format); err != nil {
		return fmt.Errorf("failed to set log format: %w", err)
	}
	if err := logger.SetLevelString(level); err != nil {
		return fmt.Errorf("failed to set log level: %w", err)
	}
	return nil
}

// ShowHelp prints usage information for the fixture tool.
func ShowHelp() {
	os.Stdout.WriteString(`racefeed Results Fixture
========================

Serves synthetic race results pages that grow over time, for running the
feed locally.

Usage:
  go run ./cmd/results-fixture [options]

Options:
  -addr string
        Listen address (default ":9090")
  -events string
        Comma separated event ids (default "ev-1,ev-2")
  -interval duration
        How often a race is appended to every event (default 15s)
  -initial int
        Races present at startup (default 10)
  -malformed int
        Corrupt every Nth row; 0 disables (default 0)
  -timezone string
        Zone the date and time columns are written in (default "UTC")
  -log-format string
        text or json (default "text")
  -log-level string
        debug, info, warn or error (default "info")
  -help
        Show this help message

Each event is served at /events/{id}. Point the feed at it with:

  events:
    - id: ev-1
      url: http://localhost:9090/events/ev-1
`)
}
