package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/okian/racefeed/internal/fixture"
)

// Default configuration constants.
const (
	defaultAddr         = ":9090"
	defaultEvents       = "ev-1,ev-2"
	defaultInterval     = 15 * time.Second
	defaultInitialRaces = 10
)

func main() {
	var (
		addr      = flag.String("addr", defaultAddr, "Listen address")
		events    = flag.String("events", defaultEvents, "Comma separated event ids")
		interval  = flag.Duration("interval", defaultInterval, "How often a race is appended to every event")
		initial   = flag.Int("initial", defaultInitialRaces, "Races present at startup")
		malformed = flag.Int("malformed", 0, "Corrupt every Nth row; 0 disables")
		timezone  = flag.String("timezone", "UTC", "Zone the date and time columns are written in")
		logFormat = flag.String("log-format", "text", "Log format: text or json")
		logLevel  = flag.String("log-level", "info", "Log level")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fixture.ShowHelp()
		return
	}

	if err := fixture.SetupLogging(*logFormat, *logLevel); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	loc, err := time.LoadLocation(*timezone)
	if err != nil {
		os.Stderr.WriteString("Invalid timezone: " + err.Error() + "\n")
		os.Exit(1)
	}

	var ids []string
	for _, id := range strings.Split(*events, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &fixture.Config{
		Addr:           *addr,
		Events:         ids,
		Interval:       *interval,
		InitialRaces:   *initial,
		MalformedEvery: *malformed,
		Location:       loc,
	}
	if err := fixture.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Fixture failed: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}
