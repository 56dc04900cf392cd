// Package fixture serves synthetic race results pages so the feed can be run
// end to end without a real timing system.
package fixture

import "time"

// Config holds configuration for the fixture server.
type Config struct {
	Addr           string         // Listen address
	Events         []string       // Event ids to serve
	Interval       time.Duration  // How often a new race is appended per event
	InitialRaces   int            // Races present before the first tick
	MalformedEvery int            // Every Nth row gets an unparseable cell; 0 disables
	Location       *time.Location // Zone the date and time columns are written in
}

// Stats holds fixture counters.
type Stats struct {
	Races     int64
	Rows      int64
	Malformed int64
	Requests  int64
}
