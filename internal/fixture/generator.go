package fixture

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/racefeed/internal/domain/parser"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
	racerPoolSize      = 16
	racesPerRound      = 8
	malformedCell      = "n/a"
	finishTimeColumn   = 14
)

// Ranges for generated measurements, as minimum and spread.
const (
	dialInMin, dialInRange            = 8.5, 2.0
	reactionMin, reactionRange        = 0.02, 0.5
	sixtyMin, sixtyRange              = 1.2, 0.4
	threeThirtyMin, threeThirtyRange  = 3.4, 0.6
	eighthMin, eighthRange            = 5.3, 0.8
	eighthSpeedMin, eighthSpeedRange  = 120.0, 30.0
	thousandMin, thousandRange        = 7.0, 1.0
	thousandSpeedMin, thousandSpRange = 140.0, 30.0
	finishMin, finishRange            = 8.3, 1.4
	finishSpeedMin, finishSpeedRange  = 150.0, 35.0
	winnerFinishAdvantage             = 0.05
	redLightReaction                  = -0.021
	redLightEvery                     = 23
)

var rounds = []string{"Q1", "Q2", "Q3", "E1", "E2", "QF", "SF", "F"}

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

func randomIndex(n int) int {
	i, _ := rand.Int(rand.Reader, big.NewInt(int64(n)))
	return int(i.Int64())
}

// Generator produces result rows for one event. Each race yields two rows,
// one per lane.
type Generator struct {
	mu             sync.Mutex
	eventID        string
	loc            *time.Location
	malformedEvery int
	racers         []string
	race           int
	rows           int
	malformed      int
}

// NewGenerator creates a generator for eventID with a fresh racer pool.
func NewGenerator(eventID string, malformedEvery int, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	racers := make([]string, racerPoolSize)
	for i := range racers {
		racers[i] = uuid.NewString()[:8]
	}
	return &Generator{
		eventID:        eventID,
		loc:            loc,
		malformedEvery: malformedEvery,
		racers:         racers,
	}
}

// EventID returns the event the generator writes for.
func (g *Generator) EventID() string { return g.eventID }

// Malformed returns how many rows were deliberately corrupted.
func (g *Generator) Malformed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.malformed
}

// Race returns the two rows of the next race run at now.
func (g *Generator) Race(now time.Time) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.race++
	round := rounds[((g.race-1)/racesPerRound)%len(rounds)]
	left := g.racers[randomIndex(len(g.racers))]
	right := g.racers[randomIndex(len(g.racers))]
	for right == left {
		right = g.racers[randomIndex(len(g.racers))]
	}
	leftWins := randomIndex(2) == 0

	rows := []string{
		g.row(now, round, left, "left", leftWins),
		g.row(now, round, right, "right", !leftWins),
	}
	return rows
}

func (g *Generator) row(now time.Time, round, racer, lane string, winner bool) string {
	g.rows++
	at := now.In(g.loc)

	finish := finishMin + getRandomFloat()*finishRange
	if winner {
		finish -= winnerFinishAdvantage
	}
	reaction := reactionMin + getRandomFloat()*reactionRange
	if g.rows%redLightEvery == 0 {
		reaction = redLightReaction
	}
	result := "runner-up"
	if winner {
		result = "winner"
	}

	cells := []string{
		at.Format("02.01.2006"),
		at.Format("15:04:05"),
		strconv.Itoa(g.race),
		round,
		racer,
		lane,
		seconds(dialInMin + getRandomFloat()*dialInRange),
		seconds(reaction),
		seconds(sixtyMin + getRandomFloat()*sixtyRange),
		seconds(threeThirtyMin + getRandomFloat()*threeThirtyRange),
		seconds(eighthMin + getRandomFloat()*eighthRange),
		speed(eighthSpeedMin + getRandomFloat()*eighthSpeedRange),
		seconds(thousandMin + getRandomFloat()*thousandRange),
		speed(thousandSpeedMin + getRandomFloat()*thousandSpRange),
		seconds(finish),
		speed(finishSpeedMin + getRandomFloat()*finishSpeedRange),
		result,
	}
	if g.malformedEvery > 0 && g.rows%g.malformedEvery == 0 {
		cells[finishTimeColumn] = malformedCell
		g.malformed++
	}
	return parser.Join(cells)
}

func seconds(v float64) string { return fmt.Sprintf("%.3f", v) }

func speed(v float64) string { return fmt.Sprintf("%.2f", v) }
