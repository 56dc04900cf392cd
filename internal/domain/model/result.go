// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// EventRef identifies one race event and where its results page lives.
type EventRef struct {
	ID   string // opaque event id
	Name string // human readable name, informational only
	URL  string // results page locator
}

// Lane is the lane a racer ran in.
type Lane int

// Lane values.
const (
	LaneUndefined Lane = iota
	LaneLeft
	LaneRight
)

func (l Lane) String() string {
	switch l {
	case LaneLeft:
		return "left"
	case LaneRight:
		return "right"
	default:
		return "undefined"
	}
}

// ParseLane maps a lane name to a Lane. Matching is case-insensitive.
func ParseLane(s string) (Lane, bool) {
	switch strings.ToLower(s) {
	case "left", "l":
		return LaneLeft, true
	case "right", "r":
		return LaneRight, true
	case "undefined":
		return LaneUndefined, true
	}
	return LaneUndefined, false
}

// Result is the outcome code of one run.
type Result int

// Result values.
const (
	ResultUndefined Result = iota
	ResultWinner
	ResultRunnerUp
)

func (r Result) String() string {
	switch r {
	case ResultWinner:
		return "winner"
	case ResultRunnerUp:
		return "runner-up"
	default:
		return "undefined"
	}
}

// ParseResult maps a result name to a Result. Matching is case-insensitive.
func ParseResult(s string) (Result, bool) {
	switch strings.ToLower(s) {
	case "winner", "win":
		return ResultWinner, true
	case "runner-up", "runnerup", "runner_up", "loser":
		return ResultRunnerUp, true
	case "undefined":
		return ResultUndefined, true
	}
	return ResultUndefined, false
}

// RaceResultRecord is one normalized results row. Measurements are optional
// because a partially parseable row still yields a record.
type RaceResultRecord struct {
	EventID   string
	RaceID    int
	Round     string
	RacerID   string
	Lane      Lane
	Result    Result
	Timestamp time.Time

	DialIn       *time.Duration
	ReactionTime *time.Duration

	SixtyFeet         *time.Duration
	ThreeThirtyFeet   *time.Duration
	EighthMile        *time.Duration
	EighthMileSpeed   *float64
	ThousandFeet      *time.Duration
	ThousandFeetSpeed *float64
	FinishTime        *time.Duration
	FinishSpeed       *float64
}

// ParseOutcome is the result of parsing one raw row.
// An empty Errors slice means the row is fully trusted.
type ParseOutcome struct {
	Record      RaceResultRecord
	Errors      []string
	ContentHash string
}

// OK reports whether the row parsed without any error.
func (o ParseOutcome) OK() bool { return len(o.Errors) == 0 }

// ChangeKind tells subscribers what happened to a content hash.
type ChangeKind int

// Change kinds.
const (
	ChangeAddOrUpdate ChangeKind = iota
	ChangeDelete
)

func (k ChangeKind) String() string {
	if k == ChangeDelete {
		return "delete"
	}
	return "add_or_update"
}

// ChangeEvent is emitted when a snapshot transition adds or removes a hash.
// Record is nil for deletes.
type ChangeEvent struct {
	Kind        ChangeKind
	EventID     string
	ContentHash string
	Record      *RaceResultRecord
}

// BatchMessage groups the change events of one window for one subscription.
type BatchMessage struct {
	Sequence uint64
	Items    []ChangeEvent
}
