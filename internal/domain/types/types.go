// Package types contains the JSON shapes exchanged with API and stream clients.
package types

import (
	"time"

	"github.com/okian/racefeed/internal/domain/model"
)

// Event describes one followed results page.
type Event struct {
	ID      string     `json:"id"`
	Name    string     `json:"name,omitempty"`
	URL     string     `json:"url"`
	Records int        `json:"records"`
	Latest  *time.Time `json:"latest,omitempty"`
}

// Result is the wire form of a race result record. Times are in seconds.
type Result struct {
	EventID           string    `json:"event_id"`
	ContentHash       string    `json:"content_hash"`
	RaceID            int       `json:"race_id"`
	Round             string    `json:"round"`
	RacerID           string    `json:"racer_id"`
	Lane              string    `json:"lane"`
	Result            string    `json:"result"`
	Timestamp         time.Time `json:"timestamp"`
	DialIn            *float64  `json:"dial_in,omitempty"`
	ReactionTime      *float64  `json:"reaction_time,omitempty"`
	SixtyFeet         *float64  `json:"sixty_feet,omitempty"`
	ThreeThirtyFeet   *float64  `json:"three_thirty_feet,omitempty"`
	EighthMile        *float64  `json:"eighth_mile,omitempty"`
	EighthMileSpeed   *float64  `json:"eighth_mile_speed,omitempty"`
	ThousandFeet      *float64  `json:"thousand_feet,omitempty"`
	ThousandFeetSpeed *float64  `json:"thousand_feet_speed,omitempty"`
	FinishTime        *float64  `json:"finish_time,omitempty"`
	FinishSpeed       *float64  `json:"finish_speed,omitempty"`
}

// Change is one entry of a pushed batch. Result is omitted for deletes.
type Change struct {
	Kind        string  `json:"kind"`
	EventID     string  `json:"event_id"`
	ContentHash string  `json:"content_hash"`
	Result      *Result `json:"result,omitempty"`
}

// Batch is the message pushed to stream subscribers.
type Batch struct {
	Sequence uint64   `json:"seq"`
	Items    []Change `json:"items"`
}

// NewResult converts a stored record and its identity to wire form.
func NewResult(hash string, r *model.RaceResultRecord) Result {
	return Result{
		EventID:           r.EventID,
		ContentHash:       hash,
		RaceID:            r.RaceID,
		Round:             r.Round,
		RacerID:           r.RacerID,
		Lane:              r.Lane.String(),
		Result:            r.Result.String(),
		Timestamp:         r.Timestamp,
		DialIn:            secondsOf(r.DialIn),
		ReactionTime:      secondsOf(r.ReactionTime),
		SixtyFeet:         secondsOf(r.SixtyFeet),
		ThreeThirtyFeet:   secondsOf(r.ThreeThirtyFeet),
		EighthMile:        secondsOf(r.EighthMile),
		EighthMileSpeed:   r.EighthMileSpeed,
		ThousandFeet:      secondsOf(r.ThousandFeet),
		ThousandFeetSpeed: r.ThousandFeetSpeed,
		FinishTime:        secondsOf(r.FinishTime),
		FinishSpeed:       r.FinishSpeed,
	}
}

// NewChange converts a change event to wire form.
func NewChange(ev model.ChangeEvent) Change {
	c := Change{Kind: ev.Kind.String(), EventID: ev.EventID, ContentHash: ev.ContentHash}
	if ev.Kind == model.ChangeAddOrUpdate && ev.Record != nil {
		res := NewResult(ev.ContentHash, ev.Record)
		c.Result = &res
	}
	return c
}

// NewBatch converts a batch message to wire form.
func NewBatch(msg model.BatchMessage) Batch {
	items := make([]Change, 0, len(msg.Items))
	for _, ev := range msg.Items {
		items = append(items, NewChange(ev))
	}
	return Batch{Sequence: msg.Sequence, Items: items}
}

func secondsOf(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	s := d.Seconds()
	return &s
}
