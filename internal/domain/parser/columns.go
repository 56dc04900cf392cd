package parser

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/okian/racefeed/internal/domain/model"
)

// Accepted layouts for the date and time-of-day columns.
var (
	dateLayouts = []string{"02.01.2006", "2006-01-02"}
	timeLayouts = []string{"15:04:05", "15:04"}
)

// rowState accumulates converted values while the column handlers run.
type rowState struct {
	rec       model.RaceResultRecord
	date      time.Time
	hasDate   bool
	timeOfDay time.Duration
}

// columnHandler converts one trimmed cell into rowState.
type columnHandler struct {
	name  string
	apply func(p *Parser, st *rowState, v string) error
}

// columns is indexed by column position. Its length is ColumnCount.
var columns = [ColumnCount]columnHandler{
	{name: "date", apply: parseDate},
	{name: "time", apply: parseTimeOfDay},
	{name: "race_id", apply: parseRaceID},
	{name: "round", apply: func(_ *Parser, st *rowState, v string) error { st.rec.Round = v; return nil }},
	{name: "racer_id", apply: func(_ *Parser, st *rowState, v string) error { st.rec.RacerID = v; return nil }},
	{name: "lane", apply: parseLane},
	durationColumn("dial_in", func(r *model.RaceResultRecord, d *time.Duration) { r.DialIn = d }),
	durationColumn("reaction_time", func(r *model.RaceResultRecord, d *time.Duration) { r.ReactionTime = d }),
	durationColumn("sixty_feet", func(r *model.RaceResultRecord, d *time.Duration) { r.SixtyFeet = d }),
	durationColumn("three_thirty_feet", func(r *model.RaceResultRecord, d *time.Duration) { r.ThreeThirtyFeet = d }),
	durationColumn("eighth_mile", func(r *model.RaceResultRecord, d *time.Duration) { r.EighthMile = d }),
	speedColumn("eighth_mile_speed", func(r *model.RaceResultRecord, s *float64) { r.EighthMileSpeed = s }),
	durationColumn("thousand_feet", func(r *model.RaceResultRecord, d *time.Duration) { r.ThousandFeet = d }),
	speedColumn("thousand_feet_speed", func(r *model.RaceResultRecord, s *float64) { r.ThousandFeetSpeed = s }),
	durationColumn("finish_time", func(r *model.RaceResultRecord, d *time.Duration) { r.FinishTime = d }),
	speedColumn("finish_speed", func(r *model.RaceResultRecord, s *float64) { r.FinishSpeed = s }),
	{name: "result", apply: parseResultCode},
}

// ColumnName returns the name of the column at position i, or "" when i is
// out of range.
func ColumnName(i int) string {
	if i < 0 || i >= len(columns) {
		return ""
	}
	return columns[i].name
}

func parseDate(p *Parser, st *rowState, v string) error {
	if v == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if d, err := time.ParseInLocation(layout, v, p.loc); err == nil {
			st.date = d
			st.hasDate = true
			return nil
		}
	}
	return fmt.Errorf("%w %q", ErrInvalidDate, v)
}

func parseTimeOfDay(_ *Parser, st *rowState, v string) error {
	if v == "" {
		return nil
	}
	midnight := time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			st.timeOfDay = t.Sub(midnight)
			return nil
		}
	}
	return fmt.Errorf("%w %q", ErrInvalidTime, v)
}

func parseRaceID(_ *Parser, st *rowState, v string) error {
	if v == "" {
		return nil
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w %q", ErrInvalidNumber, v)
	}
	st.rec.RaceID = id
	return nil
}

func parseLane(_ *Parser, st *rowState, v string) error {
	if v == "" {
		st.rec.Lane = model.LaneUndefined
		return nil
	}
	lane, ok := model.ParseLane(v)
	if !ok {
		return fmt.Errorf("%w %q", ErrInvalidLane, v)
	}
	st.rec.Lane = lane
	return nil
}

func parseResultCode(_ *Parser, st *rowState, v string) error {
	if v == "" {
		st.rec.Result = model.ResultUndefined
		return nil
	}
	res, ok := model.ParseResult(v)
	if !ok {
		return fmt.Errorf("%w %q", ErrInvalidResult, v)
	}
	st.rec.Result = res
	return nil
}

func durationColumn(name string, set func(*model.RaceResultRecord, *time.Duration)) columnHandler {
	return columnHandler{name: name, apply: func(_ *Parser, st *rowState, v string) error {
		if v == "" {
			return nil
		}
		f, err := parseFloat(v)
		if err != nil {
			return err
		}
		d := time.Duration(math.Round(f * float64(time.Second)))
		set(&st.rec, &d)
		return nil
	}}
}

func speedColumn(name string, set func(*model.RaceResultRecord, *float64)) columnHandler {
	return columnHandler{name: name, apply: func(_ *Parser, st *rowState, v string) error {
		if v == "" {
			return nil
		}
		f, err := parseFloat(v)
		if err != nil {
			return err
		}
		set(&st.rec, &f)
		return nil
	}}
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w %q", ErrInvalidNumber, v)
	}
	return f, nil
}
