// Package parser turns one pipe-delimited results row into a typed record.
//
// Columns are consumed by fixed position. Each position owns an independent
// conversion; a failing column records an error and leaves its field unset
// while the remaining columns are still converted.
package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/racefeed/internal/domain/model"
)

// Row layout constants.
const (
	Separator   = "|"
	ColumnCount = 17
)

// Parser converts raw rows. It is safe for concurrent use.
type Parser struct {
	loc *time.Location
}

// Option applies a configuration option to the Parser.
type Option func(*Parser)

// WithLocation sets the time zone the date and time-of-day columns are read in.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// New creates a Parser. Timestamps default to UTC.
func New(opts ...Option) *Parser {
	p := &Parser{loc: time.UTC}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses raw without attaching an event id.
func (p *Parser) Parse(raw string) model.ParseOutcome {
	return p.ParseEvent("", raw)
}

// ParseEvent parses raw and stamps the record with eventID.
func (p *Parser) ParseEvent(eventID, raw string) model.ParseOutcome {
	out := model.ParseOutcome{ContentHash: Hash(raw)}

	cols := strings.Split(raw, Separator)
	if len(cols) != ColumnCount {
		out.Errors = append(out.Errors, fmt.Sprintf("columns: expected %d, got %d: %s", ColumnCount, len(cols), raw))
	}

	st := rowState{}
	st.rec.EventID = eventID
	for i := 0; i < len(columns) && i < len(cols); i++ {
		v := strings.TrimSpace(cols[i])
		if err := columns[i].apply(p, &st, v); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("column %d: %v: %s", i, err, raw))
		}
	}

	if st.hasDate {
		st.rec.Timestamp = st.date.Add(st.timeOfDay)
	}
	out.Record = st.rec
	return out
}

// Hash returns the content identity of a raw row: xxhash64 over the exact
// bytes, as 16 lowercase hex digits.
func Hash(raw string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(raw))
}

// Join renders cell texts the way the source fetcher hands them to Parse.
func Join(cells []string) string {
	return strings.Join(cells, Separator)
}
