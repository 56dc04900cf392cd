// Package source retrieves results pages and turns their first table into
// parsed rows.
package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/parser"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultMaxBytes  = 8 << 20
	defaultUserAgent = "racefeed/1.0"
)

// Fetcher retrieves and parses the current rows of one event.
type Fetcher interface {
	Fetch(ctx context.Context, ref model.EventRef) ([]model.ParseOutcome, error)
}

// HTTPFetcher fetches results pages over HTTP. The client is built once and
// reused across calls.
type HTTPFetcher struct {
	client    *http.Client
	parser    *parser.Parser
	userAgent string
	timeout   time.Duration
	maxBytes  int64
	log       logger.Logger
}

var _ Fetcher = (*HTTPFetcher)(nil)

// New constructs an HTTPFetcher.
func New(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:    &http.Client{},
		userAgent: defaultUserAgent,
		timeout:   defaultTimeout,
		maxBytes:  defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.parser == nil {
		f.parser = parser.New()
	}
	if f.log == nil {
		f.log = logger.Get().Named("source")
	}
	return f
}

// Fetch returns one outcome per data row of the page's first table. A page
// without a table yields no outcomes and no error.
func (f *HTTPFetcher) Fetch(ctx context.Context, ref model.EventRef) ([]model.ParseOutcome, error) {
	rows, err := f.Rows(ctx, ref)
	if err != nil {
		return nil, err
	}
	out := make([]model.ParseOutcome, 0, len(rows))
	for _, r := range rows {
		out = append(out, f.parser.ParseEvent(ref.ID, r))
	}
	return out, nil
}

// Rows returns the raw pipe-joined rows of the page's first table.
func (f *HTTPFetcher) Rows(ctx context.Context, ref model.EventRef) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, ref.ID, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, ref.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s: %d", ErrUnexpectedStatus, ref.ID, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || !strings.Contains(mt, "html") {
			return nil, fmt.Errorf("%w: %s: content type %q", ErrUnexpectedContent, ref.ID, ct)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %w", ErrFetch, ref.ID, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %s: page exceeds %d bytes", ErrUnexpectedContent, ref.ID, f.maxBytes)
	}

	rows, err := ExtractRows(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnexpectedContent, ref.ID, err)
	}
	metrics.RecordRowsFetched(len(rows))
	f.log.Debug(ctx, "page fetched",
		logger.String("event_id", ref.ID),
		logger.Int("bytes", len(body)),
		logger.Int("rows", len(rows)))
	return rows, nil
}

// ExtractRows parses an HTML document and returns the rows of its first
// table after the header row, each rendered as trimmed cell texts joined by
// parser.Separator. Rows of nested tables are not included.
func ExtractRows(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	table := findFirst(doc, atom.Table)
	if table == nil {
		return nil, nil
	}

	var trs []*html.Node
	collectRows(table, &trs)
	if len(trs) <= 1 {
		return nil, nil
	}

	rows := make([]string, 0, len(trs)-1)
	for _, tr := range trs[1:] {
		var cells []string
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
				cells = append(cells, strings.TrimSpace(textOf(c)))
			}
		}
		if len(cells) == 0 {
			continue
		}
		rows = append(rows, parser.Join(cells))
	}
	return rows, nil
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

// collectRows appends the <tr> elements of table in document order,
// looking through thead/tbody/tfoot but not into nested tables.
func collectRows(n *html.Node, out *[]*html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Tr:
			*out = append(*out, c)
		case atom.Thead, atom.Tbody, atom.Tfoot:
			collectRows(c, out)
		}
	}
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
