package fixture

import (
	"html/template"
	"io"
	"strings"

	"github.com/okian/racefeed/internal/domain/parser"
)

var header = []string{
	"Date", "Time", "Race", "Round", "Racer", "Lane", "Dial-in", "R/T",
	"60'", "330'", "1/8", "MPH", "1000'", "MPH", "1/4", "MPH", "Result",
}

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8">
    <title>{{.EventID}} results</title>
  </head>
  <body>
    <h1>Results {{.EventID}}</h1>
    <table class="results">
      <thead>
        <tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr>
      </thead>
      <tbody>
{{- range .Rows}}
        <tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
      </tbody>
    </table>
  </body>
</html>
`))

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
  <head><meta charset="utf-8"><title>Fixture events</title></head>
  <body>
    <ul>
{{- range .}}
      <li><a href="/events/{{.}}">{{.}}</a></li>
{{- end}}
    </ul>
  </body>
</html>
`))

type pageData struct {
	EventID string
	Header  []string
	Rows    [][]string
}

// RenderPage writes a results page whose table holds rows, newest last.
func RenderPage(w io.Writer, eventID string, rows []string) error {
	data := pageData{EventID: eventID, Header: header, Rows: make([][]string, 0, len(rows))}
	for _, r := range rows {
		data.Rows = append(data.Rows, strings.Split(r, parser.Separator))
	}
	return pageTemplate.Execute(w, data)
}

func renderIndex(w io.Writer, events []string) error {
	return indexTemplate.Execute(w, events)
}
