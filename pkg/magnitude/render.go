package magnitude

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/dnsmagnitude/pkg/persist"
)

// Format is a report output format.
type Format string

// Supported report formats.
const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// ErrUnknownFormat is returned for an unsupported output format.
var ErrUnknownFormat = errors.New("magnitude: unknown output format")

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatTable:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Render writes report to w in the given format.
func Render(w io.Writer, report *Report, format Format) error {
	switch format {
	case FormatJSON:
		return persist.NewJSONCodec().Encode(w, report)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		err := enc.Encode(report)
		if err != nil {
			return fmt.Errorf("yaml encode: %w", err)
		}

		return enc.Close()
	case FormatTable:
		_, err := io.WriteString(w, RenderTable(report)+"\n")

		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Ranked returns the report's domains ordered by magnitude, highest first,
// then by name.
func (r *Report) Ranked() []string {
	names := slices.Collect(maps.Keys(r.Domains))

	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(r.Domains[b].Magnitude, r.Domains[a].Magnitude); c != 0 {
			return c
		}

		return cmp.Compare(a, b)
	})

	return names
}

// RenderTable formats the report as a plain text table.
func RenderTable(report *Report) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Format.Footer = text.FormatDefault

	tbl.AppendHeader(table.Row{"#", "Domain", "Magnitude", "Clients"})

	for i, name := range report.Ranked() {
		dm := report.Domains[name]
		tbl.AppendRow(table.Row{i + 1, name, fmt.Sprintf("%.3f", dm.Magnitude), dm.Clients})
	}

	tbl.AppendFooter(table.Row{"", fmt.Sprintf("%d domains", len(report.Domains)), "", report.Clients})

	return tbl.Render()
}
