package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// OutputFormat selects how command results are rendered.
type OutputFormat string

const (
	// FormatText is aligned plain text (default).
	FormatText OutputFormat = "text"
	// FormatJSON is indented JSON.
	FormatJSON OutputFormat = "json"
	// FormatCSV is comma-separated values.
	FormatCSV OutputFormat = "csv"
)

// Table is the tabular result shape commands hand to formatters. Rows
// are rendered in order; every row should have one cell per header.
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Formatter renders a Table to a writer.
type Formatter interface {
	FormatTo(w io.Writer, table Table) error
}

// NewFormatter returns the formatter for the given format. Unknown
// formats fall back to text.
func NewFormatter(format OutputFormat) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatCSV:
		return &CSVFormatter{}
	default:
		return &TextFormatter{}
	}
}

// TextFormatter renders a table with space-aligned columns.
type TextFormatter struct{}

// FormatTo writes the table in aligned text form.
func (f *TextFormatter) FormatTo(w io.Writer, table Table) error {
	widths := make([]int, len(table.Headers))
	for i, header := range table.Headers {
		widths[i] = len(header)
	}
	for _, row := range table.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	writeRow := func(cells []string) error {
		var b strings.Builder
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			if i < len(cells)-1 && i < len(widths) {
				b.WriteString(strings.Repeat(" ", widths[i]-len(cell)))
			}
		}
		_, err := fmt.Fprintln(w, b.String())
		return err
	}

	if err := writeRow(table.Headers); err != nil {
		return err
	}
	for _, row := range table.Rows {
		if err := writeRow(row); err != nil {
			return err
		}
	}
	return nil
}

// JSONFormatter renders a table as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes the table as a JSON document.
func (f *JSONFormatter) FormatTo(w io.Writer, table Table) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(table)
}

// CSVFormatter renders a table as CSV with a header row.
type CSVFormatter struct{}

// FormatTo writes the table in CSV form.
func (f *CSVFormatter) FormatTo(w io.Writer, table Table) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(table.Headers); err != nil {
		return err
	}
	for _, row := range table.Rows {
		if err := csvWriter.Write(row); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
