package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MissingSentinel is written for a (target, name) pair that was never
// stored. Export substitutes it rather than failing: one dead point of
// interest must not lose the table for the other dozens.
const MissingSentinel = "0.0"

// UntargetedLabel is the target column value for the synthetic untargeted
// row.
const UntargetedLabel = "-"

// Table is exported run data: a header row of "target" plus the requested
// result names, and one row per target in run order.
type Table struct {
	Header []string
	Rows   [][]string
}

// Export builds a Table over targets in order, with columns names. Missing
// values become MissingSentinel. An empty target list produces a single
// untargeted row, matching how the scheduler runs such a program once.
func (s *Store) Export(targets []string, names []string) Table {
	if len(targets) == 0 {
		targets = []string{Untargeted}
	}

	header := make([]string, 0, len(names)+1)
	header = append(header, "target")
	header = append(header, names...)

	rows := make([][]string, 0, len(targets))
	for _, target := range targets {
		row := make([]string, 0, len(names)+1)
		row = append(row, targetLabel(target))
		for _, name := range names {
			v, err := s.Fetch(target, name)
			if err != nil {
				row = append(row, MissingSentinel)
				continue
			}
			row = append(row, FormatValue(v))
		}
		rows = append(rows, row)
	}

	return Table{Header: header, Rows: rows}
}

func targetLabel(target string) string {
	if target == Untargeted {
		return UntargetedLabel
	}
	return target
}

// FormatValue renders a stored scalar for export. Floats use the shortest
// round-trip representation; everything else falls back to fmt.
func FormatValue(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// WriteCSV writes the table as comma-separated values with the header row.
func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteColumns writes the table as whitespace-delimited columns, the
// .dat-style layout lab plotting scripts ingest.
func (t Table) WriteColumns(w io.Writer) error {
	if _, err := fmt.Fprintln(w, strings.Join(t.Header, " ")); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if _, err := fmt.Fprintln(w, strings.Join(row, " ")); err != nil {
			return err
		}
	}
	return nil
}
