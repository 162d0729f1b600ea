// Package dataset loads tabular inputs and writes scored results back out as
// spreadsheets or CSV files.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"relevance-service/internal/models"
)

// ErrUnsupportedFormat is returned for extensions other than .xlsx and .csv.
var ErrUnsupportedFormat = errors.New("unsupported dataset format")

// Source is the read side the scorer consumes.
type Source interface {
	RowCount() int
	Columns() []string
	Field(row int, column string) string
}

// Table is an in-memory Source.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// NewTable builds a table. Blank or duplicate header names are made unique.
func NewTable(columns []string, rows [][]string) *Table {
	t := &Table{index: make(map[string]int, len(columns))}
	for i, c := range columns {
		name := strings.TrimSpace(c)
		if name == "" {
			name = fmt.Sprintf("Column %d", i+1)
		}
		base, n := name, 2
		for {
			if _, dup := t.index[name]; !dup {
				break
			}
			name = fmt.Sprintf("%s_%d", base, n)
			n++
		}
		t.index[name] = i
		t.columns = append(t.columns, name)
	}
	for _, r := range rows {
		if isEmptyRow(r) {
			continue
		}
		row := make([]string, len(t.columns))
		copy(row, r)
		t.rows = append(t.rows, row)
	}
	return t
}

func (t *Table) RowCount() int { return len(t.rows) }

func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Field returns "" for unknown columns or out-of-range rows.
func (t *Table) Field(row int, column string) string {
	if row < 0 || row >= len(t.rows) {
		return ""
	}
	i, ok := t.index[column]
	if !ok {
		return ""
	}
	return t.rows[row][i]
}

// Records materialises every row of src.
func Records(src Source) []models.Record {
	cols := src.Columns()
	out := make([]models.Record, 0, src.RowCount())
	for r := 0; r < src.RowCount(); r++ {
		fields := make(map[string]string, len(cols))
		for _, c := range cols {
			fields[c] = src.Field(r, c)
		}
		out = append(out, models.NewRecord(cols, fields))
	}
	return out
}

// FromMaps builds a table from keyed rows; columns are the sorted union of keys.
func FromMaps(rows []map[string]string) *Table {
	seen := make(map[string]bool)
	var columns []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)

	values := make([][]string, 0, len(rows))
	for _, r := range rows {
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = r[c]
		}
		values = append(values, row)
	}
	return NewTable(columns, values)
}

// Open reads a dataset, choosing the reader by file extension.
func Open(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(path)
	case ".csv":
		return ReadCSV(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func isEmptyRow(r []string) bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Result table columns appended after the input columns.
const (
	ColumnScore     = "relevance_score"
	ColumnRelevant  = "is_relevant"
	ColumnIteration = "iteration"
	ColumnTimestamp = "timestamp"
	ColumnError     = "scoring_error"
)

var resultColumns = []string{ColumnScore, ColumnRelevant, ColumnIteration, ColumnTimestamp, ColumnError}

// ResultHeader returns the input columns seen across results, in first-seen
// order, followed by the result columns.
func ResultHeader(results []models.ScoringResult) []string {
	seen := make(map[string]bool)
	for _, c := range resultColumns {
		seen[c] = true
	}
	var header []string
	for _, res := range results {
		for _, c := range res.Record.OrderedColumns() {
			if !seen[c] {
				seen[c] = true
				header = append(header, c)
			}
		}
	}
	return append(header, resultColumns...)
}

// ResultValues lays out one result under header.
func ResultValues(res models.ScoringResult, header []string) []interface{} {
	row := make([]interface{}, len(header))
	for i, c := range header {
		switch c {
		case ColumnScore:
			row[i] = res.Score
		case ColumnRelevant:
			row[i] = res.IsRelevant
		case ColumnIteration:
			row[i] = res.Iteration
		case ColumnTimestamp:
			row[i] = res.Timestamp.Format(models.TimestampLayout)
		case ColumnError:
			row[i] = res.Error
		default:
			row[i] = res.Record.Fields[c]
		}
	}
	return row
}
