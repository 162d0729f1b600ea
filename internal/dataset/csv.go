package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"relevance-service/internal/models"

	"go.uber.org/zap"
)

// ReadCSV loads a CSV file with a header row. A UTF-8 BOM is ignored.
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(rows) == 0 {
		return NewTable(nil, nil), nil
	}
	if len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return NewTable(rows[0], rows[1:]), nil
}

// CSVSink writes results to path and the summary next to it as <name>_summary.csv.
type CSVSink struct {
	path   string
	logger *zap.Logger
}

func NewCSVSink(path string, logger *zap.Logger) *CSVSink {
	return &CSVSink{path: path, logger: logger}
}

// SummaryPath is the companion file holding run metadata.
func (s *CSVSink) SummaryPath() string {
	ext := filepath.Ext(s.path)
	return strings.TrimSuffix(s.path, ext) + "_summary" + ext
}

func (s *CSVSink) Save(ctx context.Context, results []models.ScoringResult, summary models.RunSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := writeCSV(s.path, resultRows(results)); err != nil {
		return err
	}

	info := [][]string{{"Parameter", "Value"}}
	for _, kv := range summary.Parameters() {
		info = append(info, []string{kv[0], kv[1]})
	}
	if err := writeCSV(s.SummaryPath(), info); err != nil {
		return err
	}

	s.logger.Info("Results written", zap.String("path", s.path), zap.Int("rows", len(results)))
	return nil
}

// WriteResultsCSV streams results as CSV; used by the HTTP export.
func WriteResultsCSV(w io.Writer, results []models.ScoringResult) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(resultRows(results)); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

func resultRows(results []models.ScoringResult) [][]string {
	header := ResultHeader(results)
	rows := [][]string{header}
	for _, res := range results {
		values := ResultValues(res, header)
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = fmt.Sprint(v)
		}
		rows = append(rows, row)
	}
	return rows
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
