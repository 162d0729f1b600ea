package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"relevance-service/internal/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Sheet names written by XLSXSink.
const (
	ResultsSheet = "Filtered Results"
	InfoSheet    = "Model Info"
)

// ReadXLSX loads the first sheet; the first row is the header.
func ReadXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return NewTable(nil, nil), nil
	}
	return NewTable(rows[0], rows[1:]), nil
}

// XLSXPath forces an .xlsx extension.
func XLSXPath(path string) string {
	ext := filepath.Ext(path)
	if strings.EqualFold(ext, ".xlsx") {
		return path
	}
	return strings.TrimSuffix(path, ext) + ".xlsx"
}

// XLSXSink writes results and run metadata to a workbook.
type XLSXSink struct {
	path   string
	logger *zap.Logger
}

// NewXLSXSink creates a sink; non-.xlsx paths are rewritten.
func NewXLSXSink(path string, logger *zap.Logger) *XLSXSink {
	return &XLSXSink{path: XLSXPath(path), logger: logger}
}

// Path is where Save writes.
func (s *XLSXSink) Path() string { return s.path }

func (s *XLSXSink) Save(ctx context.Context, results []models.ScoringResult, summary models.RunSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ResultsSheet); err != nil {
		return fmt.Errorf("failed to name results sheet: %w", err)
	}

	header := ResultHeader(results)
	if err := writeRow(f, ResultsSheet, 1, toInterfaces(header)); err != nil {
		return err
	}
	for i, res := range results {
		if err := writeRow(f, ResultsSheet, i+2, ResultValues(res, header)); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(InfoSheet); err != nil {
		return fmt.Errorf("failed to create info sheet: %w", err)
	}
	if err := writeRow(f, InfoSheet, 1, []interface{}{"Parameter", "Value"}); err != nil {
		return err
	}
	for i, kv := range summary.Parameters() {
		if err := writeRow(f, InfoSheet, i+2, []interface{}{kv[0], kv[1]}); err != nil {
			return err
		}
	}

	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", s.path, err)
	}

	s.logger.Info("Results written",
		zap.String("path", s.path),
		zap.Int("rows", len(results)))
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func toInterfaces(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
