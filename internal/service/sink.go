package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"relevance-service/internal/dataset"
	"relevance-service/internal/models"

	"go.uber.org/zap"
)

// MultiSink writes to every sink and joins the failures.
type MultiSink []ResultSink

func (ms MultiSink) Save(ctx context.Context, results []models.ScoringResult, summary models.RunSummary) error {
	var errs []error
	for _, s := range ms {
		if err := s.Save(ctx, results, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OutputSink picks the spreadsheet sink for path by extension; anything
// that is not .csv is written as .xlsx.
func OutputSink(path string, logger *zap.Logger) ResultSink {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return dataset.NewCSVSink(path, logger)
	}
	return dataset.NewXLSXSink(path, logger)
}
