package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"relevance-service/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// insertBatch bounds the rows per INSERT to stay under the 65535 parameter limit.
const insertBatch = 500

// NewPostgresDB establishes a new connection to the PostgreSQL database.
func NewPostgresDB(dataSourceName string, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dataSourceName)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Successfully connected to the database!")
	return db, nil
}

// MigratePostgres runs the embedded migrations.
func MigratePostgres(db *sqlx.DB, logger *zap.Logger) error {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("couldn't get database instance for running migrations: %w", err)
	}

	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("couldn't open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "relevance_service", driver)
	if err != nil {
		return fmt.Errorf("couldn't create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("couldn't run database migration: %w", err)
	}

	logger.Info("Database migration was run successfully")
	return nil
}

// PostgresSink stores labelled dataset entries for downstream training jobs.
type PostgresSink struct {
	db      *sqlx.DB
	mapping models.ColumnMapping
	logger  *zap.Logger
}

// NewPostgresSink creates the sink; mapping picks the title column.
func NewPostgresSink(db *sqlx.DB, mapping models.ColumnMapping, logger *zap.Logger) *PostgresSink {
	return &PostgresSink{db: db, mapping: mapping, logger: logger}
}

func (s *PostgresSink) Save(ctx context.Context, results []models.ScoringResult, summary models.RunSummary) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	del, args, err := psql.Delete("dataset_entries").Where(sq.Eq{"run_id": summary.RunID}).ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}

	for start := 0; start < len(results); start += insertBatch {
		end := start + insertBatch
		if end > len(results) {
			end = len(results)
		}
		query, args, err := s.buildInsert(summary.RunID, start, results[start:end])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert entries %d-%d: %w", start, end, err)
		}
	}

	upsert, args, err := psql.Insert("run_summaries").
		Columns("run_id", "topic", "threshold", "iterations", "total_records", "processed_records",
			"relevant_records", "provider", "model", "temperature", "started_at", "finished_at").
		Values(summary.RunID, summary.Topic, summary.Threshold, summary.Iterations, summary.TotalRecords,
			summary.ProcessedRecords, summary.RelevantRecords, summary.Provider.ProviderID,
			summary.Provider.Model, summary.Provider.Temperature, summary.StartedAt, summary.FinishedAt).
		Suffix(`ON CONFLICT (run_id) DO UPDATE SET
			topic = EXCLUDED.topic, threshold = EXCLUDED.threshold, iterations = EXCLUDED.iterations,
			total_records = EXCLUDED.total_records, processed_records = EXCLUDED.processed_records,
			relevant_records = EXCLUDED.relevant_records, provider = EXCLUDED.provider,
			model = EXCLUDED.model, temperature = EXCLUDED.temperature,
			started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsert, args...); err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entries: %w", err)
	}

	s.logger.Info("Dataset entries stored",
		zap.String("run_id", summary.RunID),
		zap.Int("entries", len(results)))
	return nil
}

func (s *PostgresSink) buildInsert(runID string, offset int, results []models.ScoringResult) (string, []interface{}, error) {
	ins := psql.Insert("dataset_entries").
		Columns("run_id", "position", "title", "fields", "relevance_score", "is_relevant", "iteration", "scored_at", "error_message")
	for i, res := range results {
		fields, err := json.Marshal(res.Record.Fields)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode fields: %w", err)
		}
		ins = ins.Values(runID, offset+i, res.Record.Title(s.mapping), string(fields),
			res.Score, res.IsRelevant, res.Iteration, res.Timestamp, res.Error)
	}
	return ins.ToSql()
}

// DatasetEntry is one row of dataset_entries.
type DatasetEntry struct {
	ID             int64           `db:"id" json:"id"`
	RunID          string          `db:"run_id" json:"run_id"`
	Position       int             `db:"position" json:"position"`
	Title          string          `db:"title" json:"title"`
	Fields         json.RawMessage `db:"fields" json:"fields"`
	RelevanceScore int             `db:"relevance_score" json:"relevance_score"`
	IsRelevant     bool            `db:"is_relevant" json:"is_relevant"`
	Iteration      int             `db:"iteration" json:"iteration"`
}

// RelevantEntries returns a run's relevant entries ordered by position.
func (s *PostgresSink) RelevantEntries(ctx context.Context, runID string) ([]DatasetEntry, error) {
	query, args, err := psql.
		Select("id", "run_id", "position", "title", "fields", "relevance_score", "is_relevant", "iteration").
		From("dataset_entries").
		Where(sq.Eq{"run_id": runID, "is_relevant": true}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, err
	}

	var entries []DatasetEntry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	return entries, nil
}
