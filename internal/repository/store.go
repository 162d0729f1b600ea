package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"relevance-service/internal/models"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrJobNotFound is returned by GetJob for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// Store keeps scored results, run summaries and async jobs in SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens (and creates) the SQLite database at dbPath.
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Result store initialized", zap.String("db_path", dbPath))
	return s, nil
}

// migrate creates tables
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scoring_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		record_json TEXT NOT NULL,
		relevance_score INTEGER NOT NULL,
		is_relevant BOOLEAN NOT NULL,
		iteration INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_results_run ON scoring_results(run_id, position);

	CREATE TABLE IF NOT EXISTS run_summaries (
		run_id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		threshold INTEGER NOT NULL,
		iterations INTEGER NOT NULL,
		total_records INTEGER NOT NULL,
		processed_records INTEGER NOT NULL,
		relevant_records INTEGER NOT NULL,
		provider_json TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		total_count INTEGER NOT NULL,
		processed_count INTEGER DEFAULT 0,
		relevant_count INTEGER DEFAULT 0,
		failed_count INTEGER DEFAULT 0,
		progress INTEGER DEFAULT 0,
		output_path TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		error_message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_job_status ON jobs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save persists a run's results and summary in one transaction. Saving the
// same run again replaces its previous rows.
func (s *Store) Save(ctx context.Context, results []models.ScoringResult, summary models.RunSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scoring_results WHERE run_id = ?`, summary.RunID); err != nil {
		return fmt.Errorf("failed to clear results: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scoring_results (
			run_id, position, record_json, relevance_score, is_relevant, iteration, timestamp, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, res := range results {
		record, err := json.Marshal(res.Record)
		if err != nil {
			return fmt.Errorf("failed to encode record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx,
			summary.RunID, i, string(record), res.Score, res.IsRelevant, res.Iteration, res.Timestamp.UTC(), res.Error,
		); err != nil {
			return fmt.Errorf("failed to save result %d: %w", i, err)
		}
	}

	provider, err := json.Marshal(summary.Provider.Redacted())
	if err != nil {
		return fmt.Errorf("failed to encode provider: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_summaries (
			run_id, topic, threshold, iterations, total_records, processed_records,
			relevant_records, provider_json, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		summary.RunID, summary.Topic, summary.Threshold, summary.Iterations, summary.TotalRecords,
		summary.ProcessedRecords, summary.RelevantRecords, string(provider),
		summary.StartedAt.UTC(), summary.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}

	s.logger.Info("Results stored",
		zap.String("run_id", summary.RunID),
		zap.Int("results", len(results)))
	return nil
}

// GetResults returns a run's results in processing order.
func (s *Store) GetResults(ctx context.Context, runID string) ([]models.ScoringResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_json, relevance_score, is_relevant, iteration, timestamp, error
		FROM scoring_results
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []models.ScoringResult
	for rows.Next() {
		var res models.ScoringResult
		var record string
		if err := rows.Scan(&record, &res.Score, &res.IsRelevant, &res.Iteration, &res.Timestamp, &res.Error); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(record), &res.Record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// GetSummary returns the stored summary for a run.
func (s *Store) GetSummary(ctx context.Context, runID string) (*models.RunSummary, error) {
	var sum models.RunSummary
	var provider string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, topic, threshold, iterations, total_records, processed_records,
		       relevant_records, provider_json, started_at, finished_at
		FROM run_summaries
		WHERE run_id = ?
	`, runID).Scan(
		&sum.RunID, &sum.Topic, &sum.Threshold, &sum.Iterations, &sum.TotalRecords,
		&sum.ProcessedRecords, &sum.RelevantRecords, &provider, &sum.StartedAt, &sum.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("summary for run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	if err := json.Unmarshal([]byte(provider), &sum.Provider); err != nil {
		return nil, fmt.Errorf("failed to decode provider: %w", err)
	}
	return &sum, nil
}

// GetStats returns score distribution across all stored results
func (s *Store) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total, relevant int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_relevant THEN 1 ELSE 0 END), 0) FROM scoring_results`,
	).Scan(&total, &relevant)
	if err != nil {
		return nil, err
	}
	stats["total"] = total
	stats["relevant"] = relevant

	rows, err := s.db.QueryContext(ctx, `
		SELECT relevance_score, COUNT(*)
		FROM scoring_results
		GROUP BY relevance_score
		ORDER BY relevance_score
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byScore := make(map[int]int)
	for rows.Next() {
		var score, count int
		if err := rows.Scan(&score, &count); err != nil {
			continue
		}
		byScore[score] = count
	}
	stats["by_score"] = byScore

	return stats, rows.Err()
}

// CreateJob creates a new scoring job
func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, topic, provider, model, total_count, output_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Status, job.Topic, job.Provider, job.Model, job.TotalCount, job.OutputPath, job.CreatedAt.UTC())
	return err
}

// UpdateJob updates job progress
func (s *Store) UpdateJob(ctx context.Context, job *models.Job) error {
	var completed interface{}
	if job.CompletedAt != nil {
		completed = job.CompletedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, total_count = ?, processed_count = ?, relevant_count = ?, failed_count = ?,
		    progress = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`, job.Status, job.TotalCount, job.ProcessedCount, job.RelevantCount, job.FailedCount,
		job.Progress, completed, job.ErrorMessage, job.ID)
	return err
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	job := &models.Job{}
	var completed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, topic, provider, model, total_count, processed_count, relevant_count,
		       failed_count, progress, output_path, created_at, completed_at, error_message
		FROM jobs
		WHERE id = ?
	`, jobID).Scan(
		&job.ID,
		&job.Status,
		&job.Topic,
		&job.Provider,
		&job.Model,
		&job.TotalCount,
		&job.ProcessedCount,
		&job.RelevantCount,
		&job.FailedCount,
		&job.Progress,
		&job.OutputPath,
		&job.CreatedAt,
		&completed,
		&job.ErrorMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return job, nil
}

// ListJobs returns the most recent jobs first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	jobs := make([]*models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// FailInterruptedJobs marks jobs left running by a previous process as failed.
func (s *Store) FailInterruptedJobs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, completed_at = ?
		WHERE status IN (?, ?)
	`, models.JobFailed, "interrupted by restart", time.Now().UTC(), models.JobPending, models.JobProcessing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
