package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"relevance-service/internal/events"
	"relevance-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrJobNotActive is returned when cancelling a job that is not running.
var ErrJobNotActive = errors.New("job is not active")

// JobStore persists job status; *repository.Store implements it.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	UpdateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
}

// JobManager runs scoring requests as async jobs, one goroutine per job.
type JobManager struct {
	scorer     *Scorer
	store      JobStore
	handlers   []events.Handler
	bufferSize int
	logger     *zap.Logger

	mu   sync.Mutex
	jobs map[string]*jobEntry
}

type jobEntry struct {
	handle *RunHandle
	buffer *events.Buffer
	done   chan struct{}
	report RunReport
	err    error
}

// NewJobManager creates a job manager. Extra handlers (Redis, logs) receive
// every event of every job.
func NewJobManager(scorer *Scorer, store JobStore, logger *zap.Logger, handlers ...events.Handler) *JobManager {
	return &JobManager{
		scorer:     scorer,
		store:      store,
		handlers:   handlers,
		bufferSize: 500,
		logger:     logger.With(zap.String("component", "jobs")),
		jobs:       make(map[string]*jobEntry),
	}
}

// Start persists a pending job and begins scoring in the background.
func (m *JobManager) Start(ctx context.Context, req RunRequest) (string, error) {
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	if e, ok := m.jobs[req.RunID]; ok && !isClosed(e.done) {
		m.mu.Unlock()
		return "", ErrRunInProgress
	}
	m.mu.Unlock()

	job := &models.Job{
		ID:         req.RunID,
		Status:     models.JobPending,
		Topic:      req.Topic,
		Provider:   req.Provider.ProviderID,
		Model:      req.Provider.Model,
		TotalCount: req.Source.RowCount(),
		OutputPath: req.OutputPath,
		CreatedAt:  time.Now(),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	// The run outlives the request that started it.
	runCtx := context.WithoutCancel(ctx)
	entry := &jobEntry{
		handle: m.scorer.Start(runCtx, req),
		buffer: events.NewBuffer(m.bufferSize),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[req.RunID] = entry
	m.mu.Unlock()

	go m.track(runCtx, job, entry)

	m.logger.Info("Job started",
		zap.String("job_id", job.ID),
		zap.String("provider", job.Provider),
		zap.String("model", job.Model))
	return job.ID, nil
}

// track mirrors the run's events into the job row and the event buffer.
func (m *JobManager) track(ctx context.Context, job *models.Job, e *jobEntry) {
	defer close(e.done)

	fanout := events.NewFanout(m.logger, append([]events.Handler{e.buffer}, m.handlers...)...)
	for ev := range e.handle.Events() {
		_ = fanout.Handle(ctx, ev)

		switch ev.Type {
		case models.EventStarted:
			job.Status = models.JobProcessing
		case models.EventProgress:
			job.Progress = ev.Progress
		case models.EventRecord:
			job.ProcessedCount++
			if ev.Result != nil && ev.Result.IsRelevant {
				job.RelevantCount++
			}
			if ev.Result != nil && ev.Result.Error != "" {
				job.FailedCount++
			}
			// progress carries the row update
			continue
		case models.EventCompleted:
			job.Status = models.JobCompleted
		case models.EventCancelled:
			job.Status = models.JobCancelled
		case models.EventError:
			job.Status = models.JobFailed
			job.ErrorMessage = ev.Err
		default:
			continue
		}
		if ev.Terminal() {
			now := time.Now()
			job.CompletedAt = &now
		}
		if err := m.store.UpdateJob(ctx, job); err != nil {
			m.logger.Error("Failed to update job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	e.report, e.err = e.handle.Wait(ctx)
	m.logger.Info("Job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("processed", job.ProcessedCount),
		zap.Int("relevant", job.RelevantCount),
		zap.Int("failed", job.FailedCount))
}

// Cancel requests cooperative cancellation of a running job.
func (m *JobManager) Cancel(jobID string) error {
	e, ok := m.entry(jobID)
	if !ok || isClosed(e.done) {
		return ErrJobNotActive
	}
	e.handle.Cancel()
	m.logger.Info("Job cancellation requested", zap.String("job_id", jobID))
	return nil
}

// Status returns the persisted job row.
func (m *JobManager) Status(ctx context.Context, jobID string) (*models.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// Events returns the buffered events of a job started by this process.
func (m *JobManager) Events(jobID string) ([]models.Event, bool) {
	e, ok := m.entry(jobID)
	if !ok {
		return nil, false
	}
	return e.buffer.Events(), true
}

// Report returns the in-memory report of a finished job.
func (m *JobManager) Report(jobID string) (RunReport, bool) {
	e, ok := m.entry(jobID)
	if !ok || !isClosed(e.done) {
		return RunReport{}, false
	}
	return e.report, true
}

// Wait blocks until the job finishes or ctx is done.
func (m *JobManager) Wait(ctx context.Context, jobID string) (RunReport, error) {
	e, ok := m.entry(jobID)
	if !ok {
		return RunReport{}, ErrJobNotActive
	}
	select {
	case <-e.done:
		return e.report, e.err
	case <-ctx.Done():
		return RunReport{}, ctx.Err()
	}
}

// Shutdown cancels every running job and waits for them to stop.
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	entries := make([]*jobEntry, 0, len(m.jobs))
	for _, e := range m.jobs {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		e.handle.Cancel()
	}
	for _, e := range entries {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *JobManager) entry(jobID string) (*jobEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[jobID]
	return e, ok
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
