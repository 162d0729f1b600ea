package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"relevance-service/internal/dataset"
	"relevance-service/internal/events"
	"relevance-service/internal/llm"
	"relevance-service/internal/models"
	"relevance-service/internal/prompt"
	"relevance-service/internal/retry"
	"relevance-service/internal/scoreparser"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrEmptyDataset is returned when the input has no rows.
	ErrEmptyDataset = errors.New("no data found in the input dataset")
	// ErrRunInProgress is returned when a job id is already running.
	ErrRunInProgress = errors.New("run already in progress")
)

// verboseRecords is how many records of the first iteration get full
// input/prompt/response logging.
const verboseRecords = 2

// ResultSink persists a finished run.
type ResultSink interface {
	Save(ctx context.Context, results []models.ScoringResult, summary models.RunSummary) error
}

// ProviderFactory resolves a provider for a run; *llm.Registry implements it.
type ProviderFactory interface {
	New(cfg models.ProviderConfig) (llm.Provider, error)
}

// RunRequest is everything one batch run needs. Provider is a snapshot and
// is never re-read during the run.
type RunRequest struct {
	RunID          string
	Topic          string
	Threshold      int
	Iterations     int
	MaxRecords     int
	PromptTemplate string
	Mapping        models.ColumnMapping
	Provider       models.ProviderConfig
	Source         dataset.Source
	Sink           ResultSink

	// OutputPath is recorded on the job row; the sink decides where data goes.
	OutputPath string
}

// Validate checks the request before any work starts.
func (r RunRequest) Validate() error {
	if r.Source == nil {
		return fmt.Errorf("source is required")
	}
	if r.Threshold < models.MinScore || r.Threshold > models.MaxScore {
		return fmt.Errorf("threshold %d out of range [%d,%d]", r.Threshold, models.MinScore, models.MaxScore)
	}
	if r.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1")
	}
	if r.MaxRecords < 0 {
		return fmt.Errorf("max records must not be negative")
	}
	if err := prompt.Validate(r.PromptTemplate); err != nil {
		return err
	}
	return r.Provider.Validate()
}

// RunReport is what a run produced. Results are kept even when the run was
// cancelled or the sink failed so persistence can be retried.
type RunReport struct {
	RunID     string
	Summary   models.RunSummary
	Results   []models.ScoringResult
	Cancelled bool
}

// Scorer drives iterations over records through a retried provider.
type Scorer struct {
	providers ProviderFactory
	policy    retry.Policy
	parser    *scoreparser.Parser
	logger    *zap.Logger
	now       func() time.Time
	buffer    int
}

// NewScorer creates a scorer
func NewScorer(providers ProviderFactory, policy retry.Policy, logger *zap.Logger) *Scorer {
	return &Scorer{
		providers: providers,
		policy:    policy,
		parser:    scoreparser.New(),
		logger:    logger.With(zap.String("component", "scorer")),
		now:       time.Now,
		buffer:    256,
	}
}

// RunHandle is the initiating side's view of a background run. Cancel and
// Progress are safe to call from any goroutine.
type RunHandle struct {
	RunID string

	events    chan models.Event
	cancelled atomic.Bool
	progress  atomic.Int32
	done      chan struct{}

	report RunReport
	err    error
}

// Events must be drained by the caller; it is closed after the terminal event.
func (h *RunHandle) Events() <-chan models.Event { return h.events }

// Cancel asks the worker to stop at the next record boundary. An in-flight
// provider call is allowed to finish.
func (h *RunHandle) Cancel() { h.cancelled.Store(true) }

// Cancelled reports whether Cancel was called.
func (h *RunHandle) Cancelled() bool { return h.cancelled.Load() }

// Progress is the last emitted percentage.
func (h *RunHandle) Progress() int { return int(h.progress.Load()) }

// Done is closed when the worker has finished.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run ends or ctx is done. Abandoning a run through
// ctx leaves the worker to finish its current call on its own.
func (h *RunHandle) Wait(ctx context.Context) (RunReport, error) {
	select {
	case <-h.done:
		return h.report, h.err
	case <-ctx.Done():
		return RunReport{RunID: h.RunID}, ctx.Err()
	}
}

// Start runs the request on one background goroutine.
func (s *Scorer) Start(ctx context.Context, req RunRequest) *RunHandle {
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	h := &RunHandle{
		RunID:  req.RunID,
		events: make(chan models.Event, s.buffer),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		defer close(h.events)
		h.report, h.err = s.execute(ctx, req, h)
	}()
	return h
}

// Run executes synchronously, logging events as they arrive.
func (s *Scorer) Run(ctx context.Context, req RunRequest) (RunReport, error) {
	h := s.Start(ctx, req)
	events.Drain(ctx, h.Events(), events.NewLogHandler(s.logger))
	<-h.Done()
	return h.report, h.err
}

// ScoreSingle scores one record outside of a batch. Provider errors are
// returned rather than replaced by the default score.
func (s *Scorer) ScoreSingle(ctx context.Context, cfg models.ProviderConfig, topic, tmpl string, threshold int, rec models.Record, m models.ColumnMapping) (models.ScoringResult, string, error) {
	if err := prompt.Validate(tmpl); err != nil {
		return models.ScoringResult{}, "", err
	}
	provider, err := s.providers.New(cfg)
	if err != nil {
		return models.ScoringResult{}, "", fmt.Errorf("failed to initialize provider %s: %w", cfg.ProviderID, err)
	}
	defer provider.Close()

	policy := s.policy
	policy.FallbackModel = cfg.FallbackModel
	policy.Logger = s.logger

	outcome, err := policy.Submit(ctx, provider, prompt.Build(tmpl, topic, rec, m))
	if err != nil {
		return models.ScoringResult{}, "", err
	}
	score := s.parser.Parse(outcome.Text)
	return models.NewScoringResult(rec, score, threshold, 1, s.now()), outcome.Text, nil
}

// connectionPrompt is sent by CheckProvider.
const connectionPrompt = "Hello, testing the connection."

// CheckProvider sends one short prompt without retries and returns the reply.
func (s *Scorer) CheckProvider(ctx context.Context, cfg models.ProviderConfig) (string, error) {
	provider, err := s.providers.New(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to initialize provider %s: %w", cfg.ProviderID, err)
	}
	defer provider.Close()

	text, err := provider.Submit(ctx, connectionPrompt)
	if err != nil {
		s.logger.Warn("Provider connection test failed",
			zap.String("provider", cfg.ProviderID),
			zap.String("model", cfg.Model),
			zap.Error(err))
		return "", err
	}
	s.logger.Info("Provider connection test succeeded",
		zap.String("provider", cfg.ProviderID),
		zap.String("model", cfg.Model))
	return text, nil
}

// run holds per-run state owned by the worker goroutine.
type run struct {
	req       RunRequest
	handle    *RunHandle
	provider  llm.Provider
	policy    retry.Policy
	logger    *zap.Logger
	total     int
	completed int
}

func (s *Scorer) execute(ctx context.Context, req RunRequest, h *RunHandle) (RunReport, error) {
	started := s.now()
	r := &run{
		req:    req,
		handle: h,
		logger: s.logger.With(zap.String("run_id", req.RunID)),
	}
	report := RunReport{RunID: req.RunID}

	r.emit(models.Event{Type: models.EventStarted, Message: fmt.Sprintf("Starting run for topic %q", req.Topic)})

	if err := req.Validate(); err != nil {
		return report, r.fail(fmt.Errorf("invalid run request: %w", err))
	}

	total := req.Source.RowCount()
	if total == 0 {
		return report, r.fail(ErrEmptyDataset)
	}
	records := dataset.Records(req.Source)

	provider, err := s.providers.New(req.Provider)
	if err != nil {
		return report, r.fail(fmt.Errorf("failed to initialize provider %s: %w", req.Provider.ProviderID, err))
	}
	defer provider.Close()
	r.provider = provider

	r.policy = s.policy
	r.policy.FallbackModel = req.Provider.FallbackModel
	r.policy.Logger = r.logger

	effective := total
	if req.MaxRecords > 0 && req.MaxRecords < total {
		effective = req.MaxRecords
		r.log(models.LevelInfo, fmt.Sprintf("Maximum %d records will be processed (out of %d records)", effective, total))
	}
	r.total = effective * req.Iterations
	r.log(models.LevelInfo, fmt.Sprintf("Total %d records found. Each record will be processed %d times.", total, req.Iterations))

	var results []models.ScoringResult
	relevant := 0

outer:
	for iteration := 1; iteration <= req.Iterations; iteration++ {
		if r.stopRequested(ctx) {
			break
		}
		r.log(models.LevelInfo, fmt.Sprintf("Starting iteration %d of %d...", iteration, req.Iterations))

		for i := 0; i < effective; i++ {
			if r.stopRequested(ctx) {
				break outer
			}

			res, ok := s.scoreRecord(ctx, r, records[i], i, iteration)
			if ctx.Err() != nil {
				// The provider call was aborted, not answered; nothing to commit.
				break outer
			}
			if ok {
				results = append(results, res)
				if res.IsRelevant {
					relevant++
				}
				resCopy := res
				r.emit(models.Event{
					Type:    models.EventRecord,
					Message: fmt.Sprintf("%s|%d|%s (Iteration #%d)", res.Record.Title(req.Mapping), res.Score, res.Label(), iteration),
					Result:  &resCopy,
				})
			}

			r.completed++
			r.emitProgress(false)
		}
	}

	summary := models.RunSummary{
		RunID:            req.RunID,
		Topic:            req.Topic,
		Threshold:        req.Threshold,
		Iterations:       req.Iterations,
		TotalRecords:     total,
		ProcessedRecords: effective,
		RelevantRecords:  relevant,
		Provider:         req.Provider.Redacted(),
		StartedAt:        started,
		FinishedAt:       s.now(),
	}
	report.Summary = summary
	report.Results = results

	// A stop request that arrives during the last record does not undo a finished run.
	if r.completed < r.total && r.stopRequested(ctx) {
		report.Cancelled = true
		r.emit(models.Event{
			Type:    models.EventCancelled,
			Message: fmt.Sprintf("Processing cancelled after %d of %d tasks.", r.completed, r.total),
			Summary: &summary,
		})
		return report, nil
	}

	if req.Sink != nil {
		if err := req.Sink.Save(ctx, results, summary); err != nil {
			return report, r.fail(fmt.Errorf("failed to write results (provider %s, model %s): %w",
				req.Provider.ProviderID, req.Provider.Model, err))
		}
	}

	r.emitProgress(true)
	r.emit(models.Event{
		Type: models.EventCompleted,
		Message: fmt.Sprintf("Processing completed. %d relevant articles found out of %d processed (with %d iterations each).",
			relevant, effective, req.Iterations),
		Summary: &summary,
	})
	return report, nil
}

// scoreRecord produces one result. ok is false when the record is skipped
// without a result. Panics are contained to the record.
func (s *Scorer) scoreRecord(ctx context.Context, r *run, rec models.Record, index, iteration int) (res models.ScoringResult, ok bool) {
	m := r.req.Mapping
	if rec.IsBlank(m) {
		r.log(models.LevelWarning, fmt.Sprintf("Row %d: Title and abstract missing, skipping for iteration %d.", index+1, iteration))
		if iteration == 1 {
			return models.NewScoringResult(rec, models.BlankScore, r.req.Threshold, iteration, s.now()), true
		}
		return res, false
	}

	score := models.DefaultScore
	var recordErr string
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("Error processing row %d (iteration %d, provider %s, model %s): %v",
				index+1, iteration, r.req.Provider.ProviderID, r.req.Provider.Model, p)
			r.logger.Error("Record processing panicked", zap.Int("row", index+1), zap.Any("panic", p))
			r.log(models.LevelError, msg)
			res = models.NewScoringResult(rec, score, r.req.Threshold, iteration, s.now())
			res.Error = fmt.Sprint(p)
			ok = true
		}
	}()

	verbose := iteration == 1 && index < verboseRecords
	title := rec.Title(m)
	r.log(models.LevelInfo, fmt.Sprintf("Iteration %d/%d, Row %d/%d: Processing '%s'...",
		iteration, r.req.Iterations, index+1, r.total/r.req.Iterations, title))

	if verbose {
		r.log(models.LevelInfo, fmt.Sprintf(
			"SENDING TO AI (ITERATION #%d, RECORD #%d)\nTopic: %s\nTitle: %s\nAbstract: %s\nKeywords: %s\nCategories: %s\nProvider: %s\nModel: %s\nTemperature: %.2f",
			iteration, index+1, r.req.Topic, title, rec.Abstract(m), rec.Keywords(m), rec.Categories(m),
			r.req.Provider.ProviderID, r.req.Provider.Model, r.req.Provider.Temperature))
	}

	text := prompt.Build(r.req.PromptTemplate, r.req.Topic, rec, m)
	if verbose {
		r.log(models.LevelInfo, fmt.Sprintf("PROMPT TO AI (ITERATION #%d, RECORD #%d)\n%s", iteration, index+1, text))
	}

	outcome, err := r.policy.Submit(ctx, r.provider, text)
	switch {
	case err != nil && ctx.Err() != nil:
		return res, false
	case err != nil:
		recordErr = err.Error()
		level := models.LevelWarning
		if llm.Classify(err) == llm.KindAuth {
			level = models.LevelError
		}
		r.log(level, fmt.Sprintf("Row %d (iteration %d): provider %s model %s failed, using default score %d: %v",
			index+1, iteration, r.req.Provider.ProviderID, outcome.Model, models.DefaultScore, err))
	default:
		score = s.parser.Parse(outcome.Text)
		if outcome.FallbackUsed {
			r.log(models.LevelWarning, fmt.Sprintf("Row %d scored with fallback model %s", index+1, outcome.Model))
		}
	}

	if verbose {
		r.log(models.LevelInfo, fmt.Sprintf("AI RESPONSE (ITERATION #%d, RECORD #%d)\nRaw: %s\nScore: %d",
			iteration, index+1, outcome.Text, score))
	}

	res = models.NewScoringResult(rec, score, r.req.Threshold, iteration, s.now())
	res.Error = recordErr
	return res, true
}

func (r *run) stopRequested(ctx context.Context) bool {
	return r.handle.Cancelled() || ctx.Err() != nil
}

// emitProgress publishes floor(completed*100/total); 100 is reserved for
// successful completion.
func (r *run) emitProgress(final bool) {
	p := 100
	if !final {
		p = r.completed * 100 / r.total
		if p >= 100 {
			p = 99
		}
	}
	r.handle.progress.Store(int32(p))
	r.emit(models.Event{Type: models.EventProgress, Progress: p})
}

func (r *run) log(level models.LogLevel, msg string) {
	r.emit(models.Event{Type: models.EventLog, Level: level, Message: msg})
}

func (r *run) fail(err error) error {
	r.logger.Error("Run failed", zap.Error(err))
	r.emit(models.Event{Type: models.EventError, Message: err.Error(), Err: err.Error()})
	return err
}

func (r *run) emit(ev models.Event) {
	ev.RunID = r.req.RunID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.handle.events <- ev
}
