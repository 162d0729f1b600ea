package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"relevance-service/internal/config"
	"relevance-service/internal/dataset"
	"relevance-service/internal/llm"
	"relevance-service/internal/models"
	"relevance-service/internal/repository"
	"relevance-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ResultStore is the read side of the result database.
type ResultStore interface {
	service.ResultSink
	GetResults(ctx context.Context, runID string) ([]models.ScoringResult, error)
	GetSummary(ctx context.Context, runID string) (*models.RunSummary, error)
	GetStats(ctx context.Context) (map[string]interface{}, error)
	ListJobs(ctx context.Context, limit int) ([]*models.Job, error)
}

// Handler handles HTTP requests
type Handler struct {
	jobs    *service.JobManager
	scorer  *service.Scorer
	store   ResultStore
	cfg     *config.Config
	sinks   []service.ResultSink
	logger  *zap.Logger
	version string
}

// NewHandler creates a new API handler. Extra sinks (e.g. Postgres) receive
// every completed run in addition to the result store.
func NewHandler(
	jobs *service.JobManager,
	scorer *service.Scorer,
	store ResultStore,
	cfg *config.Config,
	logger *zap.Logger,
	sinks ...service.ResultSink,
) *Handler {
	return &Handler{
		jobs:    jobs,
		scorer:  scorer,
		store:   store,
		cfg:     cfg,
		sinks:   sinks,
		logger:  logger,
		version: "1.0.0",
	}
}

// RegisterRoutes registers all API routes; mw guards the /api/v1 group.
func (h *Handler) RegisterRoutes(r *gin.Engine, mw ...gin.HandlerFunc) {
	api := r.Group("/api/v1", mw...)
	{
		// Runs
		api.POST("/runs", h.StartRun)
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/:id", h.GetRun)
		api.POST("/runs/:id/cancel", h.CancelRun)
		api.GET("/runs/:id/events", h.GetRunEvents)
		api.GET("/runs/:id/results", h.GetRunResults)

		// Export
		api.GET("/runs/:id/export/csv", h.ExportCSV)
		api.GET("/runs/:id/export/json", h.ExportJSON)

		// Ad-hoc scoring and catalog
		api.POST("/score", h.ScoreRecord)
		api.GET("/providers", h.ListProviders)
		api.POST("/providers/:id/test", h.TestProvider)
		api.GET("/stats", h.GetStats)
	}

	// Health check
	r.GET("/health", h.HealthCheck)
}

// StartRun starts an async scoring run
func (h *Handler) StartRun(c *gin.Context) {
	var req models.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var src dataset.Source
	switch {
	case req.InputPath != "":
		inputPath, err := h.cfg.DataPath(req.InputPath)
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		table, err := dataset.Open(inputPath)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		src = table
	case len(req.Rows) > 0:
		src = dataset.FromMaps(req.Rows)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "input_path or rows is required"})
		return
	}

	providerCfg, err := h.providerConfig(req.Provider, req.Model, req.Temperature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var outputPath string
	if req.OutputPath != "" {
		if outputPath, err = h.cfg.DataPath(req.OutputPath); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
	}

	sinks := service.MultiSink{h.store}
	if outputPath != "" {
		sinks = append(sinks, service.OutputSink(outputPath, h.logger))
	}
	sinks = append(sinks, h.sinks...)

	maxRecords := h.cfg.Scoring.MaxRecords
	if req.MaxRecords != nil {
		maxRecords = *req.MaxRecords
	}

	run := service.RunRequest{
		Topic:          req.Topic,
		Threshold:      orDefault(req.Threshold, h.cfg.Scoring.Threshold),
		Iterations:     orDefault(req.Iterations, h.cfg.Scoring.Iterations),
		MaxRecords:     maxRecords,
		PromptTemplate: firstNonEmpty(req.PromptTemplate, h.cfg.Scoring.PromptTemplate),
		Mapping:        mergeMapping(req.Columns, h.cfg.Scoring.Columns),
		Provider:       providerCfg,
		Source:         src,
		Sink:           sinks,
		OutputPath:     outputPath,
	}

	jobID, err := h.jobs.Start(c.Request.Context(), run)
	if errors.Is(err, service.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("Failed to start run", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  jobID,
		"status":  models.JobPending,
		"message": "Scoring started. Check /api/v1/runs/" + jobID + " for status",
	})
}

// ListRuns returns the most recent jobs
func (h *Handler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  jobs,
		"total": len(jobs),
	})
}

// GetRun returns job status
func (h *Handler) GetRun(c *gin.Context) {
	job, err := h.jobs.Status(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// CancelRun requests cooperative cancellation
func (h *Handler) CancelRun(c *gin.Context) {
	jobID := c.Param("id")
	if err := h.jobs.Cancel(jobID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": "cancelling",
	})
}

// GetRunEvents returns the buffered event log of a run
func (h *Handler) GetRunEvents(c *gin.Context) {
	evs, ok := h.jobs.Events(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no events for run"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": evs,
		"total":  len(evs),
	})
}

// GetRunResults returns stored results with the run summary
func (h *Handler) GetRunResults(c *gin.Context) {
	runID := c.Param("id")
	results, ok := h.results(c, runID)
	if !ok {
		return
	}

	resp := gin.H{
		"run_id":  runID,
		"results": results,
		"total":   len(results),
	}
	if summary, err := h.store.GetSummary(c.Request.Context(), runID); err == nil {
		resp["summary"] = summary
	}
	c.JSON(http.StatusOK, resp)
}

// ExportCSV exports run results to CSV
func (h *Handler) ExportCSV(c *gin.Context) {
	runID := c.Param("id")
	results, ok := h.results(c, runID)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename="+runID+".csv")

	if err := dataset.WriteResultsCSV(c.Writer, results); err != nil {
		h.logger.Error("Failed to export CSV", zap.Error(err))
	}
}

// ExportJSON exports run results to JSON
func (h *Handler) ExportJSON(c *gin.Context) {
	runID := c.Param("id")
	results, ok := h.results(c, runID)
	if !ok {
		return
	}

	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", "attachment; filename="+runID+".json")

	encoder := json.NewEncoder(c.Writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		h.logger.Error("Failed to export JSON", zap.Error(err))
	}
}

// ScoreRecord scores a single record synchronously
func (h *Handler) ScoreRecord(c *gin.Context) {
	var req models.ScoreRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	providerCfg, err := h.providerConfig(req.Provider, req.Model, req.Temperature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	threshold := orDefault(req.Threshold, h.cfg.Scoring.Threshold)
	if threshold < models.MinScore || threshold > models.MaxScore {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be between 1 and 7"})
		return
	}

	rec := models.NewRecord(nil, req.Fields)
	result, raw, err := h.scorer.ScoreSingle(c.Request.Context(), providerCfg, req.Topic,
		firstNonEmpty(req.PromptTemplate, h.cfg.Scoring.PromptTemplate), threshold, rec,
		mergeMapping(req.Columns, h.cfg.Scoring.Columns))
	if err != nil {
		h.logger.Error("Failed to score record", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "scoring failed"})
		return
	}

	c.JSON(http.StatusOK, models.ScoreRecordResponse{
		Result:   result,
		Raw:      raw,
		Provider: providerCfg.ProviderID,
		Model:    providerCfg.Model,
	})
}

// ListProviders returns the provider catalog without keys
func (h *Handler) ListProviders(c *gin.Context) {
	providers := make([]gin.H, 0, len(h.cfg.Providers))
	for _, id := range h.cfg.ProviderIDs() {
		p := h.cfg.Providers[id]
		providers = append(providers, gin.H{
			"id":               id,
			"base_url":         p.BaseURL,
			"active_model":     p.ActiveModel,
			"available_models": p.AvailableModels,
			"has_api_key":      p.APIKey != "",
			"active":           id == h.cfg.ActiveProvider,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"providers":       providers,
		"active_provider": h.cfg.ActiveProvider,
	})
}

// TestProvider checks a provider's key and model with one short request
func (h *Handler) TestProvider(c *gin.Context) {
	var req models.TestProviderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	providerCfg, err := h.providerConfig(c.Param("id"), req.Model, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	reply, err := h.scorer.CheckProvider(c.Request.Context(), providerCfg)
	resp := models.TestProviderResponse{
		Provider:  providerCfg.ProviderID,
		Model:     providerCfg.Model,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Kind = llm.Classify(err).String()
		c.JSON(http.StatusBadGateway, resp)
		return
	}

	resp.OK = true
	resp.Reply = reply
	c.JSON(http.StatusOK, resp)
}

// GetStats returns score statistics
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.store.GetStats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "relevance-service",
		"version": h.version,
	})
}

func (h *Handler) results(c *gin.Context, runID string) ([]models.ScoringResult, bool) {
	results, err := h.store.GetResults(c.Request.Context(), runID)
	if err != nil {
		h.logger.Error("Failed to get results", zap.String("run_id", runID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get results"})
		return nil, false
	}
	if len(results) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no results for run"})
		return nil, false
	}
	return results, true
}

func (h *Handler) providerConfig(id, model string, temperature *float64) (models.ProviderConfig, error) {
	cfg, err := h.cfg.ProviderConfig(id, model)
	if err != nil {
		return cfg, err
	}
	if temperature != nil {
		cfg.Temperature = *temperature
	}
	return cfg, cfg.Validate()
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func mergeMapping(m, def models.ColumnMapping) models.ColumnMapping {
	if m.Title == "" {
		m.Title = def.Title
	}
	if m.Abstract == "" {
		m.Abstract = def.Abstract
	}
	if m.Keywords == "" {
		m.Keywords = def.Keywords
	}
	if m.Categories == "" {
		m.Categories = def.Categories
	}
	return m
}
