// Command bibfilter scores every record of a spreadsheet against a topic and
// writes the scored copy to another spreadsheet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relevance-service/internal/config"
	"relevance-service/internal/dataset"
	"relevance-service/internal/events"
	"relevance-service/internal/models"
	"relevance-service/internal/providers"
	"relevance-service/internal/repository"
	"relevance-service/internal/service"

	"go.uber.org/zap"
)

type options struct {
	configPath  string
	in          string
	out         string
	topic       string
	provider    string
	model       string
	threshold   int
	iterations  int
	maxRecords  int
	temperature float64
	promptFile  string
	columns     models.ColumnMapping
	grace       time.Duration
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", "", "config file (default $RELEVANCE_CONFIG or configs/config.yml)")
	flag.StringVar(&o.in, "in", "", "input .xlsx or .csv file")
	flag.StringVar(&o.out, "out", "", "output file; .csv writes CSV, anything else .xlsx (default <input>_BibAI_<model>.xlsx)")
	flag.StringVar(&o.topic, "topic", "", "research topic to score against")
	flag.StringVar(&o.provider, "provider", "", "provider id (default from config)")
	flag.StringVar(&o.model, "model", "", "model id (default: provider's active model)")
	flag.IntVar(&o.threshold, "threshold", 0, "minimum relevant score, 1-7 (default from config)")
	flag.IntVar(&o.iterations, "iterations", 0, "times each record is scored (default from config)")
	flag.IntVar(&o.maxRecords, "max-records", -1, "score only the first N records, 0 for all (default from config)")
	flag.Float64Var(&o.temperature, "temperature", -1, "sampling temperature 0-1 (default from config)")
	flag.StringVar(&o.promptFile, "prompt", "", "file containing a prompt template")
	flag.StringVar(&o.columns.Title, "title-col", "", "title column")
	flag.StringVar(&o.columns.Abstract, "abstract-col", "", "abstract column")
	flag.StringVar(&o.columns.Keywords, "keywords-col", "", "keywords column")
	flag.StringVar(&o.columns.Categories, "categories-col", "", "categories column")
	flag.DurationVar(&o.grace, "grace", 30*time.Second, "how long to wait for the current record after Ctrl-C")
	flag.Parse()
	return o
}

func main() {
	os.Exit(run(parseFlags()))
}

func run(o options) int {
	if o.in == "" || o.topic == "" {
		fmt.Fprintln(os.Stderr, "usage: bibfilter -in FILE -topic TOPIC [-out FILE] [flags]")
		flag.PrintDefaults()
		return 2
	}

	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	req, err := buildRequest(o, cfg, logger)
	if err != nil {
		logger.Error("Invalid run", zap.Error(err))
		return 1
	}

	if cfg.Postgres.URL != "" {
		db, err := repository.NewPostgresDB(cfg.Postgres.URL, logger)
		if err != nil {
			logger.Error("Failed to connect to postgres", zap.Error(err))
			return 1
		}
		defer db.Close()
		if err := repository.MigratePostgres(db, logger); err != nil {
			logger.Error("Failed to migrate postgres", zap.Error(err))
			return 1
		}
		req.Sink = service.MultiSink{req.Sink, repository.NewPostgresSink(db, req.Mapping, logger)}
	}

	scorer := service.NewScorer(providers.NewRegistry(logger), cfg.Retry, logger)
	handle := scorer.Start(context.Background(), req)

	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	abandoned := make(chan struct{})
	go watchInterrupts(interrupts, handle, o.grace, abandoned, logger)

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		printEvents(handle, logger)
	}()

	select {
	case <-eventsDone:
	case <-abandoned:
		logger.Warn("Abandoned run; the in-flight provider call was not awaited")
		return 130
	}

	report, err := handle.Wait(context.Background())
	if err != nil {
		logger.Error("Run failed", zap.Error(err))
		return 1
	}
	if report.Cancelled {
		logger.Warn("Run cancelled, no output written", zap.Int("results", len(report.Results)))
		return 130
	}

	logger.Info("Results written",
		zap.String("path", req.OutputPath),
		zap.Int("relevant", report.Summary.RelevantRecords),
		zap.Int("processed", report.Summary.ProcessedRecords))
	return 0
}

func buildRequest(o options, cfg *config.Config, logger *zap.Logger) (service.RunRequest, error) {
	src, err := dataset.Open(o.in)
	if err != nil {
		return service.RunRequest{}, err
	}

	pc, err := cfg.ProviderConfig(o.provider, o.model)
	if err != nil {
		return service.RunRequest{}, err
	}
	if o.temperature >= 0 {
		pc.Temperature = o.temperature
	}
	if o.out == "" {
		o.out = dataset.DefaultOutputPath(o.in, pc.Model)
	}

	var tmpl string
	if o.promptFile != "" {
		b, err := os.ReadFile(o.promptFile)
		if err != nil {
			return service.RunRequest{}, fmt.Errorf("failed to read prompt: %w", err)
		}
		tmpl = string(b)
	} else {
		tmpl = cfg.Scoring.PromptTemplate
	}

	mapping := cfg.Scoring.Columns
	if o.columns.Title != "" {
		mapping.Title = o.columns.Title
	}
	if o.columns.Abstract != "" {
		mapping.Abstract = o.columns.Abstract
	}
	if o.columns.Keywords != "" {
		mapping.Keywords = o.columns.Keywords
	}
	if o.columns.Categories != "" {
		mapping.Categories = o.columns.Categories
	}

	req := service.RunRequest{
		Topic:          o.topic,
		Threshold:      cfg.Scoring.Threshold,
		Iterations:     cfg.Scoring.Iterations,
		MaxRecords:     cfg.Scoring.MaxRecords,
		PromptTemplate: tmpl,
		Mapping:        mapping,
		Provider:       pc,
		Source:         src,
		Sink:           service.OutputSink(o.out, logger),
		OutputPath:     o.out,
	}
	if o.threshold > 0 {
		req.Threshold = o.threshold
	}
	if o.iterations > 0 {
		req.Iterations = o.iterations
	}
	if o.maxRecords >= 0 {
		req.MaxRecords = o.maxRecords
	}
	return req, req.Validate()
}

// watchInterrupts cancels cooperatively on the first signal. A second signal,
// or the grace period running out, abandons the worker.
func watchInterrupts(sig <-chan os.Signal, h *service.RunHandle, grace time.Duration, abandoned chan<- struct{}, logger *zap.Logger) {
	select {
	case <-sig:
	case <-h.Done():
		return
	}

	logger.Warn("Interrupt received, stopping after the current record (Ctrl-C again to abort)")
	h.Cancel()

	select {
	case <-h.Done():
	case <-sig:
		close(abandoned)
	case <-time.After(grace):
		close(abandoned)
	}
}

func printEvents(h *service.RunHandle, logger *zap.Logger) {
	logs := events.NewLogHandler(logger)
	for ev := range h.Events() {
		if ev.Type == models.EventProgress {
			fmt.Fprintf(os.Stderr, "\rProgress: %3d%%", ev.Progress)
			if ev.Progress == 100 {
				fmt.Fprintln(os.Stderr)
			}
			continue
		}
		_ = logs.Handle(context.Background(), ev)
	}
}
