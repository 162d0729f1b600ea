package models

import (
	"fmt"
	"strings"
	"time"
)

// Score bounds on the 7-point relevance scale.
const (
	MinScore     = 1
	MaxScore     = 7
	DefaultScore = 4
	// BlankScore marks a record that was never sent to a provider.
	BlankScore = 0
)

// TimestampLayout is the timestamp format written to result tables.
const TimestampLayout = "2006-01-02 15:04:05"

// Prompt placeholders substituted before submission.
const (
	PlaceholderTopic      = "{TOPIC}"
	PlaceholderTitle      = "{TITLE}"
	PlaceholderAbstract   = "{ABSTRACT}"
	PlaceholderKeywords   = "{KEYWORDS}"
	PlaceholderCategories = "{CATEGORIES}"
)

// ProviderConfig is the immutable provider snapshot used for a single run.
type ProviderConfig struct {
	ProviderID        string  `json:"provider_id"`
	APIKey            string  `json:"-"`
	BaseURL           string  `json:"base_url"`
	Model             string  `json:"model"`
	FallbackModel     string  `json:"fallback_model,omitempty"`
	Temperature       float64 `json:"temperature"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	APIVersion        string  `json:"api_version,omitempty"`
	RequestsPerMinute int     `json:"requests_per_minute,omitempty"`
}

// Validate checks the fields every provider variant depends on.
func (c ProviderConfig) Validate() error {
	if strings.TrimSpace(c.ProviderID) == "" {
		return fmt.Errorf("provider id is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model is required for provider %s", c.ProviderID)
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature %.2f out of range [0,1]", c.Temperature)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// Timeout returns the per-request timeout, 30s when unset.
func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Redacted returns a copy safe to log or persist.
func (c ProviderConfig) Redacted() ProviderConfig {
	c.APIKey = ""
	return c
}

// ScoringRequest pairs one record with the topic and template it is scored against.
type ScoringRequest struct {
	Topic          string
	Record         Record
	PromptTemplate string
}

// Render substitutes every placeholder with the literal field value.
func (r ScoringRequest) Render(m ColumnMapping) string {
	replacer := strings.NewReplacer(
		PlaceholderTopic, r.Topic,
		PlaceholderTitle, r.Record.Title(m),
		PlaceholderAbstract, r.Record.Abstract(m),
		PlaceholderKeywords, r.Record.Keywords(m),
		PlaceholderCategories, r.Record.Categories(m),
	)
	return replacer.Replace(r.PromptTemplate)
}

// ScoringResult is one scored copy of a record for one iteration.
type ScoringResult struct {
	Record     Record    `json:"record"`
	Score      int       `json:"relevance_score"`
	IsRelevant bool      `json:"is_relevant"`
	Iteration  int       `json:"iteration"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error,omitempty"`
}

// NewScoringResult builds a result; relevance is derived from score and threshold only.
func NewScoringResult(rec Record, score, threshold, iteration int, at time.Time) ScoringResult {
	return ScoringResult{
		Record:     rec.Clone(),
		Score:      score,
		IsRelevant: IsRelevant(score, threshold),
		Iteration:  iteration,
		Timestamp:  at,
	}
}

// IsRelevant applies the threshold rule. A blank score is never relevant.
func IsRelevant(score, threshold int) bool {
	if score == BlankScore {
		return false
	}
	return score >= threshold
}

// Label renders the relevance label used in events and log lines.
func (r ScoringResult) Label() string {
	if r.IsRelevant {
		return "RELEVANT"
	}
	return "NOT RELEVANT"
}

// ClampScore forces a value into [MinScore, MaxScore].
func ClampScore(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// RunSummary is the aggregate metadata written once per completed run.
type RunSummary struct {
	RunID            string         `json:"run_id"`
	Topic            string         `json:"topic"`
	Threshold        int            `json:"threshold"`
	Iterations       int            `json:"iterations"`
	TotalRecords     int            `json:"total_records"`
	ProcessedRecords int            `json:"processed_records"`
	RelevantRecords  int            `json:"relevant_records"`
	Provider         ProviderConfig `json:"provider"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
}

// Parameters lists the summary as ordered parameter/value rows.
func (s RunSummary) Parameters() [][2]string {
	return [][2]string{
		{"Run ID", s.RunID},
		{"Provider", s.Provider.ProviderID},
		{"Model", s.Provider.Model},
		{"Temperature", fmt.Sprintf("%.2f", s.Provider.Temperature)},
		{"Topic", s.Topic},
		{"Threshold", fmt.Sprintf("%d", s.Threshold)},
		{"Total Records", fmt.Sprintf("%d", s.TotalRecords)},
		{"Processed Records", fmt.Sprintf("%d", s.ProcessedRecords)},
		{"Relevant Records", fmt.Sprintf("%d", s.RelevantRecords)},
		{"Iterations", fmt.Sprintf("%d", s.Iterations)},
		{"Date/Time", s.FinishedAt.Format(TimestampLayout)},
	}
}
