package models

// StartRunRequest is the body of POST /api/v1/runs. Either InputPath or
// Rows must be set. Paths are relative to server.data_dir; a nil
// MaxRecords takes the configured default and 0 scores every record.
type StartRunRequest struct {
	InputPath      string              `json:"input_path"`
	Rows           []map[string]string `json:"rows"`
	OutputPath     string              `json:"output_path"`
	Topic          string              `json:"topic" binding:"required"`
	Threshold      int                 `json:"threshold"`
	Iterations     int                 `json:"iterations"`
	MaxRecords     *int                `json:"max_records"`
	Provider       string              `json:"provider"`
	Model          string              `json:"model"`
	Temperature    *float64            `json:"temperature"`
	PromptTemplate string              `json:"prompt_template"`
	Columns        ColumnMapping       `json:"columns"`
}

// ScoreRecordRequest is the body of POST /api/v1/score.
type ScoreRecordRequest struct {
	Topic          string            `json:"topic" binding:"required"`
	Fields         map[string]string `json:"fields" binding:"required"`
	Threshold      int               `json:"threshold"`
	Provider       string            `json:"provider"`
	Model          string            `json:"model"`
	Temperature    *float64          `json:"temperature"`
	PromptTemplate string            `json:"prompt_template"`
	Columns        ColumnMapping     `json:"columns"`
}

// ScoreRecordResponse carries the parsed score and the raw provider text.
type ScoreRecordResponse struct {
	Result   ScoringResult `json:"result"`
	Raw      string        `json:"raw"`
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
}

// TestProviderRequest is the optional body of POST /api/v1/providers/:id/test.
type TestProviderRequest struct {
	Model string `json:"model"`
}

// TestProviderResponse reports the outcome of a connection check.
type TestProviderResponse struct {
	OK        bool   `json:"ok"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Reply     string `json:"reply,omitempty"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}
