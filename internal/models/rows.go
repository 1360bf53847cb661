package models

import (
	"encoding/json"
	"strconv"
)

// TargetValue is a sample's reference answer. Raw holds the JSON text as
// found in the sample log.
type TargetValue struct {
	Raw     string
	Numeric bool
	Number  float64
}

// NewTargetValue builds a TargetValue from raw JSON text.
func NewTargetValue(raw string) TargetValue {
	t := TargetValue{Raw: raw}
	if n, err := strconv.ParseFloat(raw, 64); err == nil && raw != "" && raw[0] != '"' {
		t.Numeric = true
		t.Number = n
	}
	return t
}

// String returns the target as it should appear in a table cell. JSON strings
// are unquoted.
func (t TargetValue) String() string {
	if len(t.Raw) > 0 && t.Raw[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(t.Raw), &s); err == nil {
			return s
		}
	}
	return t.Raw
}

// RawResultRow is one evaluated sample.
type RawResultRow struct {
	Task             string
	Subtask          string
	DocID            int64
	Target           TargetValue
	FilteredResponse string // JSON text of the filtered responses
	MetricValue      float64
	Question         string
	Category         *string
	Checkpoint       string
}

// CategoryKey returns the category, or "" when the sample had none.
func (r RawResultRow) CategoryKey() string {
	if r.Category == nil {
		return ""
	}
	return *r.Category
}

// SummaryRow is one subtask-level aggregate reported by the evaluation tool.
type SummaryRow struct {
	Task         string
	Subtask      string
	MetricValue  float64
	MetricStddev float64
	Checkpoint   string
}

// MetricsRow aggregates raw rows for one (category, checkpoint) group. The
// error statistics are only set for numeric targets.
type MetricsRow struct {
	Task       string   `json:"task"`
	Category   string   `json:"category"`
	Checkpoint string   `json:"model_checkpoint"`
	Count      int      `json:"count"`
	Accuracy   float64  `json:"accuracy"`
	MAE        *float64 `json:"mean_absolute_error,omitempty"`
	MAEStd     *float64 `json:"mean_absolute_error_std,omitempty"`
	MSE        *float64 `json:"mean_squared_error,omitempty"`
	MSEStd     *float64 `json:"mean_squared_error_std,omitempty"`
}
