package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Recognized TaskConfig fields.
const (
	FieldTaskType     = "task_type"
	FieldRunID        = "run_id"
	FieldPrompt       = "prompt"
	FieldURL          = "url"
	FieldFilters      = "filters"
	FieldTimestamp    = "timestamp"
	FieldChainedInput = "chained_input"
)

// TaskConfig is the opaque unit-of-work description routed to a handler.
// Handler-specific fields are passed through unmodified.
type TaskConfig map[string]interface{}

// TaskType returns the trimmed task_type field, or "" when absent or not a string.
func (c TaskConfig) TaskType() string {
	return c.String(FieldTaskType)
}

// RunID returns the run id injected by the dispatcher.
func (c TaskConfig) RunID() string {
	return c.String(FieldRunID)
}

func (c TaskConfig) Prompt() string {
	return c.String(FieldPrompt)
}

func (c TaskConfig) URL() string {
	return c.String(FieldURL)
}

func (c TaskConfig) Timestamp() string {
	return c.String(FieldTimestamp)
}

// Filters splits the comma-separated filters field, dropping blanks.
func (c TaskConfig) Filters() []string {
	raw := c.String(FieldFilters)
	if raw == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// String returns the trimmed string value stored under key.
func (c TaskConfig) String(key string) string {
	if c == nil {
		return ""
	}
	s, ok := c[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// Clone returns a shallow copy; nested values are shared.
func (c TaskConfig) Clone() TaskConfig {
	out := make(TaskConfig, len(c)+2)
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Status is the canonical outcome of a dispatch.
type Status string

const (
	StatusSuccess        Status = "Success"
	StatusPartialFailure Status = "PartialFailure"
	StatusFailed         Status = "Failed"
)

// ErrorKind classifies why a dispatch did not succeed.
type ErrorKind string

const (
	ErrUnknownTaskType         ErrorKind = "UnknownTaskType"
	ErrHandlerLoadFailure      ErrorKind = "HandlerLoadFailure"
	ErrHandlerExecutionFailure ErrorKind = "HandlerExecutionFailure"
	ErrHandlerReportedFailure  ErrorKind = "HandlerReportedFailure"
	ErrInvalidConfig           ErrorKind = "InvalidConfig"
)

// DispatchError is the structured error carried by a failed envelope.
type DispatchError struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
}

func (e *DispatchError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ResultEnvelope is the only object returned to a caller of a dispatch.
type ResultEnvelope struct {
	Status   Status                 `json:"status"`
	RunID    string                 `json:"run_id,omitempty"`
	TaskType string                 `json:"task_type"`
	Outputs  []string               `json:"outputs"`
	Metadata map[string]interface{} `json:"metadata"`
	Error    *DispatchError         `json:"error,omitempty"`
}

// RunRecord is one entry of a task type's history journal.
type RunRecord struct {
	RunID     string    `json:"run_id"`
	TaskType  string    `json:"task_type"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Prompt    string    `json:"prompt,omitempty"`
	Filters   string    `json:"filters,omitempty"`
	Outputs   []string  `json:"outputs"`
	Error     string    `json:"error,omitempty"`
}

// NewRunRecord builds the journal record for a finished dispatch.
func NewRunRecord(cfg TaskConfig, env *ResultEnvelope) RunRecord {
	rec := RunRecord{
		RunID:     env.RunID,
		TaskType:  env.TaskType,
		Timestamp: ParseTimestamp(cfg.Timestamp()),
		Status:    env.Status,
		Prompt:    cfg.Prompt(),
		Filters:   cfg.String(FieldFilters),
		Outputs:   append([]string{}, env.Outputs...),
	}
	if env.Error != nil {
		rec.Error = env.Error.Message
	}
	return rec
}

// ParseTimestamp accepts RFC 3339 and the zone-less ISO-8601 form the
// boundary layer produces; anything else yields the current time.
func ParseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

// DecodeTaskConfig parses a JSON object into a TaskConfig.
func DecodeTaskConfig(data []byte) (TaskConfig, error) {
	var cfg TaskConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode task config: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("task config must be a JSON object")
	}
	return cfg, nil
}
