package registry

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Built-in handler kinds.
const (
	KindEcho   = "echo"
	KindScript = "script"
	KindChain  = "chain"
)

var taskTypePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Entry is one task_type -> handler binding as declared in the registry source.
type Entry struct {
	TaskType     string                 `yaml:"task_type" json:"task_type"`
	Handler      string                 `yaml:"handler" json:"handler"`
	Script       string                 `yaml:"script,omitempty" json:"script,omitempty"`
	Interpreter  string                 `yaml:"interpreter,omitempty" json:"interpreter,omitempty"`
	Timeout      time.Duration          `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	ParamSchema  string                 `yaml:"param_schema,omitempty" json:"param_schema,omitempty"`
	ResultSchema string                 `yaml:"result_schema,omitempty" json:"result_schema,omitempty"`
	Cron         string                 `yaml:"cron,omitempty" json:"cron,omitempty"`
	Defaults     map[string]interface{} `yaml:"defaults,omitempty" json:"defaults,omitempty"`

	direct Handler
}

type sourceFile struct {
	Assistants []Entry `yaml:"assistants"`
}

// LoadEntries reads a YAML (or JSON) registry source. The whole file is
// rejected if any entry is invalid or duplicated.
func LoadEntries(source string) ([]Entry, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("registry source is not configured")
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry source: %w", err)
	}
	return ParseEntries(data)
}

// ParseEntries decodes registry source bytes.
func ParseEntries(data []byte) ([]Entry, error) {
	var file sourceFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse registry source: %w", err)
	}
	if len(file.Assistants) == 0 {
		return nil, fmt.Errorf("registry source declares no assistants")
	}
	seen := make(map[string]struct{}, len(file.Assistants))
	for i := range file.Assistants {
		e := &file.Assistants[i]
		e.TaskType = strings.TrimSpace(e.TaskType)
		e.Handler = strings.TrimSpace(e.Handler)
		if err := validateTaskType(e.TaskType); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if e.Handler == "" {
			return nil, fmt.Errorf("entry %d (%s): %w: handler kind is required", i, e.TaskType, ErrInvalidEntry)
		}
		if _, dup := seen[e.TaskType]; dup {
			return nil, fmt.Errorf("entry %d: %w: duplicate task type %s", i, ErrInvalidEntry, e.TaskType)
		}
		seen[e.TaskType] = struct{}{}
	}
	return file.Assistants, nil
}

// BuiltinEntries is the fixed set installed when the source is unusable.
func BuiltinEntries() []Entry {
	urlSchema := `{"type":"object","properties":{"url":{"type":"string","minLength":1}},"required":["url"]}`
	return []Entry{
		{
			TaskType:    "web_scraper",
			Handler:     KindScript,
			Script:      "assistants/web_scraper.py",
			Interpreter: "python3",
			Timeout:     30 * time.Second,
			ParamSchema: urlSchema,
		},
		{
			TaskType:    "api_fetcher",
			Handler:     KindScript,
			Script:      "assistants/api_fetcher.py",
			Interpreter: "python3",
			Timeout:     30 * time.Second,
			ParamSchema: urlSchema,
		},
		{
			TaskType:    "assistant_chainer",
			Handler:     KindChain,
			ParamSchema: `{"type":"object","properties":{"steps":{"type":"array","minItems":1,"items":{"type":"object"}}},"required":["steps"]}`,
		},
		{
			TaskType: "echo",
			Handler:  KindEcho,
		},
	}
}

func validateTaskType(taskType string) error {
	if !taskTypePattern.MatchString(taskType) {
		return fmt.Errorf("%w: task type %q must match %s", ErrInvalidEntry, taskType, taskTypePattern.String())
	}
	return nil
}
