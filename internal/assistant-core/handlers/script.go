package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"assistant-dispatch-service/internal/assistant-core/registry"
	"assistant-dispatch-service/internal/models"
)

const (
	DefaultInterpreter   = "python3"
	DefaultScriptTimeout = 30 * time.Second

	// Bounds how long Wait blocks on pipes held open by orphaned children.
	scriptWaitDelay = 2 * time.Second
)

// ScriptHandler runs an external assistant script. The task config is written
// to the script's stdin as JSON; the last non-empty stdout line is the result,
// decoded as JSON when possible and otherwise taken as a bare output path.
// A non-zero exit or a timeout is an execution failure.
type ScriptHandler struct {
	Interpreter string
	Script      string
	Timeout     time.Duration
}

// NewScriptFactory resolves script entries. Resolution checks that the
// interpreter is on PATH and the script exists; it never runs the script.
func NewScriptFactory() registry.Factory {
	return func(entry registry.Entry) (registry.Handler, error) {
		script := strings.TrimSpace(entry.Script)
		if script == "" {
			return nil, errors.New("script path is empty")
		}
		interpreter := strings.TrimSpace(entry.Interpreter)
		if interpreter == "" {
			interpreter = DefaultInterpreter
		}
		resolved, err := exec.LookPath(interpreter)
		if err != nil {
			return nil, fmt.Errorf("interpreter %q not available: %w", interpreter, err)
		}
		info, err := os.Stat(script)
		if err != nil {
			return nil, fmt.Errorf("script %q not available: %w", script, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("script %q is a directory", script)
		}
		timeout := entry.Timeout
		if timeout <= 0 {
			timeout = DefaultScriptTimeout
		}
		return &ScriptHandler{Interpreter: resolved, Script: script, Timeout: timeout}, nil
	}
}

// Execute implements registry.Handler.
func (h *ScriptHandler) Execute(ctx context.Context, cfg models.TaskConfig) (interface{}, error) {
	input, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task config for script: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	hlog.CtxInfof(ctx, "ScriptHandler: run %s executing %s %s", cfg.RunID(), h.Interpreter, h.Script)

	cmd := exec.CommandContext(runCtx, h.Interpreter, h.Script)
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = scriptWaitDelay
	cmd.Env = append(os.Environ(),
		"ASSISTANT_RUN_ID="+cfg.RunID(),
		"ASSISTANT_TASK_TYPE="+cfg.TaskType(),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		hlog.CtxWarnf(ctx, "ScriptHandler: run %s timed out after %s", cfg.RunID(), h.Timeout)
		return nil, fmt.Errorf("script %s timed out after %s. Stderr: %s", h.Script, h.Timeout, stderr.String())
	}
	if err != nil {
		hlog.CtxWarnf(ctx, "ScriptHandler: run %s failed: %v. Stderr: %s", cfg.RunID(), err, stderr.String())
		return nil, fmt.Errorf("script %s failed: %w. Stderr: %s", h.Script, err, stderr.String())
	}
	if stderr.Len() > 0 {
		hlog.CtxDebugf(ctx, "ScriptHandler: run %s stderr:\n%s", cfg.RunID(), stderr.String())
	}
	return parseScriptOutput(stdout.String()), nil
}

func parseScriptOutput(out string) interface{} {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(last), &decoded); err == nil {
		return decoded
	}
	return last
}

var _ registry.Handler = (*ScriptHandler)(nil)
