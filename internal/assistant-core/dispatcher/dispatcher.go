package dispatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/google/uuid"

	"assistant-dispatch-service/internal/assistant-core/archiver"
	"assistant-dispatch-service/internal/assistant-core/engine"
	"assistant-dispatch-service/internal/assistant-core/history"
	"assistant-dispatch-service/internal/assistant-core/normalizer"
	"assistant-dispatch-service/internal/assistant-core/registry"
	"assistant-dispatch-service/internal/models"
	"assistant-dispatch-service/pkg/fsutil"
	"assistant-dispatch-service/pkg/validation"
)

// Dispatcher is the single entry point turning a task config into an envelope.
type Dispatcher struct {
	reg      *registry.Registry
	engine   *engine.Engine
	journal  history.Journal
	archiver *archiver.Archiver

	outputDir string
	newRunID  func() string
	now       func() time.Time
}

type Option func(*Dispatcher)

func WithJournal(j history.Journal) Option {
	return func(d *Dispatcher) { d.journal = j }
}

func WithArchiver(a *archiver.Archiver) Option {
	return func(d *Dispatcher) { d.archiver = a }
}

// WithOutputDir sets the directory relative outputs are also looked up under,
// as <dir>/<task_type>/<path>.
func WithOutputDir(dir string) Option {
	return func(d *Dispatcher) { d.outputDir = dir }
}

func New(reg *registry.Registry, eng *engine.Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:      reg,
		engine:   eng,
		newRunID: func() string { return uuid.NewString() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs cfg to completion. It always returns exactly one envelope;
// journal and archive failures are logged and never change its status.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg models.TaskConfig) (env *models.ResultEnvelope) {
	taskType := cfg.TaskType()
	var (
		run      models.TaskConfig
		recorded bool
	)
	defer func() {
		if r := recover(); r != nil {
			hlog.CtxErrorf(ctx, "Dispatcher: recovered panic for %s: %v\n%s", taskType, r, debug.Stack())
			env = failed(taskType, run.RunID(), &models.DispatchError{
				Kind:    models.ErrHandlerExecutionFailure,
				Message: fmt.Sprintf("dispatch panicked: %v", r),
			})
			if env.RunID != "" && !recorded {
				d.recordSafely(ctx, run, env)
			}
		}
	}()

	binding, ok := d.resolve(taskType)
	if !ok {
		return d.unknown(ctx, taskType)
	}
	entry := binding.Entry

	run = applyDefaults(cfg, entry.Defaults)
	if err := validation.ValidateValue(entry.ParamSchema, run); err != nil {
		d.stamp(run)
		env = failed(taskType, run.RunID(), &models.DispatchError{Kind: models.ErrInvalidConfig, Message: err.Error()})
		hlog.CtxWarnf(ctx, "Dispatcher: run %s for %s rejected: %v", run.RunID(), taskType, err)
		recorded = true
		d.record(ctx, run, env)
		return env
	}
	d.stamp(run)
	hlog.CtxInfof(ctx, "Dispatcher: run %s for %s started", run.RunID(), taskType)

	out := d.engine.Execute(ctx, binding, run)
	if out.Err != nil {
		env = failed(taskType, run.RunID(), out.Err)
		env.Metadata["attempts"] = out.Attempts
		recorded = true
		d.record(ctx, run, env)
		return env
	}

	res := normalizer.Normalize(out.Raw)
	env = &models.ResultEnvelope{
		Status:   res.Status,
		RunID:    run.RunID(),
		TaskType: taskType,
		Outputs:  nonNil(res.Outputs),
		Metadata: res.Metadata,
	}
	env.Metadata["attempts"] = out.Attempts
	env.Metadata["result_shape"] = res.Shape.String()
	if res.Status == models.StatusFailed {
		env.Error = &models.DispatchError{Kind: models.ErrHandlerReportedFailure, Message: res.Reported}
	}
	if env.Status == models.StatusSuccess && entry.ResultSchema != "" {
		if err := validation.ValidateValue(entry.ResultSchema, out.Raw); err != nil {
			hlog.CtxWarnf(ctx, "Dispatcher: run %s result does not match schema: %v", run.RunID(), err)
			env.Status = models.StatusPartialFailure
			env.Metadata["result_validation_error"] = err.Error()
		}
	}

	d.archive(ctx, env)
	recorded = true
	d.record(ctx, run, env)
	return env
}

func (d *Dispatcher) resolve(taskType string) (registry.Binding, bool) {
	if taskType == "" {
		return registry.Binding{}, false
	}
	return d.reg.Resolve(taskType)
}

func (d *Dispatcher) unknown(ctx context.Context, taskType string) *models.ResultEnvelope {
	msg := "task_type is required"
	var suggestions []string
	if taskType != "" {
		msg = fmt.Sprintf("%v: %q", registry.ErrUnknownTaskType, taskType)
		suggestions = Suggest(taskType, d.reg.Keys())
	}
	hlog.CtxWarnf(ctx, "Dispatcher: %s (suggestions: %v)", msg, suggestions)
	return failed(taskType, "", &models.DispatchError{
		Kind:        models.ErrUnknownTaskType,
		Message:     msg,
		Suggestions: suggestions,
	})
}

// stamp injects a fresh run id and, when absent, the current timestamp.
func (d *Dispatcher) stamp(cfg models.TaskConfig) {
	cfg[models.FieldRunID] = d.newRunID()
	if cfg.Timestamp() == "" {
		cfg[models.FieldTimestamp] = d.now().UTC().Format(time.RFC3339)
	}
}

func (d *Dispatcher) archive(ctx context.Context, env *models.ResultEnvelope) {
	if d.archiver == nil || len(env.Outputs) == 0 {
		return
	}
	paths := make([]string, len(env.Outputs))
	for i, p := range env.Outputs {
		paths[i] = d.resolveOutput(env.TaskType, p)
	}
	loc, err := d.archiver.Archive(ctx, env.RunID, paths)
	if err != nil {
		hlog.CtxWarnf(ctx, "Dispatcher: run %s archiving failed: %v", env.RunID, err)
		return
	}
	if loc != "" {
		env.Metadata["archive"] = loc
	}
}

func (d *Dispatcher) resolveOutput(taskType, p string) string {
	if filepath.IsAbs(p) || fsutil.Exists(p) || d.outputDir == "" {
		return p
	}
	if candidate := filepath.Join(d.outputDir, taskType, p); fsutil.Exists(candidate) {
		return candidate
	}
	return p
}

func (d *Dispatcher) record(ctx context.Context, run models.TaskConfig, env *models.ResultEnvelope) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Append(ctx, models.NewRunRecord(run, env)); err != nil {
		hlog.CtxWarnf(ctx, "Dispatcher: run %s history append failed: %v", env.RunID, err)
	}
}

// recordSafely records a run from the panic path, where a second panic must
// not escape Dispatch.
func (d *Dispatcher) recordSafely(ctx context.Context, run models.TaskConfig, env *models.ResultEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			hlog.CtxErrorf(ctx, "Dispatcher: run %s history append panicked: %v", env.RunID, r)
		}
	}()
	d.record(ctx, run, env)
}

// applyDefaults returns a copy of cfg with entry defaults filled in for
// absent keys. The caller's config is never mutated.
func applyDefaults(cfg models.TaskConfig, defaults map[string]interface{}) models.TaskConfig {
	out := cfg.Clone()
	for k, v := range defaults {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func failed(taskType, runID string, err *models.DispatchError) *models.ResultEnvelope {
	return &models.ResultEnvelope{
		Status:   models.StatusFailed,
		RunID:    runID,
		TaskType: taskType,
		Outputs:  []string{},
		Metadata: map[string]interface{}{},
		Error:    err,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
