package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/sethvargo/go-retry"

	"assistant-dispatch-service/internal/assistant-core/registry"
	"assistant-dispatch-service/internal/models"
)

const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 2 * time.Second
)

// RetryPolicy bounds how often a failing handler invocation is repeated.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultDelay}
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		// NewConstant rejects non-positive durations.
		delay = time.Nanosecond
	}
	return retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))
}

// Outcome is the result of driving one handler to completion.
type Outcome struct {
	Raw      interface{}
	Attempts int
	Err      *models.DispatchError
}

// Engine invokes handlers synchronously under a retry policy.
type Engine struct {
	policy RetryPolicy
}

func New(policy RetryPolicy) *Engine {
	return &Engine{policy: policy}
}

func (e *Engine) Policy() RetryPolicy {
	return e.policy
}

// Execute loads the binding's handler and runs it. A load failure is reported
// at once; an error or panic from the handler is retried until the policy is
// exhausted. A returned result, however failure-shaped, is final.
func (e *Engine) Execute(ctx context.Context, binding registry.Binding, cfg models.TaskConfig) Outcome {
	handler, err := binding.Load()
	if err != nil {
		hlog.CtxErrorf(ctx, "Engine: run %s could not load handler for %s: %v", cfg.RunID(), binding.Entry.TaskType, err)
		return Outcome{Err: &models.DispatchError{Kind: models.ErrHandlerLoadFailure, Message: err.Error()}}
	}

	var (
		raw      interface{}
		attempts int
		lastErr  error
	)
	err = retry.Do(ctx, e.policy.backoff(), func(ctx context.Context) error {
		attempts++
		res, callErr := invoke(ctx, handler, cfg)
		if callErr != nil {
			hlog.CtxWarnf(ctx, "Engine: run %s attempt %d/%d for %s failed: %v",
				cfg.RunID(), attempts, e.policy.MaxAttempts, binding.Entry.TaskType, callErr)
			lastErr = callErr
			return retry.RetryableError(callErr)
		}
		raw = res
		return nil
	})
	if err != nil {
		msg := err.Error()
		// A cancelled context ends the retries with ctx.Err(); keep the handler's error too.
		if lastErr != nil && !errors.Is(err, lastErr) {
			msg = fmt.Sprintf("%v (last attempt: %v)", err, lastErr)
		}
		hlog.CtxErrorf(ctx, "Engine: run %s for %s failed after %d attempt(s): %s", cfg.RunID(), binding.Entry.TaskType, attempts, msg)
		return Outcome{
			Attempts: attempts,
			Err: &models.DispatchError{
				Kind:     models.ErrHandlerExecutionFailure,
				Message:  msg,
				Attempts: attempts,
			},
		}
	}
	return Outcome{Raw: raw, Attempts: attempts}
}

func invoke(ctx context.Context, h registry.Handler, cfg models.TaskConfig) (res interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			hlog.CtxErrorf(ctx, "Engine: handler panic: %v\n%s", r, debug.Stack())
			res, err = nil, fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Execute(ctx, cfg)
}
