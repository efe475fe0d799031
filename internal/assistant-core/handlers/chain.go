package handlers

import (
	"context"
	"fmt"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"assistant-dispatch-service/internal/assistant-core/registry"
	"assistant-dispatch-service/internal/models"
)

// MaxChainDepth bounds nested chains.
const MaxChainDepth = 5

// DispatchFunc runs one config through the full dispatch pipeline.
type DispatchFunc func(ctx context.Context, cfg models.TaskConfig) *models.ResultEnvelope

type chainDepthKey struct{}

// ChainHandler dispatches the configs listed under "steps" in order, passing
// each step's outputs to the next as "chained_input". It stops at the first
// step that does not succeed.
type ChainHandler struct {
	TaskType string
	Dispatch DispatchFunc
}

// NewChainFactory builds chain handlers that run steps through dispatch.
func NewChainFactory(dispatch DispatchFunc) registry.Factory {
	return func(entry registry.Entry) (registry.Handler, error) {
		if dispatch == nil {
			return nil, fmt.Errorf("chain handler for %s has no dispatcher", entry.TaskType)
		}
		return &ChainHandler{TaskType: entry.TaskType, Dispatch: dispatch}, nil
	}
}

// Execute implements registry.Handler.
func (h *ChainHandler) Execute(ctx context.Context, cfg models.TaskConfig) (interface{}, error) {
	depth, _ := ctx.Value(chainDepthKey{}).(int)
	if depth >= MaxChainDepth {
		return failed(fmt.Sprintf("chain nesting exceeds %d levels", MaxChainDepth)), nil
	}

	steps, err := chainSteps(cfg["steps"])
	if err != nil {
		return failed(err.Error()), nil
	}

	stepCtx := context.WithValue(ctx, chainDepthKey{}, depth+1)
	var (
		outputs []interface{}
		summary []interface{}
		prior   []string
	)
	for i, step := range steps {
		if step.TaskType() == h.TaskType {
			return failedWith(fmt.Sprintf("step %d refers back to chain %s", i+1, h.TaskType), outputs, summary), nil
		}
		if prior != nil {
			in := make([]interface{}, len(prior))
			for j, p := range prior {
				in[j] = p
			}
			step[models.FieldChainedInput] = in
		}

		env := h.Dispatch(stepCtx, step)
		hlog.CtxInfof(ctx, "ChainHandler: run %s step %d (%s) finished with status %s", cfg.RunID(), i+1, env.TaskType, env.Status)
		summary = append(summary, map[string]interface{}{
			"task_type": env.TaskType,
			"run_id":    env.RunID,
			"status":    string(env.Status),
			"outputs":   toInterfaces(env.Outputs),
		})
		outputs = append(outputs, toInterfaces(env.Outputs)...)
		prior = env.Outputs

		if env.Status != models.StatusSuccess {
			msg := fmt.Sprintf("step %d (%s) finished with status %s", i+1, env.TaskType, env.Status)
			if env.Error != nil {
				msg += ": " + env.Error.Message
			}
			return failedWith(msg, outputs, summary), nil
		}
	}

	return map[string]interface{}{
		"status":  string(models.StatusSuccess),
		"outputs": outputs,
		"steps":   summary,
	}, nil
}

func chainSteps(raw interface{}) ([]models.TaskConfig, error) {
	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("chain requires a non-empty steps list")
	}
	steps := make([]models.TaskConfig, 0, len(list))
	for i, item := range list {
		switch v := item.(type) {
		case map[string]interface{}:
			steps = append(steps, models.TaskConfig(v).Clone())
		case models.TaskConfig:
			steps = append(steps, v.Clone())
		default:
			return nil, fmt.Errorf("step %d is not a config object", i+1)
		}
	}
	return steps, nil
}

func failed(msg string) map[string]interface{} {
	return failedWith(msg, nil, nil)
}

func failedWith(msg string, outputs, steps []interface{}) map[string]interface{} {
	res := map[string]interface{}{
		"status": string(models.StatusFailed),
		"error":  msg,
	}
	if len(outputs) > 0 {
		res["outputs"] = outputs
	}
	if len(steps) > 0 {
		res["steps"] = steps
	}
	return res
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

var _ registry.Handler = (*ChainHandler)(nil)
