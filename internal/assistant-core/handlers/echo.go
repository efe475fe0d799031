package handlers

import (
	"context"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"assistant-dispatch-service/internal/assistant-core/registry"
	"assistant-dispatch-service/internal/models"
)

// EchoHandler returns the config it was given. Any "outputs" field in the
// config is passed back as the handler's outputs.
type EchoHandler struct{}

// NewEchoFactory builds EchoHandlers; it never fails.
func NewEchoFactory() registry.Factory {
	return func(registry.Entry) (registry.Handler, error) {
		return &EchoHandler{}, nil
	}
}

// Execute implements registry.Handler.
func (e *EchoHandler) Execute(ctx context.Context, cfg models.TaskConfig) (interface{}, error) {
	hlog.CtxInfof(ctx, "EchoHandler: run %s for task type %s", cfg.RunID(), cfg.TaskType())

	result := map[string]interface{}{
		"status": string(models.StatusSuccess),
		"params": map[string]interface{}(cfg.Clone()),
	}
	if outputs, ok := cfg["outputs"]; ok {
		result["outputs"] = outputs
	}
	return result, nil
}

var _ registry.Handler = (*EchoHandler)(nil)
