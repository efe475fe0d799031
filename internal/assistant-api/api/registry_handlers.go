package api

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"assistant-dispatch-service/internal/assistant-core/health"
	"assistant-dispatch-service/internal/assistant-core/registry"
)

type RegistryHandler struct {
	Registry *registry.Registry
	Health   *health.Checker
	// Reload re-reads the registry source; it also reschedules cron runs when
	// a scheduler is wired in.
	Reload func() error
}

func NewRegistryHandler(reg *registry.Registry, checker *health.Checker, reload func() error) *RegistryHandler {
	if reload == nil {
		reload = reg.Reload
	}
	return &RegistryHandler{Registry: reg, Health: checker, Reload: reload}
}

type AssistantInfo struct {
	TaskType        string `json:"task_type"`
	Handler         string `json:"handler"`
	Cron            string `json:"cron,omitempty"`
	HasParamSchema  bool   `json:"has_param_schema"`
	HasResultSchema bool   `json:"has_result_schema"`
}

func (h *RegistryHandler) GetAssistants(ctx context.Context, c *app.RequestContext) {
	bindings := h.Registry.Bindings()
	infos := make([]AssistantInfo, 0, len(bindings))
	for _, b := range bindings {
		infos = append(infos, AssistantInfo{
			TaskType:        b.Entry.TaskType,
			Handler:         b.Entry.Handler,
			Cron:            b.Entry.Cron,
			HasParamSchema:  b.Entry.ParamSchema != "",
			HasResultSchema: b.Entry.ResultSchema != "",
		})
	}
	c.JSON(http.StatusOK, utils.H{"assistants": infos, "fallback": h.Registry.UsingFallback()})
}

func (h *RegistryHandler) GetHealth(ctx context.Context, c *app.RequestContext) {
	report := h.Health.CheckAll()
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (h *RegistryHandler) ReloadRegistry(ctx context.Context, c *app.RequestContext) {
	if err := h.Reload(); err != nil {
		hlog.CtxWarnf(ctx, "ReloadRegistry: %v", err)
		c.JSON(http.StatusUnprocessableEntity, utils.H{"error": "Registry reload failed, previous registry kept: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, utils.H{"message": "Registry reloaded", "task_types": h.Registry.Keys()})
}
