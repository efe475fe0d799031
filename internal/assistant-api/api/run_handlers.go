package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"assistant-dispatch-service/internal/assistant-core/archiver"
	"assistant-dispatch-service/internal/assistant-core/history"
	"assistant-dispatch-service/internal/assistant-core/runtime"
	"assistant-dispatch-service/internal/models"
)

type RunHandler struct {
	Runtime *runtime.Runtime
}

func NewRunHandler(rt *runtime.Runtime) *RunHandler {
	return &RunHandler{Runtime: rt}
}

// RunAssistant dispatches the JSON body as a task config and returns the
// envelope. Every dispatch outcome yields an envelope body.
func (h *RunHandler) RunAssistant(ctx context.Context, c *app.RequestContext) {
	cfg, err := models.DecodeTaskConfig(c.Request.Body())
	if err != nil {
		hlog.CtxWarnf(ctx, "RunAssistant: invalid request body: %v", err)
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	env := h.Runtime.RunAssistant(ctx, cfg)
	c.JSON(envelopeHTTPStatus(env), env)
}

func envelopeHTTPStatus(env *models.ResultEnvelope) int {
	if env.Error == nil {
		return http.StatusOK
	}
	switch env.Error.Kind {
	case models.ErrUnknownTaskType:
		return http.StatusNotFound
	case models.ErrInvalidConfig:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

func (h *RunHandler) GetHistory(ctx context.Context, c *app.RequestContext) {
	taskType := c.Param("task_type")
	records, err := h.Runtime.Journal.Read(ctx, taskType)
	switch {
	case errors.Is(err, history.ErrInvalidTaskType):
		c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to read history: " + err.Error()})
		return
	}
	if records == nil {
		records = []models.RunRecord{}
	}
	c.JSON(http.StatusOK, utils.H{"task_type": taskType, "records": records})
}

func (h *RunHandler) GetArchive(ctx context.Context, c *app.RequestContext) {
	runID := c.Param("run_id")
	entries, err := h.Runtime.Archiver.List(runID)
	switch {
	case errors.Is(err, archiver.ErrInvalidRunID):
		c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
		return
	case errors.Is(err, archiver.ErrNotFound):
		c.JSON(http.StatusNotFound, utils.H{"error": "Archive not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to read archive: " + err.Error()})
		return
	}
	loc, _ := h.Runtime.Archiver.Location(runID)
	c.JSON(http.StatusOK, utils.H{"run_id": runID, "location": loc, "entries": entries})
}
