package api

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
)

// RegisterRoutes mounts every HTTP route on h.
func RegisterRoutes(h *server.Hertz, run *RunHandler, reg *RegistryHandler) {
	h.POST("/run-assistant", run.RunAssistant)
	h.GET("/history/:task_type", run.GetHistory)
	h.GET("/archives/:run_id", run.GetArchive)

	h.GET("/assistants", reg.GetAssistants)
	h.GET("/health", reg.GetHealth)

	adminGroup := h.Group("/admin")
	adminGroup.POST("/registry/reload", reg.ReloadRegistry)

	h.GET("/ping", func(c context.Context, ctxReq *app.RequestContext) {
		ctxReq.JSON(http.StatusOK, utils.H{"message": "pong"})
	})
}
