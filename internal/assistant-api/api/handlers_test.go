package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assistant-dispatch-service/internal/assistant-core/health"
	"assistant-dispatch-service/internal/assistant-core/runtime"
	"assistant-dispatch-service/internal/config"
	"assistant-dispatch-service/internal/models"
)

const testRegistry = `assistants:
  - task_type: echo
    handler: echo
  - task_type: strict
    handler: echo
    param_schema: '{"type":"object","required":["url"]}'
`

func setupTestApp(t *testing.T, registryYAML string) (*route.Engine, *runtime.Runtime) {
	t.Helper()
	cfg, err := config.FromEnv(func(string) string { return "" })
	require.NoError(t, err)
	cfg.OutputDir = t.TempDir()
	cfg.ArchiveDir = t.TempDir()
	cfg.RegistrySource = filepath.Join(t.TempDir(), "assistants.yaml")
	require.NoError(t, os.WriteFile(cfg.RegistrySource, []byte(registryYAML), 0o644))

	rt, err := runtime.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	hlog.SetLevel(hlog.LevelFatal)

	h := server.Default(
		server.WithHostPorts("127.0.0.1:0"),
		server.WithExitWaitTime(time.Duration(0)),
	)
	RegisterRoutes(h, NewRunHandler(rt), NewRegistryHandler(rt.Registry, rt.Health, nil))
	return h.Engine, rt
}

func postJSON(router *route.Engine, path string, payload []byte) *ut.ResponseRecorder {
	return ut.PerformRequest(router, "POST", path, &ut.Body{Body: bytes.NewReader(payload), Len: len(payload)},
		ut.Header{Key: "Content-Type", Value: "application/json"})
}

func TestRunAssistantAPI_Success(t *testing.T) {
	router, rt := setupTestApp(t, testRegistry)

	w := postJSON(router, "/run-assistant", []byte(`{"task_type":"echo","prompt":"hello","outputs":["a.csv"]}`))
	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode())

	var env models.ResultEnvelope
	require.NoError(t, json.Unmarshal(resp.Body(), &env))
	assert.Equal(t, models.StatusSuccess, env.Status)
	assert.Equal(t, []string{"a.csv"}, env.Outputs)
	assert.NotEmpty(t, env.RunID)

	w = ut.PerformRequest(router, "GET", "/history/echo", nil)
	resp = w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode())
	var body struct {
		Records []models.RunRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	require.Len(t, body.Records, 1)
	assert.Equal(t, env.RunID, body.Records[0].RunID)

	_, ok := rt.Archiver.Location(env.RunID)
	assert.True(t, ok)
	w = ut.PerformRequest(router, "GET", "/archives/"+env.RunID, nil)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode())
}

func TestRunAssistantAPI_UnknownTaskType(t *testing.T) {
	router, _ := setupTestApp(t, testRegistry)

	w := postJSON(router, "/run-assistant", []byte(`{"task_type":"ecko"}`))
	resp := w.Result()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode())

	var env models.ResultEnvelope
	require.NoError(t, json.Unmarshal(resp.Body(), &env))
	assert.Equal(t, models.StatusFailed, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, models.ErrUnknownTaskType, env.Error.Kind)
	assert.Equal(t, []string{"echo"}, env.Error.Suggestions)
}

func TestRunAssistantAPI_InvalidConfig(t *testing.T) {
	router, _ := setupTestApp(t, testRegistry)

	w := postJSON(router, "/run-assistant", []byte(`{"task_type":"strict"}`))
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode())
}

func TestRunAssistantAPI_InvalidBody(t *testing.T) {
	router, _ := setupTestApp(t, testRegistry)

	for _, body := range []string{`not json`, `["echo"]`, `null`} {
		w := postJSON(router, "/run-assistant", []byte(body))
		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode(), "body %s", body)
	}
}

func TestGetHistoryAPI_Empty(t *testing.T) {
	router, _ := setupTestApp(t, testRegistry)

	w := ut.PerformRequest(router, "GET", "/history/echo", nil)
	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), `"records":[]`)
}

func TestGetArchiveAPI_NotFound(t *testing.T) {
	router, _ := setupTestApp(t, testRegistry)

	w := ut.PerformRequest(router, "GET", "/archives/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode())
}

func TestGetAssistantsAPI(t *testing.T) {
	router, _ := setupTestApp(t, testRegistry)

	w := ut.PerformRequest(router, "GET", "/assistants", nil)
	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode())

	var body struct {
		Assistants []AssistantInfo `json:"assistants"`
		Fallback   bool            `json:"fallback"`
	}
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.False(t, body.Fallback)
	require.Len(t, body.Assistants, 2)
	assert.Equal(t, "echo", body.Assistants[0].TaskType)
	assert.True(t, body.Assistants[1].HasParamSchema)
}

func TestGetHealthAPI(t *testing.T) {
	router, _ := setupTestApp(t, testRegistry)
	w := ut.PerformRequest(router, "GET", "/health", nil)
	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode())
	var report health.Report
	require.NoError(t, json.Unmarshal(resp.Body(), &report))
	assert.True(t, report.Healthy)

	router, _ = setupTestApp(t, "assistants:\n  - task_type: gone\n    handler: script\n    script: nope.py\n")
	w = ut.PerformRequest(router, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Result().StatusCode())
}

func TestReloadRegistryAPI(t *testing.T) {
	router, rt := setupTestApp(t, testRegistry)

	require.NoError(t, os.WriteFile(rt.Registry.Source(), []byte("assistants:\n  - task_type: fresh\n    handler: echo\n"), 0o644))
	w := ut.PerformRequest(router, "POST", "/admin/registry/reload", nil)
	require.Equal(t, http.StatusOK, w.Result().StatusCode())
	assert.Equal(t, []string{"fresh"}, rt.Registry.Keys())

	require.NoError(t, os.WriteFile(rt.Registry.Source(), []byte("assistants: ["), 0o644))
	w = ut.PerformRequest(router, "POST", "/admin/registry/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Result().StatusCode())
	assert.Equal(t, []string{"fresh"}, rt.Registry.Keys(), "failed reload keeps the registry")
}

func TestPingAPI(t *testing.T) {
	router, _ := setupTestApp(t, testRegistry)
	w := ut.PerformRequest(router, "GET", "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode())
}
