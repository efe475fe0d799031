package dispatcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assistant-dispatch-service/internal/assistant-core/archiver"
	"assistant-dispatch-service/internal/assistant-core/engine"
	"assistant-dispatch-service/internal/assistant-core/history"
	"assistant-dispatch-service/internal/assistant-core/registry"
	"assistant-dispatch-service/internal/models"
)

type failingJournal struct{}

func (failingJournal) Append(context.Context, models.RunRecord) error { return errors.New("disk full") }
func (failingJournal) Read(context.Context, string) ([]models.RunRecord, error) {
	return nil, errors.New("disk full")
}
func (failingJournal) Close() error { return nil }

type fixture struct {
	reg      *registry.Registry
	journal  *history.FileJournal
	archiver *archiver.Archiver
	disp     *Dispatcher
	outDir   string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		reg:      registry.New(registry.NewCatalog(), ""),
		journal:  history.NewFileJournal(t.TempDir()),
		archiver: archiver.New(t.TempDir()),
		outDir:   t.TempDir(),
	}
	eng := engine.New(engine.RetryPolicy{MaxAttempts: 3, Delay: 20 * time.Millisecond})
	base := []Option{WithJournal(f.journal), WithArchiver(f.archiver), WithOutputDir(f.outDir)}
	f.disp = New(f.reg, eng, append(base, opts...)...)
	return f
}

func (f *fixture) register(t *testing.T, taskType string, fn registry.HandlerFunc) {
	t.Helper()
	require.NoError(t, f.reg.Register(taskType, fn))
}

func (f *fixture) history(t *testing.T, taskType string) []models.RunRecord {
	t.Helper()
	recs, err := f.journal.Read(context.Background(), taskType)
	require.NoError(t, err)
	return recs
}

func TestDispatch_ScenarioA(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.outDir, "web_scraper", "run123.csv")
	require.NoError(t, os.MkdirAll(filepath.Dir(out), 0o755))
	require.NoError(t, os.WriteFile(out, []byte("title,price\n"), 0o644))

	var seen models.TaskConfig
	f.register(t, "web_scraper", func(_ context.Context, cfg models.TaskConfig) (interface{}, error) {
		seen = cfg
		return map[string]interface{}{"status": "Success", "outputs": []interface{}{out}}, nil
	})

	env := f.disp.Dispatch(context.Background(), models.TaskConfig{
		"task_type": "web_scraper",
		"url":       "https://example.test",
		"filters":   "title,price",
	})

	require.Equal(t, models.StatusSuccess, env.Status)
	assert.Nil(t, env.Error)
	assert.Equal(t, []string{out}, env.Outputs)
	assert.NotEmpty(t, env.RunID)
	assert.Equal(t, env.RunID, seen.RunID(), "the handler sees the injected run id")
	assert.NotEmpty(t, seen.Timestamp())

	recs := f.history(t, "web_scraper")
	require.Len(t, recs, 1)
	assert.Equal(t, env.RunID, recs[0].RunID)
	assert.Equal(t, "title,price", recs[0].Filters)

	loc, ok := f.archiver.Location(env.RunID)
	require.True(t, ok)
	assert.Equal(t, loc, env.Metadata["archive"])
	names, err := f.archiver.List(env.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{"run123.csv"}, names)
}

func TestDispatch_ScenarioB(t *testing.T) {
	f := newFixture(t)
	f.register(t, "unknown", func(context.Context, models.TaskConfig) (interface{}, error) { return nil, nil })
	f.register(t, "web_scraper", func(context.Context, models.TaskConfig) (interface{}, error) { return nil, nil })

	env := f.disp.Dispatch(context.Background(), models.TaskConfig{"task_type": "unknown_x"})
	assert.Equal(t, models.StatusFailed, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, models.ErrUnknownTaskType, env.Error.Kind)
	assert.Contains(t, env.Error.Suggestions, "unknown")
	assert.NotContains(t, env.Error.Suggestions, "web_scraper")
	assert.Empty(t, env.RunID)
	assert.Empty(t, f.history(t, "unknown_x"))
}

func TestDispatch_MissingTaskType(t *testing.T) {
	f := newFixture(t)
	f.register(t, "echo", func(context.Context, models.TaskConfig) (interface{}, error) { return nil, nil })

	for _, cfg := range []models.TaskConfig{{}, {"task_type": ""}, {"task_type": 7}} {
		env := f.disp.Dispatch(context.Background(), cfg)
		assert.Equal(t, models.StatusFailed, env.Status)
		require.NotNil(t, env.Error)
		assert.Equal(t, models.ErrUnknownTaskType, env.Error.Kind)
		assert.Empty(t, env.Error.Suggestions)
	}
}

func TestDispatch_RetriesThenFails(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.register(t, "flaky", func(context.Context, models.TaskConfig) (interface{}, error) {
		calls++
		return nil, errors.New("connection reset")
	})

	env := f.disp.Dispatch(context.Background(), models.TaskConfig{"task_type": "flaky"})
	assert.Equal(t, models.StatusFailed, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, models.ErrHandlerExecutionFailure, env.Error.Kind)
	assert.Equal(t, "connection reset", env.Error.Message)
	assert.Equal(t, 3, calls)

	recs := f.history(t, "flaky")
	require.Len(t, recs, 1, "one record per dispatch regardless of attempts")
	assert.Equal(t, models.StatusFailed, recs[0].Status)
	assert.Equal(t, "connection reset", recs[0].Error)
}

func TestDispatch_ReportedFailureNotRetried(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.register(t, "api_fetcher", func(context.Context, models.TaskConfig) (interface{}, error) {
		calls++
		return map[string]interface{}{"status": "Failed", "error": "HTTP 404"}, nil
	})

	env := f.disp.Dispatch(context.Background(), models.TaskConfig{"task_type": "api_fetcher"})
	assert.Equal(t, models.StatusFailed, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, models.ErrHandlerReportedFailure, env.Error.Kind)
	assert.Equal(t, "HTTP 404", env.Error.Message)
	assert.Equal(t, 1, calls)
}

func TestDispatch_UniqueRunIDs(t *testing.T) {
	f := newFixture(t)
	f.register(t, "echo", func(context.Context, models.TaskConfig) (interface{}, error) { return nil, nil })

	const n = 10
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- f.disp.Dispatch(context.Background(), models.TaskConfig{"task_type": "echo"}).RunID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate run id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Len(t, f.history(t, "echo"), n)
}

func TestDispatch_DoesNotMutateCallerConfig(t *testing.T) {
	f := newFixture(t)
	f.register(t, "echo", func(context.Context, models.TaskConfig) (interface{}, error) { return nil, nil })

	cfg := models.TaskConfig{"task_type": "echo"}
	f.disp.Dispatch(context.Background(), cfg)
	assert.Equal(t, models.TaskConfig{"task_type": "echo"}, cfg)
}

func TestDispatch_LoggingFailureKeepsStatus(t *testing.T) {
	f := newFixture(t, WithJournal(failingJournal{}))
	f.register(t, "echo", func(context.Context, models.TaskConfig) (interface{}, error) {
		return "missing-output.csv", nil
	})

	env := f.disp.Dispatch(context.Background(), models.TaskConfig{"task_type": "echo"})
	assert.Equal(t, models.StatusSuccess, env.Status)
	assert.Equal(t, []string{"missing-output.csv"}, env.Outputs)
}

type panickingJournal struct{ appends int }

func (j *panickingJournal) Append(context.Context, models.RunRecord) error {
	j.appends++
	panic("journal exploded")
}
func (j *panickingJournal) Read(context.Context, string) ([]models.RunRecord, error) {
	return nil, nil
}
func (j *panickingJournal) Close() error { return nil }

func TestDispatch_PanicAfterStampIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.disp.now = func() time.Time { panic("clock unavailable") }
	f.register(t, "echo", func(context.Context, models.TaskConfig) (interface{}, error) {
		return nil, nil
	})

	env := f.disp.Dispatch(context.Background(), models.TaskConfig{"task_type": "echo"})
	assert.Equal(t, models.StatusFailed, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, models.ErrHandlerExecutionFailure, env.Error.Kind)
	assert.Contains(t, env.Error.Message, "clock unavailable")
	require.NotEmpty(t, env.RunID)

	recs := f.history(t, "echo")
	require.Len(t, recs, 1)
	assert.Equal(t, env.RunID, recs[0].RunID)
	assert.Equal(t, models.StatusFailed, recs[0].Status)
}

func TestDispatch_PanicInJournalIsNotRecordedTwice(t *testing.T) {
	j := &panickingJournal{}
	f := newFixture(t, WithJournal(j))
	f.register(t, "echo", func(context.Context, models.TaskConfig) (interface{}, error) {
		return nil, nil
	})

	env := f.disp.Dispatch(context.Background(), models.TaskConfig{"task_type": "echo"})
	assert.Equal(t, models.StatusFailed, env.Status)
	assert.NotEmpty(t, env.RunID)
	assert.Equal(t, 1, j.appends)
}

func TestDispatch_RelativeOutputsResolveUnderOutputDir(t *testing.T) {
	f := newFixture(t)
	p := filepath.Join(f.outDir, "web_scraper", "bare.csv")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	f.register(t, "web_scraper", func(context.Context, models.TaskConfig) (interface{}, error) {
		return map[string]interface{}{"output_file": "bare.csv"}, nil
	})

	env := f.disp.Dispatch(context.Background(), models.TaskConfig{"task_type": "web_scraper"})
	assert.Equal(t, []string{"bare.csv"}, env.Outputs, "envelope keeps the handler's reference")
	names, err := f.archiver.List(env.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bare.csv"}, names)
}

func TestDispatch_Schemas(t *testing.T) {
	src := filepath.Join(t.TempDir(), "assistants.yaml")
	require.NoError(t, os.WriteFile(src, []byte(`assistants:
  - task_type: strict
    handler: fixed
    param_schema: '{"type":"object","required":["url"]}'
    result_schema: '{"type":"object","required":["outputs","rows"]}'
    defaults:
      depth: 1
`), 0o644))

	var seen models.TaskConfig
	catalog := registry.NewCatalog()
	catalog.RegisterKind("fixed", func(registry.Entry) (registry.Handler, error) {
		return registry.HandlerFunc(func(_ context.Context, cfg models.TaskConfig) (interface{}, error) {
			seen = cfg
			return map[string]interface{}{"status": "Success", "outputs": []interface{}{"a.csv"}}, nil
		}), nil
	})
	reg := registry.New(catalog, src)
	require.NoError(t, reg.Load())
	journal := history.NewFileJournal(t.TempDir())
	d := New(reg, engine.New(engine.DefaultRetryPolicy()), WithJournal(journal))

	env := d.Dispatch(context.Background(), models.TaskConfig{"task_type": "strict"})
	assert.Equal(t, models.StatusFailed, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, models.ErrInvalidConfig, env.Error.Kind)
	assert.Contains(t, env.Error.Message, "url")
	assert.Nil(t, seen, "an invalid config never reaches the handler")

	env = d.Dispatch(context.Background(), models.TaskConfig{"task_type": "strict", "url": "https://example.test"})
	assert.Equal(t, models.StatusPartialFailure, env.Status)
	assert.Contains(t, env.Metadata["result_validation_error"], "rows")
	assert.Equal(t, 1, seen["depth"], "entry defaults fill absent keys")

	recs, err := journal.Read(context.Background(), "strict")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestDispatch_HandlerLoadFailure(t *testing.T) {
	src := filepath.Join(t.TempDir(), "assistants.yaml")
	require.NoError(t, os.WriteFile(src, []byte("assistants:\n  - task_type: broken\n    handler: nowhere\n"), 0o644))
	reg := registry.New(registry.NewCatalog(), src)
	require.NoError(t, reg.Load())

	env := New(reg, engine.New(engine.DefaultRetryPolicy())).Dispatch(context.Background(), models.TaskConfig{"task_type": "broken"})
	assert.Equal(t, models.StatusFailed, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, models.ErrHandlerLoadFailure, env.Error.Kind)
}

func TestSuggest(t *testing.T) {
	keys := []string{"api_fetcher", "assistant_chainer", "echo", "web_scraper"}
	assert.Equal(t, []string{"web_scraper"}, Suggest("web_scrapper", keys))
	assert.Equal(t, []string{"api_fetcher"}, Suggest("API_Fetcher", keys))
	assert.Empty(t, Suggest("completely_different", keys))
	assert.Empty(t, Suggest("echo", nil))
}
