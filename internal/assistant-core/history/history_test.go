package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assistant-dispatch-service/internal/models"
	"assistant-dispatch-service/pkg/db"
)

var recordedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func record(taskType, runID string) models.RunRecord {
	return models.RunRecord{
		RunID:     runID,
		TaskType:  taskType,
		Timestamp: recordedAt,
		Status:    models.StatusSuccess,
		Filters:   "title,price",
		Outputs:   []string{"output/" + taskType + "/" + runID + ".csv"},
	}
}

func journals(t *testing.T) map[string]Journal {
	t.Helper()
	gormDB, err := db.NewGormDB(db.TypeSQLite, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	sqlJournal, err := NewSQLJournal(gormDB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlJournal.Close() })

	return map[string]Journal{
		"file": NewFileJournal(t.TempDir()),
		"sql":  sqlJournal,
	}
}

func TestJournal_AppendAndRead(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			empty, err := j.Read(ctx, "web_scraper")
			require.NoError(t, err)
			assert.Empty(t, empty)

			require.NoError(t, j.Append(ctx, record("web_scraper", "r1")))
			require.NoError(t, j.Append(ctx, record("web_scraper", "r2")))
			require.NoError(t, j.Append(ctx, record("api_fetcher", "r3")))

			got, err := j.Read(ctx, "web_scraper")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "r1", got[0].RunID)
			assert.Equal(t, "r2", got[1].RunID)
			assert.Equal(t, []string{"output/web_scraper/r1.csv"}, got[0].Outputs)
			assert.Equal(t, "title,price", got[0].Filters)
			assert.True(t, got[0].Timestamp.Equal(recordedAt))

			other, err := j.Read(ctx, "api_fetcher")
			require.NoError(t, err)
			assert.Len(t, other, 1)
		})
	}
}

func TestJournal_RejectsUnsafeTaskType(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			for _, tt := range []string{"", "..", "a/b", `a\b`} {
				err := j.Append(context.Background(), record(tt, "r"))
				assert.ErrorIs(t, err, ErrInvalidTaskType, "task type %q", tt)
			}
		})
	}
}

func TestJournal_ConcurrentAppends(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			const n = 20
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, j.Append(context.Background(), record("echo", fmt.Sprintf("run-%d", i))))
				}(i)
			}
			wg.Wait()

			got, err := j.Read(context.Background(), "echo")
			require.NoError(t, err)
			assert.Len(t, got, n)
		})
	}
}

func TestFileJournal_CorruptJournalIsMovedAside(t *testing.T) {
	root := t.TempDir()
	j := NewFileJournal(root)
	j.now = func() time.Time { return time.Unix(1700000000, 0) }

	path := j.Path("web_scraper")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := j.Read(context.Background(), "web_scraper")
	assert.ErrorIs(t, err, ErrCorruptJournal)

	require.NoError(t, j.Append(context.Background(), record("web_scraper", "fresh")))

	got, err := j.Read(context.Background(), "web_scraper")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].RunID)

	aside, err := os.ReadFile(path + ".corrupt-1700000000")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(aside))
}

func TestFileJournal_UnreadableJournalIsReplaced(t *testing.T) {
	root := t.TempDir()
	j := NewFileJournal(root)
	j.now = func() time.Time { return time.Unix(1700000000, 0) }

	path := j.Path("api_fetcher")
	require.NoError(t, os.MkdirAll(path, 0o755))

	_, err := j.Read(context.Background(), "api_fetcher")
	assert.ErrorIs(t, err, ErrCorruptJournal)

	require.NoError(t, j.Append(context.Background(), record("api_fetcher", "r1")))
	require.NoError(t, j.Append(context.Background(), record("api_fetcher", "r2")))

	got, err := j.Read(context.Background(), "api_fetcher")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].RunID)
	assert.Equal(t, "r2", got[1].RunID)

	info, err := os.Stat(path + ".corrupt-1700000000")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileJournal_LayoutPerTaskType(t *testing.T) {
	root := t.TempDir()
	j := NewFileJournal(root)
	require.NoError(t, j.Append(context.Background(), record("api_fetcher", "r1")))

	_, err := os.Stat(filepath.Join(root, "api_fetcher", "history.json"))
	assert.NoError(t, err)
}
