package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/gofrs/flock"

	"assistant-dispatch-service/internal/models"
	"assistant-dispatch-service/pkg/fsutil"
)

const journalFile = "history.json"

// FileJournal keeps one JSON array per task type at <root>/<task_type>/history.json.
// Every append rewrites the file through a temp file and rename, under an
// in-process mutex and a cross-process file lock.
type FileJournal struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func NewFileJournal(root string) *FileJournal {
	return &FileJournal{root: root, locks: map[string]*sync.Mutex{}, now: time.Now}
}

// Path returns the journal file for taskType.
func (j *FileJournal) Path(taskType string) string {
	return filepath.Join(j.root, taskType, journalFile)
}

func (j *FileJournal) lockFor(taskType string) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()
	l, ok := j.locks[taskType]
	if !ok {
		l = &sync.Mutex{}
		j.locks[taskType] = l
	}
	return l
}

func (j *FileJournal) Append(ctx context.Context, record models.RunRecord) error {
	if err := checkTaskType(record.TaskType); err != nil {
		return err
	}
	l := j.lockFor(record.TaskType)
	l.Lock()
	defer l.Unlock()

	path := j.Path(record.TaskType)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create journal dir: %w", err)
	}
	fl := flock.New(path + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("failed to lock journal %s: %w", path, err)
	}
	defer func() { _ = fl.Unlock() }()

	records, err := readRecords(path)
	if err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", path, j.now().Unix())
		hlog.CtxWarnf(ctx, "History: %v, moving it to %s and starting a new journal", err, aside)
		if mvErr := os.Rename(path, aside); mvErr != nil {
			hlog.CtxWarnf(ctx, "History: could not move corrupt journal aside: %v", mvErr)
		}
		records = nil
	}

	records = append(records, record)
	return fsutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	})
}

func (j *FileJournal) Read(_ context.Context, taskType string) ([]models.RunRecord, error) {
	if err := checkTaskType(taskType); err != nil {
		return nil, err
	}
	l := j.lockFor(taskType)
	l.Lock()
	defer l.Unlock()
	return readRecords(j.Path(taskType))
}

func (j *FileJournal) Close() error {
	return nil
}

// readRecords returns nil for a journal that does not exist yet. Every other
// failure, unreadable or unparsable, is reported as ErrCorruptJournal.
func readRecords(path string) ([]models.RunRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read %s: %v", ErrCorruptJournal, path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCorruptJournal, path)
	}
	var records []models.RunRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptJournal, path, err)
	}
	return records, nil
}

var _ Journal = (*FileJournal)(nil)
