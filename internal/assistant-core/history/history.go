package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"assistant-dispatch-service/internal/models"
)

var (
	ErrInvalidTaskType = errors.New("invalid task type for journal")
	ErrCorruptJournal  = errors.New("history journal is corrupt")
)

// Journal is an append-only run history partitioned by task type.
type Journal interface {
	// Append adds one record to record.TaskType's journal, creating it lazily.
	Append(ctx context.Context, record models.RunRecord) error
	// Read returns taskType's records in append order.
	Read(ctx context.Context, taskType string) ([]models.RunRecord, error)
	Close() error
}

// checkTaskType rejects names that cannot safely scope a journal.
func checkTaskType(taskType string) error {
	switch {
	case strings.TrimSpace(taskType) == "",
		taskType == ".", taskType == "..",
		strings.ContainsAny(taskType, `/\`):
		return fmt.Errorf("%w: %q", ErrInvalidTaskType, taskType)
	}
	return nil
}
