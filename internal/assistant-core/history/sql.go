package history

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"assistant-dispatch-service/internal/assistant-core/db"
	"assistant-dispatch-service/internal/models"
)

// SQLJournal stores run records in a single table; IDs preserve append order.
type SQLJournal struct {
	db *gorm.DB
}

// NewSQLJournal migrates the run_records table on gormDB.
func NewSQLJournal(gormDB *gorm.DB) (*SQLJournal, error) {
	if err := gormDB.AutoMigrate(&db.RunRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate run records: %w", err)
	}
	return &SQLJournal{db: gormDB}, nil
}

func (j *SQLJournal) Append(ctx context.Context, record models.RunRecord) error {
	if err := checkTaskType(record.TaskType); err != nil {
		return err
	}
	outputs, err := json.Marshal(nonNil(record.Outputs))
	if err != nil {
		return fmt.Errorf("failed to encode outputs: %w", err)
	}
	row := db.RunRecord{
		RunID:     record.RunID,
		TaskType:  record.TaskType,
		Timestamp: record.Timestamp,
		Status:    string(record.Status),
		Prompt:    record.Prompt,
		Filters:   record.Filters,
		Outputs:   string(outputs),
		Error:     record.Error,
	}
	if err := j.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append run %s: %w", record.RunID, err)
	}
	return nil
}

func (j *SQLJournal) Read(ctx context.Context, taskType string) ([]models.RunRecord, error) {
	if err := checkTaskType(taskType); err != nil {
		return nil, err
	}
	var rows []db.RunRecord
	if err := j.db.WithContext(ctx).Where("task_type = ?", taskType).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", taskType, err)
	}
	records := make([]models.RunRecord, 0, len(rows))
	for _, row := range rows {
		var outputs []string
		if row.Outputs != "" {
			if err := json.Unmarshal([]byte(row.Outputs), &outputs); err != nil {
				return nil, fmt.Errorf("%w: run %s outputs: %v", ErrCorruptJournal, row.RunID, err)
			}
		}
		records = append(records, models.RunRecord{
			RunID:     row.RunID,
			TaskType:  row.TaskType,
			Timestamp: row.Timestamp,
			Status:    models.Status(row.Status),
			Prompt:    row.Prompt,
			Filters:   row.Filters,
			Outputs:   nonNil(outputs),
			Error:     row.Error,
		})
	}
	return records, nil
}

func (j *SQLJournal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Journal = (*SQLJournal)(nil)
