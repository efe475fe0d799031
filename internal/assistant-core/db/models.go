package db

import (
	"time"

	"gorm.io/gorm"
)

// RunRecord is the persisted row of one finished dispatch.
type RunRecord struct {
	// ID orders records within a task type.
	gorm.Model

	RunID     string    `json:"run_id" gorm:"uniqueIndex;size:64"`
	TaskType  string    `json:"task_type" gorm:"index;size:128"`
	Timestamp time.Time `json:"timestamp" gorm:"index"`
	Status    string    `json:"status" gorm:"index"` // Success, PartialFailure, Failed
	Prompt    string    `json:"prompt"`
	Filters   string    `json:"filters"`
	Outputs   string    `json:"outputs" gorm:"type:json"` // JSON array of output references
	Error     string    `json:"error"`
}

func (RunRecord) TableName() string {
	return "run_records"
}
