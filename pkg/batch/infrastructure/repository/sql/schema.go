package sql

import (
	"time"
)

// JobExecutionEntity is the persisted form of a job execution.
type JobExecutionEntity struct {
	ID             string                 `gorm:"primaryKey;size:36"`
	JobName        string                 `gorm:"size:255;not null;index:idx_job_execution_name_start,priority:1"`
	Parameters     map[string]interface{} `gorm:"serializer:json;type:text"`
	ParametersHash string                 `gorm:"size:64;not null"`
	Status         string                 `gorm:"size:20;not null"`
	ExitStatus     string                 `gorm:"size:20;not null"`
	Restart        bool                   `gorm:"not null"`
	StartTime      time.Time              `gorm:"not null;index:idx_job_execution_name_start,priority:2"`
	EndTime        *time.Time
	LastUpdated    time.Time `gorm:"not null"`
	ErrorMessage   string    `gorm:"type:text"`
}

func (JobExecutionEntity) TableName() string {
	return "batch_job_execution"
}

// StepOutcomeEntity is one recorded step outcome. Outcomes are appended, never updated;
// the row with the highest Seq for a job execution and step is its outcome.
type StepOutcomeEntity struct {
	Seq              uint64 `gorm:"primaryKey;autoIncrement"`
	JobName          string `gorm:"size:255;not null"`
	StepName         string `gorm:"size:255;not null;index:idx_step_outcome_execution_step,priority:2"`
	StepExecutionID  string `gorm:"size:36;not null"`
	JobExecutionID   string `gorm:"size:36;not null;index:idx_step_outcome_execution_step,priority:1"`
	Status           string `gorm:"size:20;not null"`
	ExitStatus       string `gorm:"size:20;not null"`
	ReadCount        int64
	WriteCount       int64
	FilterCount      int64
	ReadSkipCount    int64
	ProcessSkipCount int64
	FailedCount      int64
	CommitCount      int64
	RollbackCount    int64
	ErrorMessage     string    `gorm:"type:text"`
	RecordedAt       time.Time `gorm:"not null"`
}

func (StepOutcomeEntity) TableName() string {
	return "batch_step_outcome"
}
