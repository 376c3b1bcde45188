package model

import (
	"encoding/json"
	"time"
)

// JobRunStatus is the recorded state of a scheduler job run.
type JobRunStatus string

const (
	JobRunRunning  JobRunStatus = "running"
	JobRunComplete JobRunStatus = "complete"
	JobRunFailed   JobRunStatus = "failed"
	JobRunSkipped  JobRunStatus = "skipped"
)

// JobRun is one recorded execution of a scheduler job.
type JobRun struct {
	ID          string          `json:"id"`
	Job         string          `json:"job"`
	Status      JobRunStatus    `json:"status"`
	Trigger     string          `json:"trigger"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	Error       string          `json:"error,omitempty"`
}
