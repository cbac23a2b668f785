package models

import (
	"time"
)

// JobState 生成任务状态
type JobState string

const (
	JobPending   JobState = "Pending"
	JobRunning   JobState = "Running"
	JobSucceeded JobState = "Succeeded"
	JobFailed    JobState = "Failed"
)

// IsTerminal 是否为终态
func (s JobState) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// JobSnapshot 任务的时间点快照，调用方持有的只会是快照
type JobSnapshot struct {
	Handle      int            `json:"handle"`
	JobID       string         `json:"job_id"`
	State       JobState       `json:"state"`
	Description string         `json:"description"`
	Config      ResolvedConfig `json:"config"`
	Result      *GameResult    `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// Duration 运行耗时，未结束时为0
func (s JobSnapshot) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}
