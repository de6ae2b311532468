package models

import "time"

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskTimedOut  TaskStatus = "timed_out"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskTimedOut
}

// -----------------------------------------------------------------------------

// MProviderTask is the execution of one provider for one request.
type MProviderTask struct {
	RequestID  string     `json:"requestId"`
	ProviderID string     `json:"providerId"`
	Status     TaskStatus `json:"status"`
	Quotes     []MQuote   `json:"quotes,omitempty"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
	StartedAt  time.Time  `json:"startedAt,omitempty"`
	FinishedAt time.Time  `json:"finishedAt,omitempty"`
}

// -----------------------------------------------------------------------------

// MTaskResult is the terminal event a task runner delivers to the aggregator.
// Status is always terminal; Quotes is only meaningful when Status is TaskSucceeded.
type MTaskResult struct {
	ProviderID string
	Status     TaskStatus
	Quotes     []MQuote
	Err        error
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
}
