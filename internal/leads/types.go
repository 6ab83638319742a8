// Package leads defines core types shared across subsystems.
package leads

import (
	"time"
)

// TaskStatus represents the lifecycle state of a crawl task.
type TaskStatus string

// Task status values persisted in the task store.
const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailure TaskStatus = "failure"
)

// CrawlRequest captures per-task knobs requested by the client.
type CrawlRequest struct {
	Query      string `json:"query"`
	Location   string `json:"location"`
	MaxResults int    `json:"max_results"`
	Headless   bool   `json:"headless"`
}

// Task represents the metadata persisted for each submitted crawl request.
type Task struct {
	ID        string       `json:"id"`
	Status    TaskStatus   `json:"status"`
	Submitted time.Time    `json:"submitted_at"`
	Started   *time.Time   `json:"started_at,omitempty"`
	Finished  *time.Time   `json:"finished_at,omitempty"`
	ErrorText string       `json:"error_text,omitempty"`
	Request   CrawlRequest `json:"request"`
	Stats     CrawlStats   `json:"stats"`
}

// CrawlStats tracks per-session outcome counters. It is returned to the
// dispatcher as the terminal result of a session and is never persisted
// alongside business records.
type CrawlStats struct {
	Candidates        int `json:"candidates"`
	DetailAttempts    int `json:"detail_attempts"`
	DetailSuccesses   int `json:"detail_successes"`
	DetailFailures    int `json:"detail_failures"`
	CaptchaDetections int `json:"captcha_detections"`
	Inserted          int `json:"inserted"`
	Updated           int `json:"updated"`
	Dropped           int `json:"dropped"`
}

// AttemptOutcome classifies one iteration of the detail enrichment loop.
type AttemptOutcome string

// Attempt outcomes drive the retry state machine.
const (
	OutcomeSuccess         AttemptOutcome = "success"
	OutcomeCaptchaDetected AttemptOutcome = "captcha_detected"
	OutcomeTimeout         AttemptOutcome = "timeout"
	OutcomeOtherError      AttemptOutcome = "other_error"
	OutcomeFailed          AttemptOutcome = "failed"
)

// UpsertOutcome reports what the store adapter did with a record.
type UpsertOutcome string

// Upsert outcomes.
const (
	UpsertInserted UpsertOutcome = "inserted"
	UpsertUpdated  UpsertOutcome = "updated"
	UpsertDropped  UpsertOutcome = "dropped"
)

// TaskItem wraps a task ready to run on the dispatcher's worker pool.
type TaskItem struct {
	TaskID    string
	Request   CrawlRequest
	Submitted int64
}
