package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/crashlens/leadcrawler/internal/leads"
)

// ErrTaskNotFound is returned when a task ID has no stored task.
var ErrTaskNotFound = errors.New("task not found")

// TaskStore provides an in-memory task store for development/testing.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]leads.Task
	now   func() time.Time
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]leads.Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateTask stores a new task in pending status.
func (s *TaskStore) CreateTask(_ context.Context, task leads.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return errors.New("task already exists")
	}
	s.tasks[task.ID] = task
	return nil
}

// UpdateTask updates the status, error text and counters for a task.
func (s *TaskStore) UpdateTask(
	_ context.Context,
	taskID string,
	status leads.TaskStatus,
	errText string,
	stats leads.CrawlStats,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = status
	task.ErrorText = errText
	task.Stats = stats
	now := s.now()
	if status == leads.TaskStatusRunning && task.Started == nil {
		task.Started = pointerTime(now)
	}
	if isTerminal(status) {
		task.Finished = pointerTime(now)
	}
	s.tasks[taskID] = task
	return nil
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(_ context.Context, taskID string) (leads.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return leads.Task{}, ErrTaskNotFound
	}
	return task, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status leads.TaskStatus) bool {
	switch status {
	case leads.TaskStatusSuccess, leads.TaskStatusFailure:
		return true
	default:
		return false
	}
}
