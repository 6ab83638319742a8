package worker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crashlens/leadcrawler/internal/clock/system"
	"github.com/crashlens/leadcrawler/internal/leads"
	"github.com/crashlens/leadcrawler/internal/metrics"
	pubmemory "github.com/crashlens/leadcrawler/internal/publisher/memory"
	queuememory "github.com/crashlens/leadcrawler/internal/queue/memory"
	storememory "github.com/crashlens/leadcrawler/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type runResult struct {
	stats leads.CrawlStats
	err   error
}

type fakeRunner struct {
	results  []runResult
	attempts int
	// block makes every run wait for ctx cancellation first.
	block bool
}

func (r *fakeRunner) Run(ctx context.Context, _ leads.CrawlRequest) (leads.CrawlStats, error) {
	r.attempts++
	if r.block {
		<-ctx.Done()
		return leads.CrawlStats{}, ctx.Err()
	}
	if r.attempts <= len(r.results) {
		res := r.results[r.attempts-1]
		return res.stats, res.err
	}
	return leads.CrawlStats{}, errors.New("no more results scripted")
}

type env struct {
	worker    *Worker
	taskStore *storememory.TaskStore
	publisher *pubmemory.Publisher
	runner    *fakeRunner
	delays    *[]time.Duration
}

func newEnv(t *testing.T, runner *fakeRunner, cfg Config) env {
	t.Helper()

	taskStore := storememory.NewTaskStore()
	publisher := pubmemory.New()
	w := New(queuememory.NewQueue(1), taskStore, publisher, system.New(), runner, cfg, nil)

	var delays []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return env{worker: w, taskStore: taskStore, publisher: publisher, runner: runner, delays: &delays}
}

func createTask(t *testing.T, store *storememory.TaskStore, id string) leads.TaskItem {
	t.Helper()
	require.NoError(t, store.CreateTask(context.Background(), leads.Task{
		ID:     id,
		Status: leads.TaskStatusPending,
	}))
	return leads.TaskItem{TaskID: id, Request: leads.CrawlRequest{Query: "coffee", Location: "Austin", MaxResults: 5}}
}

func TestProcessTask_Success(t *testing.T) {
	t.Parallel()

	stats := leads.CrawlStats{Candidates: 5, Inserted: 3, Updated: 2}
	e := newEnv(t, &fakeRunner{results: []runResult{{stats: stats}}}, Config{Topic: "crawl-events"})
	item := createTask(t, e.taskStore, "t1")

	e.worker.processTask(context.Background(), item)

	task, err := e.taskStore.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, leads.TaskStatusSuccess, task.Status)
	require.Equal(t, stats, task.Stats)
	require.Empty(t, task.ErrorText)
	require.Equal(t, 1, e.runner.attempts)
	require.Empty(t, *e.delays)

	msgs := e.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "crawl-events", msgs[0].Topic)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "t1", payload["task_id"])
	require.Equal(t, "success", payload["status"])
}

func TestProcessTask_RetriesWithExponentialDelays(t *testing.T) {
	t.Parallel()

	e := newEnv(t, &fakeRunner{results: []runResult{
		{err: leads.ErrBlocked},
		{err: leads.ErrBlocked},
		{stats: leads.CrawlStats{Candidates: 2}},
	}}, Config{MaxSessionRetries: 3, RetryBaseDelay: 5 * time.Second})
	item := createTask(t, e.taskStore, "t2")

	e.worker.processTask(context.Background(), item)

	task, err := e.taskStore.GetTask(context.Background(), "t2")
	require.NoError(t, err)
	require.Equal(t, leads.TaskStatusSuccess, task.Status)
	require.Equal(t, 3, e.runner.attempts)
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, *e.delays)
}

func TestProcessTask_ExhaustedRetriesFail(t *testing.T) {
	t.Parallel()

	e := newEnv(t, &fakeRunner{results: []runResult{
		{err: leads.ErrBlocked},
		{err: leads.ErrBlocked},
		{err: leads.ErrBlocked},
	}}, Config{Topic: "crawl-events", MaxSessionRetries: 3, RetryBaseDelay: time.Second})
	item := createTask(t, e.taskStore, "t3")

	e.worker.processTask(context.Background(), item)

	task, err := e.taskStore.GetTask(context.Background(), "t3")
	require.NoError(t, err)
	require.Equal(t, leads.TaskStatusFailure, task.Status)
	require.Contains(t, task.ErrorText, "blocked")
	require.Equal(t, 3, e.runner.attempts)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *e.delays)

	msgs := e.publisher.Messages()
	require.Len(t, msgs, 1)
	payload := msgs[0].Payload.(map[string]any)
	require.Equal(t, "failure", payload["status"])
}

func TestProcessTask_SessionBudgetStopsRetrying(t *testing.T) {
	t.Parallel()

	e := newEnv(t, &fakeRunner{block: true}, Config{
		SessionBudget:     20 * time.Millisecond,
		MaxSessionRetries: 3,
		RetryBaseDelay:    time.Second,
	})
	item := createTask(t, e.taskStore, "t4")

	e.worker.processTask(context.Background(), item)

	task, err := e.taskStore.GetTask(context.Background(), "t4")
	require.NoError(t, err)
	require.Equal(t, leads.TaskStatusFailure, task.Status)
	require.Contains(t, task.ErrorText, "session budget exhausted")
	require.Equal(t, 1, e.runner.attempts)
}

func TestRun_ConsumesQueueUntilCanceled(t *testing.T) {
	t.Parallel()

	taskStore := storememory.NewTaskStore()
	queue := queuememory.NewQueue(1)
	runner := &fakeRunner{results: []runResult{{stats: leads.CrawlStats{Candidates: 1}}}}
	w := New(queue, taskStore, pubmemory.New(), system.New(), runner, Config{}, nil)

	require.NoError(t, taskStore.CreateTask(context.Background(), leads.Task{ID: "t5"}))
	require.NoError(t, queue.Enqueue(context.Background(), leads.TaskItem{TaskID: "t5"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		task, err := taskStore.GetTask(context.Background(), "t5")
		return err == nil && task.Status == leads.TaskStatusSuccess
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
