package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crashlens/leadcrawler/internal/clock/system"
	"github.com/crashlens/leadcrawler/internal/config"
	"github.com/crashlens/leadcrawler/internal/dispatcher"
	"github.com/crashlens/leadcrawler/internal/id/uuid"
	"github.com/crashlens/leadcrawler/internal/leads"
	"github.com/crashlens/leadcrawler/internal/metrics"
	queuememory "github.com/crashlens/leadcrawler/internal/queue/memory"
	storememory "github.com/crashlens/leadcrawler/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func testConfig() config.Config {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

type testEnv struct {
	server        *Server
	taskStore     *storememory.TaskStore
	businessStore *storememory.BusinessStore
}

func newTestEnv(cfg config.Config) testEnv {
	taskStore := storememory.NewTaskStore()
	businessStore := storememory.NewBusinessStore()
	d := dispatcher.New(queuememory.NewQueue(8), nil)
	server := NewServer(taskStore, businessStore, d, uuid.NewUUIDGenerator(), system.New(), cfg, nil)
	return testEnv{server: server, taskStore: taskStore, businessStore: businessStore}
}

func postJSON(t *testing.T, handler http.Handler, path string, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitCrawlAcceptsAndStoresTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	rec := postJSON(t, env.server.Handler(), "/v1/crawls", `{"query":"coffee shops","location":"Austin, TX"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["task_id"])
	require.Equal(t, "pending", resp["status"])

	task, err := env.taskStore.GetTask(context.Background(), resp["task_id"])
	require.NoError(t, err)
	require.Equal(t, leads.TaskStatusPending, task.Status)
	require.Equal(t, "coffee shops", task.Request.Query)
	require.Equal(t, "Austin, TX", task.Request.Location)
	require.Equal(t, 20, task.Request.MaxResults, "max_results should default")
	require.True(t, task.Request.Headless, "headless should default from config")
}

func TestSubmitCrawlValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	handler := env.server.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"missing query", `{"location":"Austin"}`},
		{"blank query", `{"query":"   "}`},
		{"zero max_results", `{"query":"coffee","max_results":0}`},
		{"max_results above cap", `{"query":"coffee","max_results":1000}`},
		{"invalid json", `{"query":`},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := postJSON(t, handler, "/v1/crawls", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSubmitCrawlQueueFullReturnsServiceUnavailable(t *testing.T) {
	t.Parallel()

	taskStore := storememory.NewTaskStore()
	businessStore := storememory.NewBusinessStore()
	d := dispatcher.New(queuememory.NewQueue(0), nil)
	server := NewServer(taskStore, businessStore, d, uuid.NewUUIDGenerator(), system.New(), testConfig(), nil)

	rec := postJSON(t, server.Handler(), "/v1/crawls", `{"query":"coffee"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "full")
}

func TestGetCrawlNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	rec := get(env.server.Handler(), "/v1/crawls/missing-task")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCrawlReturnsTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	rec := postJSON(t, env.server.Handler(), "/v1/crawls", `{"query":"coffee"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = get(env.server.Handler(), "/v1/crawls/"+created["task_id"])
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Task leads.Task `json:"task"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, created["task_id"], resp.Task.ID)
	require.Equal(t, leads.TaskStatusPending, resp.Task.Status)
}

func TestListBusinessesPagingAndFilter(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	ctx := context.Background()

	records := []leads.BusinessRecord{
		{Name: "A", SourceURL: "u1", Phone: "+15125550001", Website: "https://a.example.com"},
		{Name: "B", SourceURL: "u2", Phone: "+15125550002"},
		{Name: "C", SourceURL: "u3"},
	}
	for _, rec := range records {
		_, err := env.businessStore.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	rec := get(env.server.Handler(), "/v1/businesses?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Businesses []leads.BusinessRecord `json:"businesses"`
		Limit      int                    `json:"limit"`
		Offset     int                    `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Businesses, 2)
	require.Equal(t, 2, page.Limit)

	rec = get(env.server.Handler(), "/v1/businesses?complete=true")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Businesses, 1)
	require.Equal(t, "A", page.Businesses[0].Name)

	rec = get(env.server.Handler(), "/v1/businesses?limit=0")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(env.server.Handler(), "/v1/businesses?offset=-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListBusinessesEmptyReturnsArray(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	rec := get(env.server.Handler(), "/v1/businesses")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"businesses":[]`)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(testConfig())
	require.Equal(t, http.StatusOK, get(env.server.Handler(), "/healthz").Code)
	require.Equal(t, http.StatusOK, get(env.server.Handler(), "/readyz").Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	env := newTestEnv(cfg)

	rec := get(env.server.Handler(), "/v1/businesses")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/businesses", nil)
	req.Header.Set("X-API-Key", "secret")
	authed := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(authed, req)
	require.Equal(t, http.StatusOK, authed.Code)
}
