package leads

import (
	"context"
	"time"
)

// Store persists business records with at-most-one-document-per-identity
// semantics.
type Store interface {
	Upsert(ctx context.Context, record BusinessRecord) (UpsertOutcome, error)
	FindByIdentity(ctx context.Context, key string) (BusinessRecord, bool, error)
	List(ctx context.Context, limit, offset int) ([]BusinessRecord, error)
}

// TaskStore persists crawl task metadata.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	UpdateTask(ctx context.Context, taskID string, status TaskStatus, errText string, stats CrawlStats) error
	GetTask(ctx context.Context, taskID string) (Task, error)
}

// Browser drives one browsing session against the map-search provider.
// Implementations own the underlying browser process; Restart relaunches
// it with a different network egress and client identity.
type Browser interface {
	// OpenSearch navigates to the results page for query/location and
	// returns the rendered HTML once the page body is ready.
	OpenSearch(ctx context.Context, query, location string) (string, error)
	// ScrollResults performs one scroll iteration over the results feed
	// and returns the rendered HTML afterwards.
	ScrollResults(ctx context.Context) (string, error)
	// DetailHTML opens a fresh tab, navigates to url and returns the
	// rendered HTML. The tab is torn down on every exit path.
	DetailHTML(ctx context.Context, url string) (string, error)
	// Restart tears the browser down and relaunches it using the given
	// proxy ("" = direct connection) and user agent.
	Restart(ctx context.Context, proxy, userAgent string) error
	Close()
}

// Detector inspects a rendered page for anti-bot block indicators.
type Detector interface {
	Blocked(html string) bool
}

// Limiter produces randomized politeness waits and retry backoff waits.
type Limiter interface {
	Wait(ctx context.Context) error
	Backoff(ctx context.Context, attempt int) error
}

// Rotator hands out the next proxy and user agent round-robin.
type Rotator interface {
	NextProxy() string
	NextUserAgent() string
}

// Enricher runs the detail enrichment attempt loop for one candidate.
type Enricher interface {
	Enrich(ctx context.Context, record *BusinessRecord, stats *CrawlStats) AttemptOutcome
}

// Queue provides enqueue/dequeue semantics for crawl tasks. TryEnqueue
// never blocks; a full queue yields ErrQueueFull so submitters can push
// back instead of stalling.
type Queue interface {
	Enqueue(ctx context.Context, item TaskItem) error
	TryEnqueue(item TaskItem) error
	Dequeue(ctx context.Context) (TaskItem, error)
}

// Publisher pushes terminal task events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
