// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls for crawl task submission.
//   - GET /v1/crawls/{task_id} for task status and counters.
//   - GET /v1/businesses for paging through collected records.
package api
