// Package api hosts the HTTP job-submission surface. Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to queue one (url, referer, depth) job.
package api
