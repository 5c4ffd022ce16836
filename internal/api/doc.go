// Package api hosts the HTTP server, middleware, and REST handlers for the
// search index. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /search?q=&limit= for hybrid search plus backlinks of the top hit.
//   - GET /backlinks?url= for the pages linking to a URL.
//   - GET /runs and /runs/{run_id} for crawl run history via the
//     store.RunRepository interface.
package api
