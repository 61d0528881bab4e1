// Package api hosts the control surface HTTP server, middleware, and REST
// handlers for operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes; readyz fails once every
//     worker has failed.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/search/pause, /resume and /toggle to flip the shared pause
//     signal.
//   - GET /v1/search/status for the fleet health snapshot.
//   - GET /v1/search/entities for stored entity counts when an inventory is
//     wired.
package api
