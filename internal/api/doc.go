// Package api hosts the HTTP server, middleware, and REST handlers for the
// scan service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scans to admit a scan and run it to a terminal status.
//   - GET /v1/scans/{scan_id} and /v1/scans/{scan_id}/agents for progress.
//   - GET /v1/rollups/{domain} for a domain's score history.
package api
