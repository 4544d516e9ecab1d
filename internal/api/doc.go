// Package api hosts the optional status server of a link check run. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the live counters of the current run.
package api
