// Package api hosts the optional status server of a harvest run. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the live run counters.
//   - GET /v1/runs/{run_id} for persisted run records via store.RunRepository.
package api
