// Package progress carries harvest progress events from the pipeline to
// observability sinks. The Hub buffers events on a background goroutine so
// the pipeline never blocks on a slow sink, and fans each batch out to
// Prometheus, structured logs, or the run table in Postgres.
package progress
