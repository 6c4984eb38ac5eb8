// Package sinks implements progress consumers: Prometheus collectors,
// structured logging, and run history persisted through a store.RunRepository.
package sinks
