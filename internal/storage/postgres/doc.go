// Package postgres provides Postgres-backed persistence: a catalog of saved
// views and the run ledger behind the status API.
package postgres
