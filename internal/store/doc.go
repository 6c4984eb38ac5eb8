// Package store defines the persistence contract for harvest run history.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store
