// Package store persists the small amount of bridge state that must
// survive a restart: manual snapshots captured by the thermostat sync
// engine, learned request payload templates, and per-device throttling
// timestamps.
//
// All methods are safe for concurrent use; the underlying SQLite
// connection pool is limited to a single connection so writes serialize
// at the database layer.
package store
