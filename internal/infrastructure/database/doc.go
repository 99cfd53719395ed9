// Package database provides SQLite connection management and schema
// migrations for the bridge's persistent store.
//
// The store holds data that must survive restarts: the manual-settings
// snapshot taken by HVAC sync, learned status-request payload templates,
// and the per-device timestamp set used by the polling governor. Writes go
// through a single connection because the hub loop is the only writer.
//
// Migrations are embedded via the migrations package and applied on
// startup, each in its own transaction.
package database
