// Package history records the outcome of every link transfer.
//
// Backends:
//   - "memory": bounded in-process ring
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// A Recorder feeds a Store from the planner's event bus.
package history
