// Package planner schedules links on an engine and owns the lifecycle of the
// whole run.
//
// Run-state machine:
//
//	STOPPED --Start--> RUNNING --Pause--> PAUSED --Resume--> RUNNING
//	RUNNING|PAUSED --Shutdown--> STOPPED
//
// Start blocks its caller until Shutdown is called from another goroutine.
// A stopped planner may be started again.
//
// Every firing runs Transfer inside one failure boundary. A returned error and
// a panic are handled the same way: with catch-errors the failure is logged and
// the link keeps firing, otherwise the planner shuts itself down.
package planner
