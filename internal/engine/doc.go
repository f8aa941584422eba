// Package engine is the periodic job engine the planner delegates timing to.
//
// The engine only knows about opaque jobs: a callback plus a fixed interval.
// It is responsible for:
//   - registering and removing jobs
//   - computing next fire times (robfig/cron with sub-second interval schedules)
//   - the stopped/running/paused run-state and its legal transitions
//
// Start blocks its caller until Shutdown is requested from another goroutine.
package engine
