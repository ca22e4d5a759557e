// Package scheduler drives the agent's periodic loop. A cron timer and the
// operator API both publish triggers into a queue; the scheduler consumes
// them behind a single execution slot so at most one cycle runs at a time,
// dropping triggers that arrive while a cycle is in flight.
package scheduler
