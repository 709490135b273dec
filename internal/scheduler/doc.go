// Package scheduler runs due schedule entries.
//
// One tick selects the due set, dispatches each entry, reconciles the
// outcome into the entry's retry state, persists it, and appends an audit
// row. RunScheduleEntryNow shares that pipeline for operator-triggered runs.
// Driver fires ticks periodically; the tick lock is only taken by callers
// that ask for it (RunDueSchedulesLocked).
package scheduler
