// Package schedule holds the schedule entry model and the pure state
// transitions applied to it: input normalization, patch application
// (including de-quarantine on re-enable) and retry/backoff reconciliation.
//
// Nothing in this package performs I/O.
package schedule
