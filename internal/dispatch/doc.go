// Package dispatch routes a due schedule entry to its action.
//
// Core entries run one of a fixed table of in-process actions; plugin and
// theme entries resolve a handler from the extension registry. Whatever
// happens, Execute returns an Outcome: handler errors, panics and timeouts
// are all folded into StatusError.
package dispatch
