// Package extension is the registry of plugin and theme owned actions.
//
// Handlers are keyed by (owner id, action key). A handler may also implement
// Validator; a negative validation blocks the run without counting as a
// failure of the handler itself.
package extension
