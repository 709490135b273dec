// Package logx is the structured logger shared by every pewcms component.
//
// A Logger is a value type over zerolog. Loggers handed out by a Service follow
// its configuration, so a reload that changes level or outputs takes effect
// without re-wiring callers. Console lines are human formatted, the log file
// is JSON, and lines at or above the alert level can be forwarded to an
// AlertSink such as the Telegram notifier.
package logx
