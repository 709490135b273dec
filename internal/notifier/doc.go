// Package notifier delivers operator alerts to a Telegram chat.
//
// Alerts come from two places: dead-letter events published by the
// scheduler on the event bus, and error-level log lines forwarded by
// logx (Service implements logx.AlertSink). Delivery is asynchronous:
// a bounded queue feeds one worker that applies a rate limit, retries
// transient send failures and suppresses duplicates within a window.
package notifier
