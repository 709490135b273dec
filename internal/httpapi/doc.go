// Package httpapi exposes the scheduler over HTTP: the cron tick endpoint
// a host CMS can hit instead of running the in-process driver, and a small
// token-gated admin surface for entries, run history and the enable flag.
package httpapi
