package dispatch

import (
	"context"
	"fmt"

	"pewcms/internal/schedule"
)

const settingPingSitemap = "schedules_ping_sitemap"

type coreFunc func(ctx context.Context, d *Dispatcher, siteID *int64, p Params) schedule.Outcome

type coreAction struct {
	schema Schema
	run    coreFunc
}

var coreActions = map[string]coreAction{
	"core.sitemap_ping": {
		schema: Schema{{Name: "sitemapUrl", Type: TypeString}},
		run:    runSitemapPing,
	},
	"core.http_ping": {
		schema: Schema{
			{Name: "url", Type: TypeString, Required: true},
			{Name: "method", Type: TypeString, Default: "GET"},
			{Name: "expectStatus", Type: TypeInt},
		},
		run: runHTTPPing,
	},
	"core.comms_retry": {
		schema: Schema{{Name: "limit", Type: TypeInt, Default: 20, Min: 1}},
		run:    runCommsRetry,
	},
	"core.comms_purge": {
		schema: Schema{{Name: "olderThanDays", Type: TypeInt, Default: 7, Min: 1}},
		run:    runCommsPurge,
	},
	"core.callbacks_purge": {
		schema: Schema{{Name: "olderThanDays", Type: TypeInt, Default: 7, Min: 1}},
		run:    runCallbacksPurge,
	},
	"core.webhooks_retry": {
		schema: Schema{{Name: "limit", Type: TypeInt, Default: 25, Min: 1}},
		run:    runWebhooksRetry,
	},
	"core.content_publish": {
		schema: Schema{{Name: "domainPostId", Type: TypeInt, Required: true, Min: 1}},
		run:    publishFunc(true),
	},
	"core.content_unpublish": {
		schema: Schema{{Name: "domainPostId", Type: TypeInt, Required: true, Min: 1}},
		run:    publishFunc(false),
	},
}

// coreAliases maps the short keys older entries were created with.
var coreAliases = map[string]string{
	"sitemap_ping":    "core.sitemap_ping",
	"http_ping":       "core.http_ping",
	"comms_retry":     "core.comms_retry",
	"comms_purge":     "core.comms_purge",
	"callbacks_purge": "core.callbacks_purge",
	"webhooks_retry":  "core.webhooks_retry",
	"publish":         "core.content_publish",
	"unpublish":       "core.content_unpublish",
}

func lookupCore(key string) (coreAction, string, bool) {
	if canonical, ok := coreAliases[key]; ok {
		key = canonical
	}
	a, ok := coreActions[key]
	return a, key, ok
}

// CoreKeys lists the canonical core action keys.
func CoreKeys() []string {
	out := make([]string, 0, len(coreActions))
	for k := range coreActions {
		out = append(out, k)
	}
	return out
}

func skipped(msg string) schedule.Outcome {
	return schedule.Outcome{Status: schedule.StatusSkipped, Error: msg}
}

func failed(err error) schedule.Outcome {
	return schedule.Outcome{Status: schedule.StatusError, Error: err.Error()}
}

func succeeded() schedule.Outcome {
	return schedule.Outcome{Status: schedule.StatusSuccess}
}

func runCommsRetry(ctx context.Context, d *Dispatcher, siteID *int64, p Params) schedule.Outcome {
	if d.comms == nil {
		return skipped("comms queue not available")
	}
	if _, err := d.comms.RetryFailed(ctx, siteID, p.Int("limit")); err != nil {
		return failed(fmt.Errorf("comms retry: %w", err))
	}
	return succeeded()
}

func runCommsPurge(ctx context.Context, d *Dispatcher, siteID *int64, p Params) schedule.Outcome {
	if d.comms == nil {
		return skipped("comms queue not available")
	}
	if _, err := d.comms.PurgeOlderThan(ctx, siteID, p.Int("olderThanDays")); err != nil {
		return failed(fmt.Errorf("comms purge: %w", err))
	}
	return succeeded()
}

func runCallbacksPurge(ctx context.Context, d *Dispatcher, siteID *int64, p Params) schedule.Outcome {
	if d.callbacks == nil {
		return skipped("callback events not available")
	}
	if _, err := d.callbacks.PurgeOlderThan(ctx, siteID, p.Int("olderThanDays")); err != nil {
		return failed(fmt.Errorf("callbacks purge: %w", err))
	}
	return succeeded()
}

func runWebhooksRetry(ctx context.Context, d *Dispatcher, siteID *int64, p Params) schedule.Outcome {
	if d.webhooks == nil {
		return skipped("webhook deliveries not available")
	}
	if _, err := d.webhooks.RetryFailed(ctx, siteID, p.Int("limit")); err != nil {
		return failed(fmt.Errorf("webhooks retry: %w", err))
	}
	return succeeded()
}

func publishFunc(published bool) coreFunc {
	return func(ctx context.Context, d *Dispatcher, siteID *int64, p Params) schedule.Outcome {
		if d.content == nil {
			return skipped("content publisher not available")
		}
		if err := d.content.SetPublished(ctx, siteID, int64(p.Int("domainPostId")), published); err != nil {
			return failed(fmt.Errorf("set published=%t: %w", published, err))
		}
		return succeeded()
	}
}
