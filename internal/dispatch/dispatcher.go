package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"pewcms/internal/extension"
	"pewcms/internal/schedule"
	logx "pewcms/pkg/logx"
)

const (
	DefaultActionTimeout = 30 * time.Second
	defaultHTTPTimeout   = 15 * time.Second
)

// SitemapConfig configures core.sitemap_ping.
type SitemapConfig struct {
	URL           string
	PingEndpoints []string
}

// Options wires the dispatcher. Nil collaborators make the actions that
// need them report skipped.
type Options struct {
	Log        logx.Logger
	Timeout    time.Duration
	HTTPClient *http.Client
	Sitemap    SitemapConfig

	Registry  extension.Registry
	Comms     CommsQueue
	Callbacks CallbackEvents
	Webhooks  WebhookDeliveries
	Content   ContentPublisher
	Settings  Settings
}

type Dispatcher struct {
	log    logx.Logger
	client *http.Client

	timeout atomic.Int64

	smu     sync.RWMutex
	sitemap SitemapConfig

	registry  extension.Registry
	comms     CommsQueue
	callbacks CallbackEvents
	webhooks  WebhookDeliveries
	content   ContentPublisher
	settings  Settings
}

func New(opt Options) *Dispatcher {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	client := opt.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	d := &Dispatcher{
		log:       log.With(logx.String("comp", "dispatch")),
		client:    client,
		sitemap:   opt.Sitemap,
		registry:  opt.Registry,
		comms:     opt.Comms,
		callbacks: opt.Callbacks,
		webhooks:  opt.Webhooks,
		content:   opt.Content,
		settings:  opt.Settings,
	}
	d.SetTimeout(opt.Timeout)
	return d
}

// SetTimeout changes the per-action deadline. Zero restores the default;
// a negative value disables it.
func (d *Dispatcher) SetTimeout(t time.Duration) {
	if t == 0 {
		t = DefaultActionTimeout
	}
	d.timeout.Store(int64(t))
}

func (d *Dispatcher) Timeout() time.Duration { return time.Duration(d.timeout.Load()) }

func (d *Dispatcher) SetSitemap(c SitemapConfig) {
	d.smu.Lock()
	d.sitemap = SitemapConfig{URL: c.URL, PingEndpoints: append([]string(nil), c.PingEndpoints...)}
	d.smu.Unlock()
}

func (d *Dispatcher) sitemapConfig() SitemapConfig {
	d.smu.RLock()
	defer d.smu.RUnlock()
	return d.sitemap
}

// Execute runs e's action and classifies the result. It returns once the
// action finishes or the per-action timeout expires, whichever comes first;
// a handler that ignores its context is abandoned, not waited on.
func (d *Dispatcher) Execute(ctx context.Context, e *schedule.Entry) schedule.Outcome {
	if e == nil {
		return schedule.Outcome{Status: schedule.StatusError, Error: "nil schedule entry"}
	}
	target := Resolve(e)
	timeout := d.Timeout()

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan schedule.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("action panic", logx.String("target", target.String()), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				done <- schedule.Outcome{Status: schedule.StatusError, Error: fmt.Sprintf("panic: %v", r)}
			}
		}()
		done <- d.run(runCtx, e, target)
	}()

	select {
	case out := <-done:
		return out
	case <-runCtx.Done():
		err := runCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			d.log.Warn("action timed out", logx.String("target", target.String()), logx.Duration("timeout", timeout))
			return schedule.Outcome{Status: schedule.StatusError, Error: fmt.Sprintf("action timed out after %s", timeout)}
		}
		return schedule.Outcome{Status: schedule.StatusError, Error: fmt.Sprintf("action cancelled: %v", ctx.Err())}
	}
}

func (d *Dispatcher) run(ctx context.Context, e *schedule.Entry, target Target) schedule.Outcome {
	payload := map[string]any(e.Payload.Clone())
	switch t := target.(type) {
	case CoreTarget:
		return d.runCore(ctx, e.SiteID, t, payload)
	case ExtensionTarget:
		return d.runExtension(ctx, e.SiteID, t, payload)
	}
	return skipped(fmt.Sprintf("unsupported target %s", target))
}

func (d *Dispatcher) runCore(ctx context.Context, siteID *int64, t CoreTarget, payload map[string]any) schedule.Outcome {
	action, key, ok := lookupCore(t.Key)
	if !ok {
		return skipped(fmt.Sprintf("unknown core action %q", t.Key))
	}
	params, err := action.schema.Validate(payload)
	if err != nil {
		return failed(err)
	}
	out := action.run(ctx, d, siteID, params)
	if out.Status == schedule.StatusError {
		d.log.Warn("core action failed", logx.String("action", key), logx.String("err", out.Error))
	}
	return out
}

func (d *Dispatcher) runExtension(ctx context.Context, siteID *int64, t ExtensionTarget, payload map[string]any) schedule.Outcome {
	if d.registry == nil {
		return skipped("extension registry not available")
	}
	h, ok := d.registry.Lookup(t.OwnerID, t.Key)
	if !ok || h == nil {
		return skipped(fmt.Sprintf("no handler registered for %s", t))
	}
	if v, ok := h.(extension.Validator); ok {
		res := v.Validate(ctx, siteID, payload)
		if !res.OK {
			msg := res.Error
			if msg == "" {
				msg = "validation failed"
			}
			return schedule.Outcome{Status: schedule.StatusBlocked, Error: msg}
		}
	}
	res, err := h.Run(ctx, siteID, payload)
	if err != nil {
		d.log.Warn("extension action failed", logx.String("target", t.String()), logx.Err(err))
		return failed(err)
	}
	return extension.ResultOf(res)
}
