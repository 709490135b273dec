package app

import (
	"context"
	"errors"
	"strconv"

	"pewcms/internal/config"
	"pewcms/internal/dispatch"
	"pewcms/internal/eventbus"
	"pewcms/internal/extension"
	"pewcms/internal/scheduler"
	"pewcms/internal/storage"
	"pewcms/pkg/logx"
)

// Collaborators are the host CMS subsystems core actions operate on. Any of
// them may be nil; the matching actions then report skipped.
type Collaborators struct {
	Comms     dispatch.CommsQueue
	Callbacks dispatch.CallbackEvents
	Webhooks  dispatch.WebhookDeliveries
	Content   dispatch.ContentPublisher
}

// Core is the scheduling stack without the long-running surfaces (driver,
// HTTP, notifier). One-shot CLI commands use it directly.
type Core struct {
	Store      *storage.Store
	Bus        eventbus.Bus
	Extensions *extension.MemoryRegistry
	Dispatcher *dispatch.Dispatcher
	Scheduler  *scheduler.Service
}

// OpenCore opens storage (running migrations), seeds the enable flag on
// first use, and builds the dispatcher and scheduler service.
func OpenCore(ctx context.Context, cfg *config.Config, log logx.Logger, collab Collaborators) (*Core, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	st, err := storage.Open(ctx, mapStorage(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	seed := strconv.FormatBool(cfg.Scheduler.SchedulesEnabled())
	if err := st.EnsureDefault(ctx, storage.SettingSchedulesEnabled, seed); err != nil {
		_ = st.Close()
		return nil, err
	}

	reg := extension.NewMemoryRegistry()
	d := dispatch.New(dispatch.Options{
		Log:       log,
		Timeout:   mapActionTimeout(cfg),
		Sitemap:   mapSitemap(cfg),
		Registry:  reg,
		Settings:  st,
		Comms:     collab.Comms,
		Callbacks: collab.Callbacks,
		Webhooks:  collab.Webhooks,
		Content:   collab.Content,
	})
	bus := eventbus.New()
	svc := scheduler.New(mapScheduler(cfg), st, d, bus, log)

	return &Core{Store: st, Bus: bus, Extensions: reg, Dispatcher: d, Scheduler: svc}, nil
}

// Apply pushes the hot-reloadable parts of cfg into the running stack.
func (c *Core) Apply(cfg *config.Config) {
	c.Scheduler.Apply(mapScheduler(cfg))
	c.Dispatcher.SetTimeout(mapActionTimeout(cfg))
	c.Dispatcher.SetSitemap(mapSitemap(cfg))
}

func (c *Core) Close() error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close()
}
