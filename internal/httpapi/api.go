package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pewcms/internal/runtime/supervisor"
	"pewcms/internal/schedule"
	"pewcms/internal/scheduler"
	"pewcms/pkg/logx"
)

// Scheduler is the subset of *scheduler.Service the API drives.
type Scheduler interface {
	RunDueSchedulesLocked(ctx context.Context) (scheduler.TickResult, error)
	RunScheduleEntryNow(ctx context.Context, id string) (scheduler.RunNowResult, error)

	Create(ctx context.Context, actor schedule.Actor, ownerType schedule.OwnerType, ownerID string, in schedule.Input) (*schedule.Entry, error)
	Get(ctx context.Context, id string) (*schedule.Entry, error)
	List(ctx context.Context, f schedule.Filter) ([]*schedule.Entry, error)
	Update(ctx context.Context, id string, p schedule.Patch, actor schedule.Actor) (*schedule.Entry, error)
	Delete(ctx context.Context, id string, actor schedule.Actor) error
	ListRuns(ctx context.Context, id string, limit int) ([]*schedule.RunRecord, error)

	Enabled(ctx context.Context) (bool, error)
	SetEnabled(ctx context.Context, on bool) error
}

// Pinger reports store liveness for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API holds the handler dependencies. Tasks may be nil.
type API struct {
	Sched Scheduler
	Store Pinger
	Tasks func() []supervisor.TaskStatus
	Log   logx.Logger
}

// Options are the per-listener router settings.
type Options struct {
	Token string
	Pprof bool
}

// Router builds the chi router. Everything except /healthz requires the
// token when one is configured.
func (a *API) Router(opt Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.health)

	r.Group(func(r chi.Router) {
		r.Use(tokenAuth(opt.Token))

		r.Post("/cron/tick", a.tick)

		r.Get("/schedules", a.listSchedules)
		r.Post("/schedules", a.createSchedule)
		r.Get("/schedules/{id}", a.getSchedule)
		r.Patch("/schedules/{id}", a.updateSchedule)
		r.Delete("/schedules/{id}", a.deleteSchedule)
		r.Get("/schedules/{id}/runs", a.listRuns)
		r.Post("/schedules/{id}/run", a.runNow)

		r.Get("/settings/enabled", a.getEnabled)
		r.Put("/settings/enabled", a.setEnabled)

		if opt.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

func (a *API) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []logx.Field{
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		}
		if status >= http.StatusInternalServerError {
			a.Log.Warn("http request", fields...)
			return
		}
		a.Log.Debug("http request", fields...)
	})
}
