package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"pewcms/internal/runtime/supervisor"
	"pewcms/internal/schedule"
	"pewcms/pkg/logx"
)

const maxBodyBytes = 1 << 20

type createRequest struct {
	OwnerType schedule.OwnerType `json:"owner_type,omitempty"`
	OwnerID   string             `json:"owner_id,omitempty"`
	schedule.Input
}

type enabledBody struct {
	Enabled *bool `json:"enabled"`
}

type healthResponse struct {
	Status string                  `json:"status"`
	Store  string                  `json:"store"`
	Tasks  []supervisor.TaskStatus `json:"tasks,omitempty"`
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok"}
	code := http.StatusOK
	if a.Store != nil {
		if err := a.Store.Ping(r.Context()); err != nil {
			resp.Status, resp.Store = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if a.Tasks != nil {
		resp.Tasks = a.Tasks()
	}
	writeJSON(w, code, resp)
}

func (a *API) tick(w http.ResponseWriter, r *http.Request) {
	res, err := a.Sched.RunDueSchedulesLocked(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) listSchedules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := schedule.Filter{
		OwnerType: schedule.OwnerType(q.Get("owner_type")),
		OwnerID:   q.Get("owner_id"),
	}
	if raw := q.Get("include_disabled"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "include_disabled must be a boolean")
			return
		}
		f.IncludeDisabled = v
	}
	if f.OwnerType != "" && !f.OwnerType.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown owner_type %q", f.OwnerType))
		return
	}
	entries, err := a.Sched.List(r.Context(), f)
	if err != nil {
		a.fail(w, err)
		return
	}
	if entries == nil {
		entries = []*schedule.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": entries, "total": len(entries)})
}

func (a *API) createSchedule(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		a.fail(w, err)
		return
	}
	if req.OwnerType == "" {
		req.OwnerType, req.OwnerID = actor.OwnerType, actor.OwnerID
	}
	if !req.OwnerType.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown owner_type %q", req.OwnerType))
		return
	}
	e, err := a.Sched.Create(r.Context(), actor, req.OwnerType, req.OwnerID, req.Input)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) getSchedule(w http.ResponseWriter, r *http.Request) {
	e, err := a.Sched.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) updateSchedule(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	var p schedule.Patch
	if err := decodeBody(r, &p); err != nil {
		a.fail(w, err)
		return
	}
	e, err := a.Sched.Update(r.Context(), chi.URLParam(r, "id"), p, actor)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	if err := a.Sched.Delete(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := a.Sched.ListRuns(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	if runs == nil {
		runs = []*schedule.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// runNow executes one entry immediately. Only its owner or an administrator
// may trigger it.
func (a *API) runNow(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	e, err := a.Sched.Get(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	if !actor.CanMutate(e) {
		a.fail(w, schedule.ErrNotAuthorized)
		return
	}
	res, err := a.Sched.RunScheduleEntryNow(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) getEnabled(w http.ResponseWriter, r *http.Request) {
	on, err := a.Sched.Enabled(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": on})
}

func (a *API) setEnabled(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	if !actor.Admin {
		a.fail(w, schedule.ErrNotAuthorized)
		return
	}
	var body enabledBody
	if err := decodeBody(r, &body); err != nil {
		a.fail(w, err)
		return
	}
	if body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := a.Sched.SetEnabled(r.Context(), *body.Enabled); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *body.Enabled})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: body: %v", schedule.ErrInvalidInput, err)
	}
	return nil
}

// fail maps domain errors onto status codes. Anything unrecognized is a 500
// and gets logged.
func (a *API) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, schedule.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, schedule.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, schedule.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), schedule.ErrInvalidInput.Error()+": "))
	default:
		a.Log.Error("http handler failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
