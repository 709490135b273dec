package httpapi

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"pewcms/internal/schedule"
)

const (
	headerAdminToken = "X-Admin-Token"
	headerOwnerType  = "X-Actor-Owner-Type"
	headerOwnerID    = "X-Actor-Owner-Id"
	headerAdmin      = "X-Actor-Admin"
)

// tokenAuth accepts "Authorization: Bearer <token>" or X-Admin-Token.
// An empty token disables the check.
func tokenAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenEqual(requestToken(r), tok) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func requestToken(r *http.Request) string {
	if got := strings.TrimSpace(r.Header.Get(headerAdminToken)); got != "" {
		return got
	}
	const p = "Bearer "
	if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) {
		return strings.TrimSpace(strings.TrimPrefix(ah, p))
	}
	return ""
}

func tokenEqual(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// actorFrom reads the caller identity forwarded by the host CMS. A request
// without an owner type acts as the system administrator.
func actorFrom(r *http.Request) (schedule.Actor, error) {
	ot := strings.TrimSpace(r.Header.Get(headerOwnerType))
	if ot == "" {
		return schedule.SystemActor, nil
	}
	a := schedule.Actor{
		OwnerType: schedule.OwnerType(strings.ToLower(ot)),
		OwnerID:   strings.TrimSpace(r.Header.Get(headerOwnerID)),
	}
	if !a.OwnerType.Valid() {
		return schedule.Actor{}, fmt.Errorf("%w: unknown owner type %q", schedule.ErrInvalidInput, ot)
	}
	if raw := strings.TrimSpace(r.Header.Get(headerAdmin)); raw != "" {
		admin, err := strconv.ParseBool(raw)
		if err != nil {
			return schedule.Actor{}, fmt.Errorf("%w: %s must be a boolean", schedule.ErrInvalidInput, headerAdmin)
		}
		a.Admin = admin
	}
	return a, nil
}
