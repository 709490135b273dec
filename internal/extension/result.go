package extension

import (
	"strings"

	"pewcms/internal/schedule"
)

// Result is the structured shape a handler may return to report a status
// other than success.
type Result struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ResultOf interprets a handler's return value. A recognizable
// {status, error} shape with a valid status is honored verbatim; anything
// else counts as success.
func ResultOf(v any) schedule.Outcome {
	success := schedule.Outcome{Status: schedule.StatusSuccess}
	var status, msg string
	switch r := v.(type) {
	case Result:
		status, msg = r.Status, r.Error
	case *Result:
		if r == nil {
			return success
		}
		status, msg = r.Status, r.Error
	case map[string]any:
		s, ok := r["status"].(string)
		if !ok {
			return success
		}
		status = s
		if e, ok := r["error"].(string); ok {
			msg = e
		}
	default:
		return success
	}
	st, ok := schedule.ParseOutcomeStatus(strings.TrimSpace(status))
	if !ok {
		return success
	}
	return schedule.Outcome{Status: st, Error: msg}
}
