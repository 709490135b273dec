package dispatch

import (
	"strings"

	"pewcms/internal/schedule"
)

// Target is where an entry's action lives. It is either CoreTarget or
// ExtensionTarget.
type Target interface {
	isTarget()
	String() string
}

type CoreTarget struct {
	Key string
}

type ExtensionTarget struct {
	OwnerID string
	Key     string
}

func (CoreTarget) isTarget()      {}
func (ExtensionTarget) isTarget() {}

func (t CoreTarget) String() string      { return "core:" + t.Key }
func (t ExtensionTarget) String() string { return t.OwnerID + ":" + t.Key }

// Resolve picks the target for e once, up front.
func Resolve(e *schedule.Entry) Target {
	key := strings.TrimSpace(e.ActionKey)
	if e.OwnerType == schedule.OwnerCore {
		return CoreTarget{Key: key}
	}
	return ExtensionTarget{OwnerID: e.OwnerID, Key: key}
}
