package extension

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Handler runs one extension action. siteID is nil for global entries.
type Handler interface {
	Run(ctx context.Context, siteID *int64, payload map[string]any) (any, error)
}

// Validation is the result of a precondition check.
type Validation struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Validator is optionally implemented by handlers that gate their own runs.
type Validator interface {
	Validate(ctx context.Context, siteID *int64, payload map[string]any) Validation
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, siteID *int64, payload map[string]any) (any, error)

func (f HandlerFunc) Run(ctx context.Context, siteID *int64, payload map[string]any) (any, error) {
	return f(ctx, siteID, payload)
}

// Registry resolves handlers for non-core owners.
type Registry interface {
	Lookup(ownerID, actionKey string) (Handler, bool)
}

type handlerKey struct {
	owner  string
	action string
}

// MemoryRegistry is a concurrency-safe in-process Registry.
type MemoryRegistry struct {
	mu       sync.RWMutex
	handlers map[handlerKey]Handler
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{handlers: map[handlerKey]Handler{}}
}

// Register adds or replaces the handler for (ownerID, actionKey).
func (r *MemoryRegistry) Register(ownerID, actionKey string, h Handler) error {
	ownerID = strings.TrimSpace(ownerID)
	actionKey = strings.TrimSpace(actionKey)
	if ownerID == "" || actionKey == "" {
		return fmt.Errorf("extension: owner id and action key are required")
	}
	if h == nil {
		return fmt.Errorf("extension: nil handler for %s/%s", ownerID, actionKey)
	}
	r.mu.Lock()
	r.handlers[handlerKey{ownerID, actionKey}] = h
	r.mu.Unlock()
	return nil
}

// Unregister drops every handler of ownerID, e.g. when a plugin is disabled.
func (r *MemoryRegistry) Unregister(ownerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.handlers {
		if k.owner == ownerID {
			delete(r.handlers, k)
			n++
		}
	}
	return n
}

func (r *MemoryRegistry) Lookup(ownerID, actionKey string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	h, ok := r.handlers[handlerKey{ownerID, actionKey}]
	r.mu.RUnlock()
	return h, ok
}

// Keys lists registered "owner/action" pairs, sorted.
func (r *MemoryRegistry) Keys() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k.owner+"/"+k.action)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
