package extension

import (
	"context"
	"testing"

	"pewcms/internal/schedule"
)

func TestMemoryRegistryLookup(t *testing.T) {
	t.Parallel()
	r := NewMemoryRegistry()
	h := HandlerFunc(func(context.Context, *int64, map[string]any) (any, error) { return nil, nil })
	if err := r.Register("seo", "ping", h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("", "ping", h); err == nil {
		t.Fatal("expected error for empty owner")
	}
	if err := r.Register("seo", "nil", nil); err == nil {
		t.Fatal("expected error for nil handler")
	}

	if _, ok := r.Lookup("seo", "ping"); !ok {
		t.Fatal("registered handler not found")
	}
	if _, ok := r.Lookup("forms", "ping"); ok {
		t.Fatal("lookup must be scoped by owner")
	}
	if got := r.Unregister("seo"); got != 1 {
		t.Fatalf("Unregister = %d, want 1", got)
	}
	if _, ok := r.Lookup("seo", "ping"); ok {
		t.Fatal("handler still present after Unregister")
	}

	var nilReg *MemoryRegistry
	if _, ok := nilReg.Lookup("seo", "ping"); ok {
		t.Fatal("nil registry must not resolve handlers")
	}
}

func TestResultOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		in     any
		status schedule.Status
		err    string
	}{
		{name: "nil", in: nil, status: schedule.StatusSuccess},
		{name: "string", in: "done", status: schedule.StatusSuccess},
		{name: "struct", in: Result{Status: "blocked", Error: "quota"}, status: schedule.StatusBlocked, err: "quota"},
		{name: "pointer", in: &Result{Status: "skipped"}, status: schedule.StatusSkipped},
		{name: "nil pointer", in: (*Result)(nil), status: schedule.StatusSuccess},
		{name: "map error", in: map[string]any{"status": "error", "error": "boom"}, status: schedule.StatusError, err: "boom"},
		{name: "map unknown status", in: map[string]any{"status": "weird"}, status: schedule.StatusSuccess},
		{name: "map dead letter is not honored", in: map[string]any{"status": "dead_letter"}, status: schedule.StatusSuccess},
		{name: "map without status", in: map[string]any{"count": 3}, status: schedule.StatusSuccess},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ResultOf(tt.in)
			if got.Status != tt.status || got.Error != tt.err {
				t.Fatalf("ResultOf(%v) = %+v, want %s %q", tt.in, got, tt.status, tt.err)
			}
		})
	}
}
