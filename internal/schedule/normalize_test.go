package schedule

import (
	"errors"
	"testing"
	"time"
)

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }
func strp(v string) *string {
	return &v
}

func TestNewEntryRequiresNameAndActionKey(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	tests := []struct {
		name string
		in   Input
	}{
		{name: "missing name", in: Input{ActionKey: "http_ping"}},
		{name: "blank name", in: Input{Name: "   ", ActionKey: "http_ping"}},
		{name: "missing action", in: Input{Name: "ping"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewEntry(OwnerCore, "", tt.in, now); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
	if _, err := NewEntry(OwnerType("module"), "x", Input{Name: "a", ActionKey: "b"}, now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown owner type accepted: %v", err)
	}
}

func TestNewEntryClampsAndDefaults(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	e, err := NewEntry(OwnerPlugin, "seo", Input{
		Name:               " nightly ",
		ActionKey:          "rebuild",
		RunEveryMinutes:    5000,
		MaxRetries:         intp(99),
		BackoffBaseSeconds: 1,
		Payload:            Payload{"a": 1.0},
	}, now)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	if e.Name != "nightly" {
		t.Fatalf("name not trimmed: %q", e.Name)
	}
	if e.RunEveryMinutes != 1440 || e.MaxRetries != 25 || e.BackoffBaseSeconds != 5 {
		t.Fatalf("clamps: every=%d retries=%d base=%d", e.RunEveryMinutes, e.MaxRetries, e.BackoffBaseSeconds)
	}
	if !e.Enabled || e.NextRunAt == nil || !e.NextRunAt.Equal(now) {
		t.Fatalf("defaults: enabled=%v next=%v", e.Enabled, e.NextRunAt)
	}

	e, err = NewEntry(OwnerCore, "", Input{Name: "a", ActionKey: "b", RunEveryMinutes: -4, MaxRetries: intp(-1)}, now)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	if e.RunEveryMinutes != 1 || e.MaxRetries != 0 || e.BackoffBaseSeconds != DefaultBackoffBaseSeconds {
		t.Fatalf("low clamps: every=%d retries=%d base=%d", e.RunEveryMinutes, e.MaxRetries, e.BackoffBaseSeconds)
	}
}

func TestApplyPatchKeepsOmittedFields(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	e, _ := NewEntry(OwnerCore, "", Input{Name: "a", ActionKey: "http_ping", RunEveryMinutes: 10}, now)
	out, err := ApplyPatch(*e, Patch{Name: strp("b")}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if out.Name != "b" || out.ActionKey != "http_ping" || out.RunEveryMinutes != 10 {
		t.Fatalf("unexpected patch result: %+v", out)
	}
	if _, err := ApplyPatch(*e, Patch{ActionKey: strp(" ")}, now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank action key accepted: %v", err)
	}
	if out, _ = ApplyPatch(*e, Patch{RunEveryMinutes: intp(0)}, now); out.RunEveryMinutes != 1 {
		t.Fatalf("patch not clamped: %d", out.RunEveryMinutes)
	}
}

func TestReEnableClearsQuarantine(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	dl := now.Add(-time.Hour)
	e := Entry{Name: "a", ActionKey: "b", Enabled: true, DeadLettered: true, DeadLetteredAt: &dl, RetryCount: 4, MaxRetries: 3}

	out, err := ApplyPatch(e, Patch{Enabled: boolp(true)}, now)
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if out.DeadLettered || out.DeadLetteredAt != nil || out.RetryCount != 0 {
		t.Fatalf("quarantine not cleared: %+v", out)
	}
	if out.NextRunAt == nil || !out.NextRunAt.Equal(now) {
		t.Fatalf("re-enabled entry should be due now, got %v", out.NextRunAt)
	}

	// Any other patch leaves the quarantine in place.
	out, _ = ApplyPatch(e, Patch{Name: strp("c")}, now)
	if !out.DeadLettered || out.NextRunAt != nil {
		t.Fatalf("non-enable patch lifted quarantine: %+v", out)
	}
}

func TestActorCanMutate(t *testing.T) {
	t.Parallel()
	e := &Entry{OwnerType: OwnerPlugin, OwnerID: "seo"}
	tests := []struct {
		actor Actor
		want  bool
	}{
		{Actor{Admin: true}, true},
		{Actor{OwnerType: OwnerPlugin, OwnerID: "seo"}, true},
		{Actor{OwnerType: OwnerPlugin, OwnerID: "other"}, false},
		{Actor{OwnerType: OwnerTheme, OwnerID: "seo"}, false},
	}
	for _, tt := range tests {
		if got := tt.actor.CanMutate(e); got != tt.want {
			t.Errorf("%+v.CanMutate = %v, want %v", tt.actor, got, tt.want)
		}
	}
	if (Actor{Admin: true}).CanMutate(nil) {
		t.Error("nil entry must not be mutable")
	}
}
