package schedule

import (
	"fmt"
	"strings"
	"time"
)

const (
	MinRunEveryMinutes = 1
	MaxRunEveryMinutes = 1440
	DefaultRunEvery    = 60

	MinMaxRetries     = 0
	MaxMaxRetries     = 25
	DefaultMaxRetries = 3

	MinBackoffBaseSeconds     = 5
	MaxBackoffBaseSeconds     = 3600
	DefaultBackoffBaseSeconds = 60
)

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ClampRunEvery(v int) int    { return clamp(v, MinRunEveryMinutes, MaxRunEveryMinutes) }
func ClampMaxRetries(v int) int  { return clamp(v, MinMaxRetries, MaxMaxRetries) }
func ClampBackoffBase(v int) int { return clamp(v, MinBackoffBaseSeconds, MaxBackoffBaseSeconds) }

// NewEntry validates in and builds a fresh entry owned by (ownerType, ownerID).
// The ID is left empty for the store to assign.
func NewEntry(ownerType OwnerType, ownerID string, in Input, now time.Time) (*Entry, error) {
	if !ownerType.Valid() {
		return nil, fmt.Errorf("%w: unknown owner type %q", ErrInvalidInput, ownerType)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	key := strings.TrimSpace(in.ActionKey)
	if key == "" {
		return nil, fmt.Errorf("%w: action key is required", ErrInvalidInput)
	}

	every := in.RunEveryMinutes
	if every == 0 {
		every = DefaultRunEvery
	}
	retries := DefaultMaxRetries
	if in.MaxRetries != nil {
		retries = *in.MaxRetries
	}
	base := in.BackoffBaseSeconds
	if base == 0 {
		base = DefaultBackoffBaseSeconds
	}
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	next := now
	if in.NextRunAt != nil {
		next = in.NextRunAt.UTC()
	}

	return &Entry{
		OwnerType:          ownerType,
		OwnerID:            strings.TrimSpace(ownerID),
		SiteID:             in.SiteID,
		Name:               name,
		ActionKey:          key,
		Payload:            in.Payload.Clone(),
		RunEveryMinutes:    ClampRunEvery(every),
		MaxRetries:         ClampMaxRetries(retries),
		BackoffBaseSeconds: ClampBackoffBase(base),
		Enabled:            enabled,
		NextRunAt:          &next,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// ApplyPatch returns a copy of e with p applied. Re-enabling a dead-lettered
// entry clears the quarantine and the failure streak; this is the only way
// out of the dead-letter state.
func ApplyPatch(e Entry, p Patch, now time.Time) (Entry, error) {
	out := e
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return e, fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		out.Name = name
	}
	if p.ActionKey != nil {
		key := strings.TrimSpace(*p.ActionKey)
		if key == "" {
			return e, fmt.Errorf("%w: action key is required", ErrInvalidInput)
		}
		out.ActionKey = key
	}
	if p.ClearSiteID {
		out.SiteID = nil
	} else if p.SiteID != nil {
		v := *p.SiteID
		out.SiteID = &v
	}
	if p.Payload != nil {
		out.Payload = p.Payload.Clone()
	}
	if p.RunEveryMinutes != nil {
		out.RunEveryMinutes = ClampRunEvery(*p.RunEveryMinutes)
	}
	if p.MaxRetries != nil {
		out.MaxRetries = ClampMaxRetries(*p.MaxRetries)
	}
	if p.BackoffBaseSeconds != nil {
		out.BackoffBaseSeconds = ClampBackoffBase(*p.BackoffBaseSeconds)
	}
	if p.NextRunAt != nil {
		t := p.NextRunAt.UTC()
		out.NextRunAt = &t
	}
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
		if *p.Enabled && e.DeadLettered {
			out.DeadLettered = false
			out.DeadLetteredAt = nil
			out.RetryCount = 0
			if out.NextRunAt == nil {
				t := now
				out.NextRunAt = &t
			}
		}
	}
	// A quarantined entry never carries a next run.
	if out.DeadLettered {
		out.NextRunAt = nil
	}
	out.UpdatedAt = now
	return out, nil
}
