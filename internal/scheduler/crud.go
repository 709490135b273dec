package scheduler

import (
	"context"

	"pewcms/internal/schedule"
	logx "pewcms/pkg/logx"
)

// Create registers an entry owned by (ownerType, ownerID). Only
// administrators may create entries for another owner.
func (s *Service) Create(ctx context.Context, actor schedule.Actor, ownerType schedule.OwnerType, ownerID string, in schedule.Input) (*schedule.Entry, error) {
	if !actor.Admin && (actor.OwnerType != ownerType || actor.OwnerID != ownerID) {
		return nil, schedule.ErrNotAuthorized
	}
	e, err := s.store.CreateSchedule(ctx, ownerType, ownerID, in)
	if err != nil {
		return nil, err
	}
	s.log.Info("schedule created", logx.String("id", e.ID), logx.String("action", e.ActionKey), logx.Int("every_min", e.RunEveryMinutes))
	return e, nil
}

func (s *Service) Get(ctx context.Context, id string) (*schedule.Entry, error) {
	return s.store.GetSchedule(ctx, id)
}

func (s *Service) List(ctx context.Context, f schedule.Filter) ([]*schedule.Entry, error) {
	return s.store.ListSchedules(ctx, f)
}

func (s *Service) Update(ctx context.Context, id string, p schedule.Patch, actor schedule.Actor) (*schedule.Entry, error) {
	e, err := s.store.UpdateSchedule(ctx, id, p, actor)
	if err != nil {
		return nil, err
	}
	s.log.Info("schedule updated", logx.String("id", e.ID), logx.Bool("enabled", e.Enabled), logx.Bool("dead_lettered", e.DeadLettered))
	return e, nil
}

func (s *Service) Delete(ctx context.Context, id string, actor schedule.Actor) error {
	if err := s.store.DeleteSchedule(ctx, id, actor); err != nil {
		return err
	}
	s.log.Info("schedule deleted", logx.String("id", id))
	return nil
}

// ListRuns returns the newest audit rows of one entry. limit <= 0 uses a
// small default.
func (s *Service) ListRuns(ctx context.Context, id string, limit int) ([]*schedule.RunRecord, error) {
	if _, err := s.store.GetSchedule(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRunsListing
	}
	return s.store.ListRuns(ctx, id, limit)
}
