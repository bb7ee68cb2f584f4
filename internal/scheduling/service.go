// Package scheduling is the entry point of the engine: it resolves plans,
// reconciles the result with persisted rows and writes back what is new.
package scheduling

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/config"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/metrics"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/plans"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/reconcile"
)

// PlanResolver generates the candidate occurrences of a participant.
type PlanResolver interface {
	Resolve(ctx context.Context, sc *models.ScheduleContext) (*plans.Resolution, error)
}

// ReferenceResolver pins survey versions into occurrences in place.
type ReferenceResolver interface {
	ResolveAll(ctx context.Context, appID string, occurrences []*models.ScheduledActivity) error
}

// Store persists occurrences.
type Store interface {
	GetOccurrences(ctx context.Context, healthCode string, activityGUIDs []string, from, to time.Time) ([]*models.ScheduledActivity, error)
	GetOccurrencesByGUID(ctx context.Context, healthCode string, guids []string) (map[string]*models.ScheduledActivity, error)
	UpsertBatch(ctx context.Context, healthCode string, rows []*models.ScheduledActivity) error
	DeleteAllForOwner(ctx context.Context, healthCode string) error
}

// Notifier receives the side-channel events of the engine.
type Notifier interface {
	PublishRetrieved(ctx context.Context, appID, healthCode string, at time.Time) error
	PublishFinished(ctx context.Context, activity *models.ScheduledActivity) error
}

type Service struct {
	plans    PlanResolver
	refs     ReferenceResolver
	store    Store
	notifier Notifier
	cfg      config.SchedulingConfig
	validate *validator.Validate
}

func NewService(plans PlanResolver, refs ReferenceResolver, store Store, notifier Notifier, cfg *config.SchedulingConfig) *Service {
	return &Service{
		plans:    plans,
		refs:     refs,
		store:    store,
		notifier: notifier,
		cfg:      *cfg,
		validate: validator.New(),
	}
}

// GetCurrent returns the participant's actionable occurrences in the window.
func (s *Service) GetCurrent(ctx context.Context, sc *models.ScheduleContext) ([]*models.ScheduledActivity, error) {
	return s.get(ctx, sc, reconcile.ViewCurrent)
}

// GetHistory returns every occurrence in the window, including finished and
// expired ones and persisted rows no plan generates anymore.
func (s *Service) GetHistory(ctx context.Context, sc *models.ScheduleContext) ([]*models.ScheduledActivity, error) {
	return s.get(ctx, sc, reconcile.ViewHistory)
}

func (s *Service) get(ctx context.Context, sc *models.ScheduleContext, view reconcile.View) ([]*models.ScheduledActivity, error) {
	start := time.Now()

	activities, persisted, err := s.schedule(ctx, sc, view)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordScheduleRequest(string(view), status, time.Since(start))
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("health_code", sc.HealthCode).
		Str("view", string(view)).
		Int("activities", len(activities)).
		Int("to_persist", persisted).
		Dur("duration", time.Since(start)).
		Msg("Scheduled activities")

	return activities, nil
}

func (s *Service) schedule(ctx context.Context, sc *models.ScheduleContext, view reconcile.View) ([]*models.ScheduledActivity, int, error) {
	if err := s.validateContext(sc); err != nil {
		return nil, 0, err
	}
	if sc.Now.IsZero() {
		withNow := *sc
		withNow.Now = time.Now().UTC()
		sc = &withNow
	}

	resolution, err := s.plans.Resolve(ctx, sc)
	if err != nil {
		return nil, 0, err
	}
	generated := resolution.Occurrences

	if err := s.refs.ResolveAll(ctx, sc.AppID, generated); err != nil {
		return nil, 0, err
	}

	// History also reports rows of activities no plan selects anymore.
	activityGUIDs := resolution.ActivityGUIDs
	if view == reconcile.ViewHistory {
		activityGUIDs = nil
	} else if activityGUIDs == nil {
		activityGUIDs = []string{}
	}

	from, to := lookupWindow(sc, generated)
	persisted, err := s.store.GetOccurrences(ctx, sc.HealthCode, activityGUIDs, from, to)
	if err != nil {
		return nil, 0, fmt.Errorf("loading scheduled activities: %w", err)
	}

	res := reconcile.Reconcile(generated, persisted, reconcile.Options{
		View:           view,
		Now:            sc.Now,
		ActionableOnly: sc.ActionableOnly,
		StartsOn:       sc.StartsOn,
		EndsOn:         sc.EndsOn,
	})

	if writes := res.Writes(); len(writes) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, 0, fmt.Errorf("skipping persistence of %d activities: %w", len(writes), err)
		}
		if err := s.store.UpsertBatch(ctx, sc.HealthCode, writes); err != nil {
			return nil, 0, fmt.Errorf("persisting scheduled activities: %w", err)
		}
	}
	metrics.RecordOccurrences(string(view), len(generated), len(res.ToPersist))

	if err := s.notifier.PublishRetrieved(ctx, sc.AppID, sc.HealthCode, sc.Now); err != nil {
		log.Warn().
			Err(err).
			Str("health_code", sc.HealthCode).
			Msg("Failed to publish activities retrieved event")
	}

	return res.Activities, len(res.ToPersist), nil
}

func (s *Service) validateContext(sc *models.ScheduleContext) error {
	if sc == nil {
		return fmt.Errorf("%w: context is required", ErrInvalidContext)
	}
	if err := s.validate.Struct(sc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidContext, err)
	}
	if s.cfg.MaxMinimumPerSchedule > 0 && sc.MinimumPerSchedule > s.cfg.MaxMinimumPerSchedule {
		return fmt.Errorf("%w: minimum per schedule %d exceeds %d", ErrInvalidContext, sc.MinimumPerSchedule, s.cfg.MaxMinimumPerSchedule)
	}

	if sc.StartsOn.IsZero() || sc.EndsOn.IsZero() {
		return fmt.Errorf("%w: startsOn and endsOn are required", ErrInvalidWindow)
	}
	if !sc.EndsOn.After(sc.StartsOn) {
		return fmt.Errorf("%w: endsOn must be after startsOn", ErrInvalidWindow)
	}
	if s.cfg.MaxWindow > 0 && sc.EndsOn.Sub(sc.StartsOn) > s.cfg.MaxWindow {
		return fmt.Errorf("%w: window exceeds %s", ErrInvalidWindow, s.cfg.MaxWindow)
	}
	return nil
}

// lookupWindow covers the request window and every generated occurrence,
// which may fall outside it (persistent rows, minimum per schedule).
func lookupWindow(sc *models.ScheduleContext, generated []*models.ScheduledActivity) (time.Time, time.Time) {
	from, to := sc.StartsOn, sc.EndsOn
	for _, sa := range generated {
		scheduledOn := sa.ScheduledOn()
		if scheduledOn.Before(from) {
			from = scheduledOn
		}
		if end := scheduledOn.Add(time.Millisecond); end.After(to) {
			to = end
		}
	}
	return from, to
}

// UpdateBatch merges client-reported timestamps and client data onto the
// owner's persisted rows. The batch is validated as a whole and written in
// one call; nothing is applied when any entry is rejected.
func (s *Service) UpdateBatch(ctx context.Context, healthCode string, updates []*models.ScheduledActivity) error {
	err := s.updateBatch(ctx, healthCode, updates)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordUpdateBatch(status, len(updates))
	return err
}

func (s *Service) updateBatch(ctx context.Context, healthCode string, updates []*models.ScheduledActivity) error {
	if healthCode == "" {
		return fmt.Errorf("%w: health code is required", ErrInvalidContext)
	}
	if len(updates) == 0 {
		return nil
	}

	guids := make([]string, 0, len(updates))
	clientDataBytes := 0
	for i, u := range updates {
		if u == nil {
			return fmt.Errorf("%w: entry %d is null", ErrInvalidBatch, i)
		}
		if u.GUID == "" {
			return fmt.Errorf("%w: entry %d has no guid", ErrInvalidBatch, i)
		}
		if u.StartedOn != nil && u.FinishedOn != nil && u.FinishedOn.Before(*u.StartedOn) {
			return fmt.Errorf("%w: %s finished before it started", ErrInvalidBatch, u.GUID)
		}
		clientDataBytes += len(u.ClientData)
		guids = append(guids, u.GUID)
	}
	if s.cfg.MaxClientDataBytes > 0 && clientDataBytes > s.cfg.MaxClientDataBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrClientDataTooLarge, clientDataBytes, s.cfg.MaxClientDataBytes)
	}

	persisted, err := s.store.GetOccurrencesByGUID(ctx, healthCode, guids)
	if err != nil {
		return fmt.Errorf("loading scheduled activities: %w", err)
	}

	merged := make(map[string]*models.ScheduledActivity, len(updates))
	var order []string
	for _, u := range updates {
		row, ok := merged[u.GUID]
		if !ok {
			p, found := persisted[u.GUID]
			if !found {
				return fmt.Errorf("%w: %s", ErrNotFound, u.GUID)
			}
			row = p.Clone()
			merged[u.GUID] = row
			order = append(order, u.GUID)
		}

		if u.StartedOn != nil {
			started := *u.StartedOn
			row.StartedOn = &started
		}
		if u.FinishedOn != nil {
			finished := *u.FinishedOn
			row.FinishedOn = &finished
		}
		if u.ClientData != nil {
			row.ClientData = append(row.ClientData[:0:0], u.ClientData...)
		}

		if row.StartedOn != nil && row.FinishedOn != nil && row.FinishedOn.Before(*row.StartedOn) {
			return fmt.Errorf("%w: %s finished before it started", ErrInvalidBatch, u.GUID)
		}
	}

	rows := make([]*models.ScheduledActivity, 0, len(order))
	var finished []*models.ScheduledActivity
	for _, guid := range order {
		row := merged[guid]
		rows = append(rows, row)
		if persisted[guid].FinishedOn == nil && row.FinishedOn != nil {
			finished = append(finished, row)
		}
	}

	if err := s.store.UpsertBatch(ctx, healthCode, rows); err != nil {
		return fmt.Errorf("persisting scheduled activities: %w", err)
	}

	slices.SortStableFunc(finished, func(a, b *models.ScheduledActivity) int {
		if c := a.FinishedOn.Compare(*b.FinishedOn); c != 0 {
			return c
		}
		return strings.Compare(a.GUID, b.GUID)
	})
	for _, row := range finished {
		if err := s.notifier.PublishFinished(ctx, row); err != nil {
			log.Warn().
				Err(err).
				Str("health_code", healthCode).
				Str("guid", row.GUID).
				Msg("Failed to publish activity finished event")
		}
	}

	log.Info().
		Str("health_code", healthCode).
		Int("updated", len(rows)).
		Int("finished", len(finished)).
		Msg("Updated scheduled activities")

	return nil
}

// DeleteAllForOwner removes every persisted occurrence of healthCode.
func (s *Service) DeleteAllForOwner(ctx context.Context, healthCode string) error {
	if healthCode == "" {
		return fmt.Errorf("%w: health code is required", ErrInvalidContext)
	}
	if err := s.store.DeleteAllForOwner(ctx, healthCode); err != nil {
		return fmt.Errorf("deleting scheduled activities: %w", err)
	}
	return nil
}
