package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/activities"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/config"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/criteria"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/database"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/events"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/generator"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/participants"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/plans"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/scheduling"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/surveys"
)

// engine holds the scheduling service and the stores commands read
// participants and anchor events from.
type engine struct {
	bus          *events.EventBus
	service      *scheduling.Service
	participants *participants.Store
	events       *events.ActivityEventStore
	redis        *redis.Client
}

// newEngine wires the scheduling service over db. Survey lookups go through
// Redis when the cache is enabled and reachable.
func newEngine(ctx context.Context, cfg *config.Config, db *database.DB) (*engine, error) {
	matcher, err := criteria.NewMatcher()
	if err != nil {
		return nil, fmt.Errorf("creating criteria matcher: %w", err)
	}

	e := &engine{
		participants: participants.NewStore(db),
		events:       events.NewActivityEventStore(db),
	}

	e.bus = events.NewEventBus(db, eventBusConfig(cfg))
	events.NewRecorder(e.events).Register(e.bus)

	var lookup surveys.Lookup = surveys.NewStore(db)
	if cfg.Cache.Enabled {
		client, err := surveys.NewRedisClient(ctx, &cfg.Cache)
		if err != nil {
			log.Warn().Err(err).Msg("Survey cache unavailable, reading surveys from the database")
		} else {
			e.redis = client
			lookup = surveys.NewCachedLookup(lookup, client, cfg.Cache.TTL)
		}
	}

	e.service = scheduling.NewService(
		plans.NewResolver(plans.NewStore(db), matcher, generator.New()),
		surveys.NewResolver(lookup, cfg.Scheduling.ResolveConcurrency),
		activities.NewStore(db),
		events.NewNotifier(e.bus),
		&cfg.Scheduling,
	)

	return e, nil
}

// scheduleRequest is what a command knows about a schedule request before
// the participant is loaded.
type scheduleRequest struct {
	HealthCode     string
	StartsOn       string
	Days           int
	TimeZone       *time.Location
	AppName        string
	AppVersion     int
	Minimum        int
	ActionableOnly bool
	Now            time.Time
}

// scheduleContext loads the participant and their anchor events and builds
// the request's context. A missing start is midnight of the current day in
// the request zone.
func (e *engine) scheduleContext(ctx context.Context, req scheduleRequest) (*models.ScheduleContext, error) {
	p, err := e.participants.Get(ctx, req.HealthCode)
	if err != nil {
		return nil, err
	}

	recorded, err := e.events.Get(ctx, req.HealthCode)
	if err != nil {
		return nil, err
	}

	zone := p.TimeZone
	if req.TimeZone != nil {
		zone = req.TimeZone
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var startsOn time.Time
	if req.StartsOn == "" {
		local := now.In(zone)
		startsOn = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, zone)
	} else if startsOn, err = parseDateIn(req.StartsOn, zone); err != nil {
		return nil, err
	}

	sc := p.ScheduleContext(recorded, startsOn, startsOn.AddDate(0, 0, req.Days), now)
	sc.TimeZone = zone
	sc.MinimumPerSchedule = req.Minimum
	sc.ActionableOnly = req.ActionableOnly
	sc.Criteria.ClientInfo = models.ClientInfo{AppName: req.AppName, AppVersion: req.AppVersion}
	return sc, nil
}

// drain handles the events the last operation published so recorded anchor
// events are current when the command exits.
func (e *engine) drain(ctx context.Context) {
	if err := e.bus.ProcessPending(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to process pending events")
	}
}

func (e *engine) Close() {
	if e.redis != nil {
		e.redis.Close()
	}
}

func eventBusConfig(cfg *config.Config) *events.EventBusConfig {
	return &events.EventBusConfig{
		Retention:       cfg.Events.Retention,
		ProcessInterval: cfg.Events.ProcessInterval,
		BatchSize:       cfg.Events.BatchSize,
	}
}

// parseInstant accepts RFC 3339 timestamps and bare dates, which are read
// as UTC midnight.
func parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q: expected RFC 3339 or YYYY-MM-DD", s)
}

// parseDateIn reads a bare date as midnight in loc, or an RFC 3339 timestamp.
func parseDateIn(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	return parseInstant(s)
}

func parseZone(name string) (*time.Location, error) {
	if name == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", name, err)
	}
	return loc, nil
}
