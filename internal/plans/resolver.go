package plans

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/criteria"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/generator"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

// Lister loads the plans of an app.
type Lister interface {
	ListPlans(ctx context.Context, appID string) ([]*models.SchedulePlan, error)
}

// Resolution is the outcome of resolving every plan of an app for one
// participant.
type Resolution struct {
	// Occurrences in plan order, each plan's output ordered by the generator.
	Occurrences []*models.ScheduledActivity
	// ActivityGUIDs of every selected schedule, whether or not it produced
	// occurrences in the window.
	ActivityGUIDs []string
}

// Resolver selects one schedule per plan and generates its occurrences.
type Resolver struct {
	plans     Lister
	matcher   *criteria.Matcher
	generator *generator.Generator
}

func NewResolver(plans Lister, matcher *criteria.Matcher, gen *generator.Generator) *Resolver {
	return &Resolver{
		plans:     plans,
		matcher:   matcher,
		generator: gen,
	}
}

// Resolve generates the occurrences of every plan of sc.AppID.
func (r *Resolver) Resolve(ctx context.Context, sc *models.ScheduleContext) (*Resolution, error) {
	plans, err := r.plans.ListPlans(ctx, sc.AppID)
	if err != nil {
		return nil, fmt.Errorf("listing schedule plans: %w", err)
	}

	res := &Resolution{}
	seen := make(map[string]bool)
	for _, plan := range plans {
		schedule := r.SelectSchedule(plan, &sc.Criteria)
		if schedule == nil {
			continue
		}
		for _, activity := range schedule.Activities {
			if !seen[activity.GUID] {
				seen[activity.GUID] = true
				res.ActivityGUIDs = append(res.ActivityGUIDs, activity.GUID)
			}
		}
		res.Occurrences = append(res.Occurrences, r.generator.Generate(plan.GUID, schedule, sc)...)
	}

	log.Debug().
		Str("app_id", sc.AppID).
		Int("plans", len(plans)).
		Int("occurrences", len(res.Occurrences)).
		Msg("Resolved schedule plans")

	return res, nil
}

// SelectSchedule picks the schedule of plan that applies to cc, or nil.
// Criteria-gated schedules are tried in list order and the first match wins.
func (r *Resolver) SelectSchedule(plan *models.SchedulePlan, cc *models.CriteriaContext) *models.Schedule {
	switch plan.Strategy.Type {
	case models.StrategySimple:
		return plan.Strategy.Schedule
	case models.StrategyCriteria:
		for i := range plan.Strategy.ScheduleCriteria {
			sc := &plan.Strategy.ScheduleCriteria[i]
			if r.matcher.Matches(&sc.Criteria, cc) {
				return &sc.Schedule
			}
		}
		log.Debug().
			Str("schedule_plan_guid", plan.GUID).
			Msg("No schedule criteria matched")
		return nil
	default:
		log.Debug().
			Str("schedule_plan_guid", plan.GUID).
			Str("strategy", string(plan.Strategy.Type)).
			Msg("Unknown schedule strategy")
		return nil
	}
}
