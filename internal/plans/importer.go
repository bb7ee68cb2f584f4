package plans

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/criteria"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/generator"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

// PlanFile is the YAML document accepted by Import.
type PlanFile struct {
	AppID string                 `yaml:"appId"`
	Plans []*models.SchedulePlan `yaml:"plans"`
}

// Importer loads plan files into the store after checking everything the
// generator and matcher would otherwise silently skip.
type Importer struct {
	store     *Store
	matcher   *criteria.Matcher
	generator *generator.Generator
	policy    *bluemonday.Policy
}

func NewImporter(store *Store, matcher *criteria.Matcher, gen *generator.Generator) *Importer {
	return &Importer{
		store:     store,
		matcher:   matcher,
		generator: gen,
		policy:    bluemonday.StrictPolicy(),
	}
}

// ParseFile reads a plan file.
func ParseFile(path string) (*PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	var file PlanFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing plan file %s: %w", path, err)
	}

	for _, plan := range file.Plans {
		if plan.AppID == "" {
			plan.AppID = file.AppID
		}
	}

	return &file, nil
}

// Import creates or updates every plan in file in one transaction. Nothing is
// written unless every plan passes Check and every save succeeds.
func (im *Importer) Import(ctx context.Context, file *PlanFile) ([]*models.SchedulePlan, error) {
	for i, plan := range file.Plans {
		im.sanitize(plan)
		if err := im.Check(plan); err != nil {
			return nil, fmt.Errorf("plans[%d]: %w", i, err)
		}
	}

	err := im.store.Transaction(ctx, func(tx *Store) error {
		for i, plan := range file.Plans {
			if err := save(ctx, tx, plan); err != nil {
				return fmt.Errorf("plans[%d]: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, plan := range file.Plans {
		log.Info().
			Str("app_id", plan.AppID).
			Str("schedule_plan_guid", plan.GUID).
			Int64("version", plan.Version).
			Msg("Imported schedule plan")
	}

	return file.Plans, nil
}

// Check validates the plan's structure, cron triggers and criteria
// expressions.
func (im *Importer) Check(plan *models.SchedulePlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	for _, schedule := range plan.Strategy.Schedules() {
		if schedule.CronTrigger == "" {
			continue
		}
		if err := im.generator.ValidateCron(schedule.CronTrigger); err != nil {
			return fmt.Errorf("%w: %w", models.ErrInvalidSchedule, err)
		}
	}

	for _, sc := range plan.Strategy.ScheduleCriteria {
		if sc.Criteria.Expression == "" {
			continue
		}
		if err := im.matcher.Compile(sc.Criteria.Expression); err != nil {
			return err
		}
	}

	return nil
}

func save(ctx context.Context, store *Store, plan *models.SchedulePlan) error {
	if plan.GUID == "" {
		return store.Create(ctx, plan)
	}

	existing, err := store.Get(ctx, plan.AppID, plan.GUID)
	if errors.Is(err, ErrPlanNotFound) {
		return store.Create(ctx, plan)
	}
	if err != nil {
		return err
	}

	plan.Version = existing.Version
	return store.Update(ctx, plan)
}

// sanitize strips markup from author-supplied labels.
func (im *Importer) sanitize(plan *models.SchedulePlan) {
	plan.Label = im.plainText(plan.Label)
	for _, schedule := range plan.Strategy.Schedules() {
		schedule.Label = im.plainText(schedule.Label)
		for i := range schedule.Activities {
			schedule.Activities[i].Label = im.plainText(schedule.Activities[i].Label)
			schedule.Activities[i].LabelDetail = im.plainText(schedule.Activities[i].LabelDetail)
		}
	}
}

// plainText removes tags and undoes the entity escaping the policy applies,
// since labels are stored as text rather than HTML.
func (im *Importer) plainText(s string) string {
	return html.UnescapeString(im.policy.Sanitize(s))
}
