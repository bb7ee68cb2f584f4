// Package plans stores schedule plans and resolves them into occurrences.
package plans

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/database"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

var (
	ErrPlanNotFound    = errors.New("schedule plan not found")
	ErrPlanExists      = errors.New("schedule plan already exists")
	ErrVersionConflict = errors.New("schedule plan version conflict")
)

// Store persists schedule plans in SQLite. The strategy is kept as JSON.
type Store struct {
	db *database.DB
	q  database.Querier
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db, q: db}
}

// Transaction runs fn with a store bound to one transaction. Every write fn
// makes through it is rolled back when fn fails.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.Transaction(ctx, func(tx *database.Tx) error {
		return fn(&Store{db: s.db, q: tx})
	})
}

// Create inserts a new plan at version 1, assigning a GUID when missing.
func (s *Store) Create(ctx context.Context, plan *models.SchedulePlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	if plan.GUID == "" {
		plan.GUID = uuid.New().String()
	}
	plan.Version = 1
	plan.ModifiedOn = time.Now().UTC().Truncate(time.Millisecond)

	strategy, err := json.Marshal(plan.Strategy)
	if err != nil {
		return fmt.Errorf("marshaling strategy: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO schedule_plans (app_id, guid, label, version, modified_on, strategy)
		VALUES (?, ?, ?, ?, ?, ?)
	`, plan.AppID, plan.GUID, plan.Label, plan.Version, database.FormatTime(plan.ModifiedOn), string(strategy))
	if err != nil {
		err = database.ClassifyError(err)
		if database.IsUniqueError(err) {
			return fmt.Errorf("%w: %s", ErrPlanExists, plan.GUID)
		}
		return fmt.Errorf("inserting schedule plan: %w", err)
	}

	return nil
}

// Update replaces a plan if its stored version still equals plan.Version, and
// bumps the version.
func (s *Store) Update(ctx context.Context, plan *models.SchedulePlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	strategy, err := json.Marshal(plan.Strategy)
	if err != nil {
		return fmt.Errorf("marshaling strategy: %w", err)
	}
	modifiedOn := time.Now().UTC().Truncate(time.Millisecond)

	result, err := s.q.ExecContext(ctx, `
		UPDATE schedule_plans
		SET label = ?, version = version + 1, modified_on = ?, strategy = ?
		WHERE app_id = ? AND guid = ? AND version = ?
	`, plan.Label, database.FormatTime(modifiedOn), string(strategy), plan.AppID, plan.GUID, plan.Version)
	if err != nil {
		return fmt.Errorf("updating schedule plan: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, plan.AppID, plan.GUID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s at version %d", ErrVersionConflict, plan.GUID, plan.Version)
	}

	plan.Version++
	plan.ModifiedOn = modifiedOn
	return nil
}

// Get returns one plan.
func (s *Store) Get(ctx context.Context, appID, guid string) (*models.SchedulePlan, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT app_id, guid, label, version, modified_on, strategy
		FROM schedule_plans
		WHERE app_id = ? AND guid = ?
	`, appID, guid)
	if err != nil {
		return nil, fmt.Errorf("querying schedule plan: %w", err)
	}
	defer rows.Close()

	plans, err := scanPlans(rows)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, guid)
	}
	return plans[0], nil
}

// ListPlans returns every plan of an app ordered by GUID.
func (s *Store) ListPlans(ctx context.Context, appID string) ([]*models.SchedulePlan, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT app_id, guid, label, version, modified_on, strategy
		FROM schedule_plans
		WHERE app_id = ?
		ORDER BY guid
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("querying schedule plans: %w", err)
	}
	defer rows.Close()

	return scanPlans(rows)
}

// Delete removes a plan. Occurrences already generated from it are kept.
func (s *Store) Delete(ctx context.Context, appID, guid string) error {
	result, err := s.q.ExecContext(ctx, `
		DELETE FROM schedule_plans WHERE app_id = ? AND guid = ?
	`, appID, guid)
	if err != nil {
		return fmt.Errorf("deleting schedule plan: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, guid)
	}
	return nil
}

func scanPlans(rows *sql.Rows) ([]*models.SchedulePlan, error) {
	var plans []*models.SchedulePlan

	for rows.Next() {
		var plan models.SchedulePlan
		var modifiedOn, strategy string

		if err := rows.Scan(&plan.AppID, &plan.GUID, &plan.Label, &plan.Version, &modifiedOn, &strategy); err != nil {
			return nil, fmt.Errorf("scanning schedule plan: %w", err)
		}

		t, err := database.ParseTime(modifiedOn)
		if err != nil {
			return nil, err
		}
		plan.ModifiedOn = t

		if err := json.Unmarshal([]byte(strategy), &plan.Strategy); err != nil {
			return nil, fmt.Errorf("unmarshaling strategy of plan %s: %w", plan.GUID, err)
		}

		plans = append(plans, &plan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedule plans: %w", err)
	}

	return plans, nil
}
