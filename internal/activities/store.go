// Package activities persists scheduled activity occurrences keyed by
// (health code, guid).
package activities

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/database"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

var ErrOccurrenceNotFound = errors.New("scheduled activity not found")

const selectColumns = `
	SELECT health_code, guid, schedule_plan_guid, activity, local_scheduled_on,
		local_expires_on, time_zone, started_on, finished_on, client_data, persistent
	FROM scheduled_activities`

// Store persists occurrences in SQLite.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// GetOccurrences returns the owner's rows scheduled in [from, to), ordered by
// scheduled instant then guid. A nil activityGUIDs selects every activity; an
// empty non-nil slice selects none.
func (s *Store) GetOccurrences(ctx context.Context, healthCode string, activityGUIDs []string, from, to time.Time) ([]*models.ScheduledActivity, error) {
	if activityGUIDs != nil && len(activityGUIDs) == 0 {
		return nil, nil
	}

	query := selectColumns + `
		WHERE health_code = ? AND scheduled_on >= ? AND scheduled_on < ?`
	args := []any{healthCode, database.FormatTime(from), database.FormatTime(to)}

	if activityGUIDs != nil {
		query += " AND activity_guid IN (" + placeholders(len(activityGUIDs)) + ")"
		for _, guid := range activityGUIDs {
			args = append(args, guid)
		}
	}
	query += " ORDER BY scheduled_on, guid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scheduled activities: %w", err)
	}
	defer rows.Close()

	return scanOccurrences(rows)
}

// GetOccurrence returns one row.
func (s *Store) GetOccurrence(ctx context.Context, healthCode, guid string) (*models.ScheduledActivity, error) {
	found, err := s.GetOccurrencesByGUID(ctx, healthCode, []string{guid})
	if err != nil {
		return nil, err
	}
	sa, ok := found[guid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOccurrenceNotFound, guid)
	}
	return sa, nil
}

// GetOccurrencesByGUID returns the owner's rows among guids, keyed by guid.
// Missing guids are absent from the map.
func (s *Store) GetOccurrencesByGUID(ctx context.Context, healthCode string, guids []string) (map[string]*models.ScheduledActivity, error) {
	found := make(map[string]*models.ScheduledActivity, len(guids))
	if len(guids) == 0 {
		return found, nil
	}

	args := make([]any, 0, len(guids)+1)
	args = append(args, healthCode)
	for _, guid := range guids {
		args = append(args, guid)
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE health_code = ? AND guid IN (`+placeholders(len(guids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scheduled activities: %w", err)
	}
	defer rows.Close()

	list, err := scanOccurrences(rows)
	if err != nil {
		return nil, err
	}
	for _, sa := range list {
		found[sa.GUID] = sa
	}
	return found, nil
}

// UpsertBatch writes rows in one transaction, inserting new guids and
// replacing existing ones. Every row is stored under healthCode.
func (s *Store) UpsertBatch(ctx context.Context, healthCode string, rows []*models.ScheduledActivity) error {
	if len(rows) == 0 {
		return nil
	}

	err := s.db.Transaction(ctx, func(tx *database.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO scheduled_activities (
				health_code, guid, activity_guid, schedule_plan_guid, activity,
				local_scheduled_on, local_expires_on, time_zone, scheduled_on,
				started_on, finished_on, client_data, persistent
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (health_code, guid) DO UPDATE SET
				activity_guid = excluded.activity_guid,
				schedule_plan_guid = excluded.schedule_plan_guid,
				activity = excluded.activity,
				local_scheduled_on = excluded.local_scheduled_on,
				local_expires_on = excluded.local_expires_on,
				time_zone = excluded.time_zone,
				scheduled_on = excluded.scheduled_on,
				started_on = excluded.started_on,
				finished_on = excluded.finished_on,
				client_data = excluded.client_data,
				persistent = excluded.persistent
		`)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()

		for _, sa := range rows {
			args, err := rowArgs(healthCode, sa)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("upserting scheduled activity %s: %w", sa.GUID, database.ClassifyError(err))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("health_code", healthCode).
		Int("rows", len(rows)).
		Msg("Upserted scheduled activities")

	return nil
}

// DeleteAllForOwner removes every row of healthCode.
func (s *Store) DeleteAllForOwner(ctx context.Context, healthCode string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM scheduled_activities WHERE health_code = ?
	`, healthCode)
	if err != nil {
		return fmt.Errorf("deleting scheduled activities: %w", err)
	}

	n, _ := result.RowsAffected()
	log.Info().
		Str("health_code", healthCode).
		Int64("deleted", n).
		Msg("Deleted scheduled activities")

	return nil
}

func rowArgs(healthCode string, sa *models.ScheduledActivity) ([]any, error) {
	activity, err := json.Marshal(sa.Activity)
	if err != nil {
		return nil, fmt.Errorf("marshaling activity of %s: %w", sa.GUID, err)
	}

	var expires *string
	if sa.LocalExpiresOn != nil {
		s := sa.LocalExpiresOn.String()
		expires = &s
	}

	var clientData *string
	if sa.HasClientData() {
		s := string(sa.ClientData)
		clientData = &s
	}

	persistent := 0
	if sa.Persistent {
		persistent = 1
	}

	return []any{
		healthCode,
		sa.GUID,
		sa.Activity.GUID,
		sa.SchedulePlanGUID,
		string(activity),
		sa.LocalScheduledOn.String(),
		expires,
		sa.Location().String(),
		database.FormatTime(sa.ScheduledOn()),
		database.FormatTimePtr(sa.StartedOn),
		database.FormatTimePtr(sa.FinishedOn),
		clientData,
		persistent,
	}, nil
}

func scanOccurrences(rows *sql.Rows) ([]*models.ScheduledActivity, error) {
	var out []*models.ScheduledActivity
	zones := make(map[string]*time.Location)

	for rows.Next() {
		var sa models.ScheduledActivity
		var activity, localScheduledOn, zone string
		var localExpiresOn, startedOn, finishedOn, clientData sql.NullString
		var persistent int

		if err := rows.Scan(
			&sa.HealthCode, &sa.GUID, &sa.SchedulePlanGUID, &activity, &localScheduledOn,
			&localExpiresOn, &zone, &startedOn, &finishedOn, &clientData, &persistent,
		); err != nil {
			return nil, fmt.Errorf("scanning scheduled activity: %w", err)
		}

		if err := json.Unmarshal([]byte(activity), &sa.Activity); err != nil {
			return nil, fmt.Errorf("unmarshaling activity of %s: %w", sa.GUID, err)
		}

		scheduled, err := models.ParseLocalDateTime(localScheduledOn)
		if err != nil {
			return nil, err
		}
		sa.LocalScheduledOn = scheduled

		if localExpiresOn.Valid {
			expires, err := models.ParseLocalDateTime(localExpiresOn.String)
			if err != nil {
				return nil, err
			}
			sa.LocalExpiresOn = &expires
		}

		loc, ok := zones[zone]
		if !ok {
			loc, err = time.LoadLocation(zone)
			if err != nil {
				return nil, fmt.Errorf("loading time zone of %s: %w", sa.GUID, err)
			}
			zones[zone] = loc
		}
		sa.TimeZone = loc

		if sa.StartedOn, err = database.ParseNullTime(startedOn); err != nil {
			return nil, err
		}
		if sa.FinishedOn, err = database.ParseNullTime(finishedOn); err != nil {
			return nil, err
		}
		if clientData.Valid {
			sa.ClientData = json.RawMessage(clientData.String)
		}
		sa.Persistent = persistent == 1

		out = append(out, &sa)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scheduled activities: %w", err)
	}

	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
