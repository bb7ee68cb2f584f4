// Package participants keeps the enrollment record the CLI builds schedule
// contexts from.
package participants

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/database"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrParticipantExists   = errors.New("participant already enrolled")
)

type Participant struct {
	AppID      string
	HealthCode string
	UserID     string
	// TimeZone is the zone at enrollment.
	TimeZone   *time.Location
	DataGroups []string
	Substudies []string
	Languages  []string
	CreatedOn  time.Time
}

// ScheduleContext builds the scheduling input for a request over
// [startsOn, endsOn). events are the participant's recorded anchor events.
func (p *Participant) ScheduleContext(events map[string]time.Time, startsOn, endsOn, now time.Time) *models.ScheduleContext {
	return &models.ScheduleContext{
		AppID:            p.AppID,
		UserID:           p.UserID,
		HealthCode:       p.HealthCode,
		StartsOn:         startsOn,
		EndsOn:           endsOn,
		InitialTimeZone:  p.TimeZone,
		TimeZone:         p.TimeZone,
		Events:           events,
		AccountCreatedOn: p.CreatedOn,
		Criteria: models.CriteriaContext{
			DataGroups: p.DataGroups,
			Substudies: p.Substudies,
			Languages:  p.Languages,
		},
		Now: now,
	}
}

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Enroll records a new participant. A zero CreatedOn is set to now.
func (s *Store) Enroll(ctx context.Context, p *Participant) error {
	if p.AppID == "" || p.HealthCode == "" {
		return fmt.Errorf("participant requires appId and healthCode")
	}
	if p.TimeZone == nil {
		p.TimeZone = time.UTC
	}
	if p.CreatedOn.IsZero() {
		p.CreatedOn = time.Now().UTC().Truncate(time.Millisecond)
	}

	dataGroups, err := marshalList(p.DataGroups)
	if err != nil {
		return err
	}
	substudies, err := marshalList(p.Substudies)
	if err != nil {
		return err
	}
	languages, err := marshalList(p.Languages)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO participants (app_id, health_code, user_id, time_zone, data_groups, substudies, languages, created_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.AppID, p.HealthCode, p.UserID, p.TimeZone.String(), dataGroups, substudies, languages, database.FormatTime(p.CreatedOn))
	if err != nil {
		err = database.ClassifyError(err)
		if database.IsUniqueError(err) {
			return fmt.Errorf("%w: %s", ErrParticipantExists, p.HealthCode)
		}
		return fmt.Errorf("inserting participant: %w", err)
	}

	return nil
}

// Get returns a participant by health code.
func (s *Store) Get(ctx context.Context, healthCode string) (*Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_id, health_code, user_id, time_zone, data_groups, substudies, languages, created_on
		FROM participants
		WHERE health_code = ?
	`, healthCode)
	if err != nil {
		return nil, fmt.Errorf("querying participant: %w", err)
	}
	defer rows.Close()

	list, err := scanParticipants(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrParticipantNotFound, healthCode)
	}
	return list[0], nil
}

// List returns every participant of an app ordered by health code.
func (s *Store) List(ctx context.Context, appID string) ([]*Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_id, health_code, user_id, time_zone, data_groups, substudies, languages, created_on
		FROM participants
		WHERE app_id = ?
		ORDER BY health_code
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	return scanParticipants(rows)
}

// Delete removes a participant's enrollment record.
func (s *Store) Delete(ctx context.Context, healthCode string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM participants WHERE health_code = ?`, healthCode); err != nil {
		return fmt.Errorf("deleting participant: %w", err)
	}
	return nil
}

func scanParticipants(rows *sql.Rows) ([]*Participant, error) {
	var out []*Participant

	for rows.Next() {
		var p Participant
		var zone, dataGroups, substudies, languages, createdOn string

		if err := rows.Scan(&p.AppID, &p.HealthCode, &p.UserID, &zone, &dataGroups, &substudies, &languages, &createdOn); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}

		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("loading time zone of %s: %w", p.HealthCode, err)
		}
		p.TimeZone = loc

		if err := json.Unmarshal([]byte(dataGroups), &p.DataGroups); err != nil {
			return nil, fmt.Errorf("unmarshaling data groups: %w", err)
		}
		if err := json.Unmarshal([]byte(substudies), &p.Substudies); err != nil {
			return nil, fmt.Errorf("unmarshaling substudies: %w", err)
		}
		if err := json.Unmarshal([]byte(languages), &p.Languages); err != nil {
			return nil, fmt.Errorf("unmarshaling languages: %w", err)
		}

		if p.CreatedOn, err = database.ParseTime(createdOn); err != nil {
			return nil, err
		}

		out = append(out, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating participants: %w", err)
	}

	return out, nil
}

func marshalList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshaling list: %w", err)
	}
	return string(data), nil
}
