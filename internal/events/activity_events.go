package events

import (
	"context"
	"fmt"
	"time"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/database"
)

// ActivityEventStore keeps the per-participant anchor timestamps that
// schedules are computed from.
type ActivityEventStore struct {
	db *database.DB
}

func NewActivityEventStore(db *database.DB) *ActivityEventStore {
	return &ActivityEventStore{db: db}
}

// Record stores the timestamp of eventID, replacing an earlier value.
func (s *ActivityEventStore) Record(ctx context.Context, healthCode, eventID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_events (health_code, event_id, timestamp)
		VALUES (?, ?, ?)
		ON CONFLICT(health_code, event_id) DO UPDATE SET timestamp = excluded.timestamp
	`, healthCode, eventID, database.FormatTime(at))
	if err != nil {
		return fmt.Errorf("recording activity event %s: %w", eventID, database.ClassifyError(err))
	}
	return nil
}

// RecordFirst stores the timestamp of eventID only if none is recorded yet.
func (s *ActivityEventStore) RecordFirst(ctx context.Context, healthCode, eventID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_events (health_code, event_id, timestamp)
		VALUES (?, ?, ?)
		ON CONFLICT(health_code, event_id) DO NOTHING
	`, healthCode, eventID, database.FormatTime(at))
	if err != nil {
		return fmt.Errorf("recording activity event %s: %w", eventID, database.ClassifyError(err))
	}
	return nil
}

// Get returns every recorded event of a participant.
func (s *ActivityEventStore) Get(ctx context.Context, healthCode string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, timestamp FROM activity_events WHERE health_code = ?
	`, healthCode)
	if err != nil {
		return nil, fmt.Errorf("querying activity events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id, ts string
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, fmt.Errorf("scanning activity event: %w", err)
		}
		t, err := database.ParseTime(ts)
		if err != nil {
			return nil, err
		}
		out[id] = t
	}

	return out, rows.Err()
}

// DeleteAll removes every recorded event of a participant.
func (s *ActivityEventStore) DeleteAll(ctx context.Context, healthCode string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM activity_events WHERE health_code = ?`, healthCode); err != nil {
		return fmt.Errorf("deleting activity events: %w", err)
	}
	return nil
}
