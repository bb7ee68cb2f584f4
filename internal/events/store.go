package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/database"
)

// Store handles database operations for events.
type Store struct {
	db *database.DB
}

// NewStore creates a new event store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new event into the database.
func (s *Store) Create(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = StatusPending
	}
	if len(event.Payload) == 0 {
		event.Payload = json.RawMessage("null")
	}

	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	query := `
		INSERT INTO events (id, type, source, action, payload, metadata, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.Source,
		event.Action,
		string(event.Payload),
		string(metadataJSON),
		database.FormatTime(event.CreatedAt),
		event.Status,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	return nil
}

// GetPending retrieves pending events, oldest first.
func (s *Store) GetPending(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT id, type, source, action, payload, metadata, created_at, processed_at, status
		FROM events
		WHERE status = 'pending'
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// Get retrieves one event by id.
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, source, action, payload, metadata, created_at, processed_at, status
		FROM events
		WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	defer rows.Close()

	events, err := s.scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// UpdateStatus updates the status of an event.
func (s *Store) UpdateStatus(ctx context.Context, id string, status string) error {
	var processedAt *string
	if status == StatusCompleted || status == StatusFailed {
		t := database.Now()
		processedAt = &t
	}

	query := `
		UPDATE events
		SET status = ?, processed_at = ?
		WHERE id = ?
	`

	_, err := s.db.ExecContext(ctx, query, status, processedAt, id)
	if err != nil {
		return fmt.Errorf("updating event status: %w", err)
	}

	return nil
}

// DeleteOlderThan deletes processed events older than the given duration and
// returns how many were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, duration time.Duration) (int64, error) {
	cutoff := database.FormatTime(time.Now().Add(-duration))

	query := `
		DELETE FROM events
		WHERE created_at < ? AND status IN ('completed', 'failed')
	`

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old events: %w", err)
	}

	n, _ := result.RowsAffected()
	return n, nil
}

// scanEvents scans rows into Event structs.
func (s *Store) scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event

	for rows.Next() {
		var event Event
		var payloadJSON, metadataJSON, createdAt string
		var processedAt sql.NullString

		err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Source,
			&event.Action,
			&payloadJSON,
			&metadataJSON,
			&createdAt,
			&processedAt,
			&event.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}

		event.Payload = json.RawMessage(payloadJSON)

		if err := json.Unmarshal([]byte(metadataJSON), &event.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}

		if event.CreatedAt, err = database.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		if event.ProcessedAt, err = database.ParseNullTime(processedAt); err != nil {
			return nil, fmt.Errorf("parsing processed_at: %w", err)
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	return events, nil
}
