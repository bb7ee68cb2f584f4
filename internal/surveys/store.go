// Package surveys stores survey versions and resolves activity references to
// the latest published version.
package surveys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/database"
)

var (
	ErrSurveyNotFound = errors.New("survey not found")
	ErrSurveyExists   = errors.New("survey version already exists")
)

// Survey is one version of a survey. A version is identified by its
// CreatedOn timestamp.
type Survey struct {
	AppID      string    `json:"appId"`
	GUID       string    `json:"guid"`
	CreatedOn  time.Time `json:"createdOn"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	Published  bool      `json:"published"`
}

// Lookup finds the version an unpinned survey reference resolves to.
type Lookup interface {
	MostRecentPublishedVersion(ctx context.Context, appID, surveyGUID string) (*Survey, error)
}

// Store persists survey versions in SQLite.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a survey version. A zero CreatedOn is set to now.
func (s *Store) Create(ctx context.Context, survey *Survey) error {
	if survey.AppID == "" || survey.GUID == "" {
		return fmt.Errorf("survey requires appId and guid")
	}
	if survey.CreatedOn.IsZero() {
		survey.CreatedOn = time.Now().UTC().Truncate(time.Millisecond)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO surveys (app_id, guid, created_on, identifier, name, published)
		VALUES (?, ?, ?, ?, ?, ?)
	`, survey.AppID, survey.GUID, database.FormatTime(survey.CreatedOn), survey.Identifier, survey.Name, boolToInt(survey.Published))
	if err != nil {
		err = database.ClassifyError(err)
		if database.IsUniqueError(err) {
			return fmt.Errorf("%w: %s at %s", ErrSurveyExists, survey.GUID, database.FormatTime(survey.CreatedOn))
		}
		return fmt.Errorf("inserting survey: %w", err)
	}

	return nil
}

// Publish marks an existing version as published.
func (s *Store) Publish(ctx context.Context, appID, guid string, createdOn time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE surveys SET published = 1
		WHERE app_id = ? AND guid = ? AND created_on = ?
	`, appID, guid, database.FormatTime(createdOn))
	if err != nil {
		return fmt.Errorf("publishing survey: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s at %s", ErrSurveyNotFound, guid, database.FormatTime(createdOn))
	}
	return nil
}

// ListVersions returns every version of a survey, newest first.
func (s *Store) ListVersions(ctx context.Context, appID, guid string) ([]*Survey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_id, guid, created_on, identifier, name, published
		FROM surveys
		WHERE app_id = ? AND guid = ?
		ORDER BY created_on DESC
	`, appID, guid)
	if err != nil {
		return nil, fmt.Errorf("querying survey versions: %w", err)
	}
	defer rows.Close()

	return scanSurveys(rows)
}

// MostRecentPublishedVersion returns the newest published version.
func (s *Store) MostRecentPublishedVersion(ctx context.Context, appID, surveyGUID string) (*Survey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_id, guid, created_on, identifier, name, published
		FROM surveys
		WHERE app_id = ? AND guid = ? AND published = 1
		ORDER BY created_on DESC
		LIMIT 1
	`, appID, surveyGUID)
	if err != nil {
		return nil, fmt.Errorf("querying published survey: %w", err)
	}
	defer rows.Close()

	surveys, err := scanSurveys(rows)
	if err != nil {
		return nil, err
	}
	if len(surveys) == 0 {
		return nil, fmt.Errorf("%w: no published version of %s", ErrSurveyNotFound, surveyGUID)
	}
	return surveys[0], nil
}

func scanSurveys(rows *sql.Rows) ([]*Survey, error) {
	var surveys []*Survey

	for rows.Next() {
		var survey Survey
		var createdOn string
		var published int

		if err := rows.Scan(&survey.AppID, &survey.GUID, &createdOn, &survey.Identifier, &survey.Name, &published); err != nil {
			return nil, fmt.Errorf("scanning survey: %w", err)
		}

		t, err := database.ParseTime(createdOn)
		if err != nil {
			return nil, err
		}
		survey.CreatedOn = t
		survey.Published = published == 1

		surveys = append(surveys, &survey)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating surveys: %w", err)
	}

	return surveys, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
