// Package migrations applies the embedded SQL schema in version order.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var sqlFS embed.FS

const versionTable = "_bridgesched_versions"

// ErrChecksumMismatch means an applied migration file was edited afterwards.
var ErrChecksumMismatch = errors.New("applied migration has changed")

// Migration is one embedded schema file, named NNN_description.sql.
type Migration struct {
	ID        string
	Version   int
	Name      string
	Checksum  string
	Applied   bool
	AppliedAt time.Time

	statements []string
}

// AppliedMigration is a row of the version table.
type AppliedMigration struct {
	ID        string
	Checksum  string
	AppliedAt time.Time
}

// Run applies every pending migration, each in its own transaction, and
// refuses to continue when an applied file no longer matches its checksum.
func Run(ctx context.Context, db *sql.DB) error {
	migrations, err := Status(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Applied {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.ID, err)
		}
		log.Info().Str("migration", m.ID).Int("statements", len(m.statements)).Msg("Applied migration")
	}

	return nil
}

// Status lists the embedded migrations in version order, marking the ones
// already applied.
func Status(ctx context.Context, db *sql.DB) ([]*Migration, error) {
	applied, err := GetApplied(ctx, db)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]AppliedMigration, len(applied))
	for _, a := range applied {
		byID[a.ID] = a
	}

	migrations, err := load()
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}

	for _, m := range migrations {
		a, ok := byID[m.ID]
		if !ok {
			continue
		}
		// Rows written before checksums were tracked carry none.
		if a.Checksum != "" && a.Checksum != m.Checksum {
			return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, m.ID)
		}
		m.Applied = true
		m.AppliedAt = a.AppliedAt
	}

	return migrations, nil
}

// GetApplied returns the rows of the version table ordered by id.
func GetApplied(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+versionTable+` (
			id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("ensuring version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT id, checksum, applied_at FROM `+versionTable+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		var appliedAt string
		if err := rows.Scan(&a.ID, &a.Checksum, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration: %w", err)
		}
		if a.AppliedAt, err = time.Parse(time.RFC3339, appliedAt); err != nil {
			return nil, fmt.Errorf("parsing applied_at of %s: %w", a.ID, err)
		}
		out = append(out, a)
	}

	return out, rows.Err()
}

func load() ([]*Migration, error) {
	names, err := fs.Glob(sqlFS, "sql/*.sql")
	if err != nil {
		return nil, err
	}

	out := make([]*Migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(sqlFS, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		id := strings.TrimSuffix(path.Base(name), ".sql")
		prefix, label, ok := strings.Cut(id, "_")
		version, convErr := strconv.Atoi(prefix)
		if !ok || convErr != nil {
			return nil, fmt.Errorf("migration %s: name must be NNN_description.sql", id)
		}

		sum := sha256.Sum256(content)
		out = append(out, &Migration{
			ID:         id,
			Version:    version,
			Name:       label,
			Checksum:   hex.EncodeToString(sum[:]),
			statements: splitStatements(string(content)),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })

	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("migrations %s and %s share version %d", out[i-1].ID, out[i].ID, out[i].Version)
		}
	}

	return out, nil
}

func apply(ctx context.Context, db *sql.DB, m *Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", abbreviate(stmt, 80), err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO `+versionTable+` (id, checksum, applied_at) VALUES (?, ?, ?)
	`, m.ID, m.Checksum, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit()
}

// splitStatements drops "--" line comments and splits on semicolons outside
// quoted literals.
func splitStatements(content string) []string {
	var cleaned strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		cleaned.WriteString(line)
		cleaned.WriteByte('\n')
	}

	var out []string
	var current strings.Builder
	var quote rune

	for _, ch := range cleaned.String() {
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == ';':
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				out = append(out, stmt)
			}
			current.Reset()
			continue
		}
		current.WriteRune(ch)
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		out = append(out, stmt)
	}

	return out
}

func abbreviate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
