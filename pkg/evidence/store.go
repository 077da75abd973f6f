// Package evidence provides the per-episode SQLite evidence store: five
// log tables plus the prompt-injection registry, populated from a
// scenario seed and appended to as the attacker progresses. Rows are
// never updated or deleted within an episode.
package evidence

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations
var migrationsFS embed.FS

// LogTables is the set of defender-queryable tables.
var LogTables = map[string]bool{
	"email_logs":     true,
	"auth_logs":      true,
	"netflow":        true,
	"process_events": true,
	"alerts":         true,
}

// Store is a single episode's evidence database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (or reopens) the evidence database at path and applies
// embedded schema migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open evidence store: %w", err)
	}
	// A single connection keeps writes serialized; an episode is strictly
	// sequential so there is nothing to parallelize.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	// Close only the source; closing the instance would close the shared DB.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying connection for the replay cache when it is
// co-located with the evidence store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// IsReadOnlySelect reports whether sql is acceptable for query_logs:
// leading whitespace and mixed case are fine, anything that does not
// start with SELECT is not.
func IsReadOnlySelect(query string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(query)), "select")
}

// Query runs an arbitrary SELECT and returns rows as generic maps, the
// shape the defender receives in last_action_result.data.
func (s *Store) Query(query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FetchEmail returns the email row with the given ID, or nil.
func (s *Store) FetchEmail(scenarioID, emailID string) (map[string]any, error) {
	rows, err := s.Query(
		"SELECT * FROM email_logs WHERE scenario_id = ? AND email_id = ?",
		scenarioID, emailID,
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// FetchAlert returns the alert row with the given ID, or nil.
func (s *Store) FetchAlert(scenarioID, alertID string) (map[string]any, error) {
	rows, err := s.Query(
		"SELECT * FROM alerts WHERE scenario_id = ? AND alert_id = ?",
		scenarioID, alertID,
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// EmailIDsForStep lists email IDs emitted at a step.
func (s *Store) EmailIDsForStep(scenarioID string, step int) ([]string, error) {
	return s.idsForStep("SELECT email_id FROM email_logs WHERE scenario_id = ? AND step = ?", scenarioID, step)
}

// AlertIDsForStep lists alert IDs emitted at a step.
func (s *Store) AlertIDsForStep(scenarioID string, step int) ([]string, error) {
	return s.idsForStep("SELECT alert_id FROM alerts WHERE scenario_id = ? AND step = ?", scenarioID, step)
}

func (s *Store) idsForStep(query, scenarioID string, step int) ([]string, error) {
	rows, err := s.db.Query(query, scenarioID, step)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
