package replay

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS attacker_decisions (
    decision_id TEXT PRIMARY KEY,
    scenario_id TEXT NOT NULL,
    step INTEGER NOT NULL,
    attacker_state TEXT NOT NULL,
    agent_action_hash TEXT NOT NULL,
    attacker_context_hash TEXT NOT NULL DEFAULT 'none',
    decision_json TEXT NOT NULL,
    model TEXT NOT NULL,
    temperature REAL NOT NULL,
    created_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_attacker_cache
ON attacker_decisions (scenario_id, step, attacker_state, agent_action_hash, attacker_context_hash);
`

// Cache stores attacker decisions keyed by episode position. It may sit
// in its own file or share the evidence store's database.
type Cache struct {
	db     *sql.DB
	owned  bool
	nowUTC func() time.Time
}

// OpenCache opens (or creates) a standalone cache database at path.
func OpenCache(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	c := &Cache{db: db, owned: true, nowUTC: func() time.Time { return time.Now().UTC() }}
	if err := c.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// NewCacheOn wraps an existing database connection, typically the
// evidence store's, without taking ownership of it.
func NewCacheOn(db *sql.DB) (*Cache, error) {
	c := &Cache{db: db, nowUTC: func() time.Time { return time.Now().UTC() }}
	if err := c.ensureSchema(); err != nil {
		return nil, err
	}
	return c, nil
}

// Close closes the database if the cache owns it.
func (c *Cache) Close() error {
	if c.owned {
		return c.db.Close()
	}
	return nil
}

// ensureSchema creates the table if needed and upgrades pre-context
// databases in place, preserving their rows under the 'none' sentinel.
func (c *Cache) ensureSchema() error {
	var name string
	err := c.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'attacker_decisions'",
	).Scan(&name)
	if err == sql.ErrNoRows {
		if _, err := c.db.Exec(cacheSchema); err != nil {
			return fmt.Errorf("failed to create cache schema: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to inspect cache schema: %w", err)
	}

	hasContextHash, err := c.hasColumn("attacker_decisions", "attacker_context_hash")
	if err != nil {
		return err
	}
	if !hasContextHash {
		stmts := []string{
			"ALTER TABLE attacker_decisions ADD COLUMN attacker_context_hash TEXT NOT NULL DEFAULT 'none'",
			"DROP INDEX IF EXISTS idx_attacker_cache",
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_attacker_cache
             ON attacker_decisions (scenario_id, step, attacker_state, agent_action_hash, attacker_context_hash)`,
		}
		for _, stmt := range stmts {
			if _, err := c.db.Exec(stmt); err != nil {
				return fmt.Errorf("failed to upgrade cache schema: %w", err)
			}
		}
	}
	return nil
}

func (c *Cache) hasColumn(table, column string) (bool, error) {
	rows, err := c.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to read table info: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Get returns the cached decision for the key, or nil on a miss.
func (c *Cache) Get(scenarioID string, step int, attackerState, actionHash, contextHash string) (map[string]any, error) {
	var decisionJSON string
	err := c.db.QueryRow(`
		SELECT decision_json FROM attacker_decisions
		WHERE scenario_id = ? AND step = ? AND attacker_state = ?
		  AND agent_action_hash = ? AND attacker_context_hash = ?`,
		scenarioID, step, attackerState, actionHash, contextHash,
	).Scan(&decisionJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read replay cache: %w", err)
	}
	var decision map[string]any
	if err := json.Unmarshal([]byte(decisionJSON), &decision); err != nil {
		return nil, fmt.Errorf("failed to decode cached decision: %w", err)
	}
	return decision, nil
}

// Put records a decision for the key, replacing any previous entry, and
// stores model and temperature as provenance.
func (c *Cache) Put(
	scenarioID string, step int, attackerState, actionHash, contextHash string,
	decision map[string]any, model string, temperature float64,
) error {
	decisionJSON, err := CanonicalJSON(decision)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	now := c.nowUTC()
	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO attacker_decisions
		(decision_id, scenario_id, step, attacker_state, agent_action_hash, attacker_context_hash,
		 decision_json, model, temperature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fmt.Sprintf("%d", now.UnixMilli()),
		scenarioID, step, attackerState, actionHash, contextHash,
		decisionJSON, model, temperature,
		now.Format("2006-01-02T15:04:05Z"),
	)
	if err != nil {
		return fmt.Errorf("failed to write replay cache: %w", err)
	}
	return nil
}
