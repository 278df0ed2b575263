package subscription

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/zen-systems/enginegate/pkg/agent"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	agent      TEXT PRIMARY KEY,
	subscribed INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore persists subscription status in a SQLite database so toggles
// survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path and seeds
// every agent as subscribed.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open subscription db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create subscriptions table: %w", err)
	}

	now := time.Now().Unix()
	for _, id := range agent.All() {
		if _, err := db.Exec(
			`INSERT OR IGNORE INTO subscriptions (agent, subscribed, updated_at) VALUES (?, 1, ?)`,
			string(id), now,
		); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed subscription %s: %w", id, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// IsSubscribed reports the status of an agent. Read failures count as
// unsubscribed.
func (s *SQLiteStore) IsSubscribed(id agent.ID) bool {
	var subscribed bool
	err := s.db.QueryRow(`SELECT subscribed FROM subscriptions WHERE agent = ?`, string(id)).Scan(&subscribed)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[subscription] read %s: %v", id, err)
		}
		return false
	}
	return subscribed
}

// Set updates the status of an agent.
func (s *SQLiteStore) Set(id agent.ID, subscribed bool) error {
	if !id.Valid() {
		return ErrUnknownAgent
	}
	_, err := s.db.Exec(
		`INSERT INTO subscriptions (agent, subscribed, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(agent) DO UPDATE SET subscribed = excluded.subscribed, updated_at = excluded.updated_at`,
		string(id), subscribed, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", id, err)
	}
	return nil
}

// Snapshot returns every known agent's status. Agents missing from the
// database are reported with their default.
func (s *SQLiteStore) Snapshot() map[agent.ID]bool {
	out := Defaults()

	rows, err := s.db.Query(`SELECT agent, subscribed FROM subscriptions`)
	if err != nil {
		log.Printf("[subscription] snapshot: %v", err)
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var subscribed bool
		if err := rows.Scan(&name, &subscribed); err != nil {
			log.Printf("[subscription] scan: %v", err)
			continue
		}
		if id := agent.ID(name); id.Valid() {
			out[id] = subscribed
		}
	}
	if err := rows.Err(); err != nil {
		log.Printf("[subscription] snapshot: %v", err)
	}
	return out
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
