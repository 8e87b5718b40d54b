// Package persistence mirrors the client's bounded turn history and a few
// metadata values into SQLite so a restarted client can show recent turns
// before the first snapshot arrives.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/shadowscale/internal/state"
)

// DefaultHistoryLimit bounds the rows kept in turn_history.
const DefaultHistoryLimit = state.DefaultHistorySize

// ErrNoMeta is returned by GetMeta for a key that was never saved.
var ErrNoMeta = errors.New("meta key not found")

// DB wraps a SQLite connection for history persistence.
type DB struct {
	conn  *sqlx.DB
	limit int
}

// Open opens or creates a SQLite database at the given path. limit bounds
// the stored history; limit <= 0 selects DefaultHistoryLimit.
func Open(path string, limit int) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	db := &DB{conn: conn, limit: limit}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turn_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn INTEGER NOT NULL,
		kind TEXT NOT NULL,
		tiles INTEGER NOT NULL,
		influencers INTEGER NOT NULL,
		trade_links INTEGER NOT NULL,
		culture_layers INTEGER NOT NULL,
		tensions INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		applied_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS client_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_turn_history_turn ON turn_history(turn);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveSummary appends one turn summary and trims the table to the newest
// limit rows.
func (db *DB) SaveSummary(s state.TurnSummary) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.NamedExec(`INSERT INTO turn_history
		(turn, kind, tiles, influencers, trade_links, culture_layers, tensions, skipped, applied_at)
		VALUES (:turn, :kind, :tiles, :influencers, :trade_links, :culture_layers, :tensions, :skipped, :applied_at)`,
		s)
	if err != nil {
		return fmt.Errorf("insert turn %d: %w", s.Turn, err)
	}

	_, err = tx.Exec(`DELETE FROM turn_history WHERE id NOT IN
		(SELECT id FROM turn_history ORDER BY id DESC LIMIT ?)`, db.limit)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}

	if _, err := tx.Exec("INSERT OR REPLACE INTO client_meta (key, value) VALUES ('last_turn', ?)",
		fmt.Sprintf("%d", s.Turn)); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadHistory returns the stored summaries, oldest first.
func (db *DB) LoadHistory() ([]state.TurnSummary, error) {
	var rows []state.TurnSummary
	err := db.conn.Select(&rows, `SELECT turn, kind, tiles, influencers, trade_links,
		culture_layers, tensions, skipped, applied_at
		FROM turn_history ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].AppliedAt = rows[i].AppliedAt.Local()
	}
	return rows, nil
}

// SaveMeta stores a key-value pair in client metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO client_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM client_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNoMeta, key)
	}
	return value, err
}

// Restore seeds store's history from the database and records the session
// start time.
func (db *DB) Restore(store *state.Store) error {
	rows, err := db.LoadHistory()
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	store.RestoreHistory(rows)
	if err := db.SaveMeta("session_started", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	slog.Info("history restored", "turns", len(rows))
	return nil
}
