// Package storage persists device preferences and the party journal in
// a local SQLite database.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the device's SQLite database.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the database in the given directory.
func Open(configDir string) (*DB, error) {
	dbPath := filepath.Join(configDir, "party.db")

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create meta table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS parties (
			session_id TEXT PRIMARY KEY,
			host_name  TEXT NOT NULL,
			role       TEXT NOT NULL,
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			ended_at   DATETIME
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create parties table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS journal (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			ts         DATETIME DEFAULT CURRENT_TIMESTAMP,
			kind       TEXT NOT NULL,
			item_id    TEXT DEFAULT '',
			title      TEXT DEFAULT '',
			artist     TEXT DEFAULT '',
			member     TEXT DEFAULT '',
			detail     TEXT DEFAULT ''
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal table: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// GetMeta reads a device preference. Missing keys return "".
func (d *DB) GetMeta(key string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var value string
	err := d.db.QueryRow(`SELECT value FROM _meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta writes a device preference.
func (d *DB) SetMeta(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO _meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}

// PartyRecord is one hosted or joined party.
type PartyRecord struct {
	SessionID string
	HostName  string
	Role      string // host|guest
	StartedAt time.Time
	EndedAt   *time.Time
}

// RecordParty registers a party start. Re-joining the same session is an
// upsert, not a duplicate row.
func (d *DB) RecordParty(sessionID, hostName, role string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO parties (session_id, host_name, role) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET host_name = excluded.host_name, ended_at = NULL
	`, sessionID, hostName, role)
	if err != nil {
		return fmt.Errorf("record party %s: %w", sessionID, err)
	}
	return nil
}

// EndParty stamps the session's end time.
func (d *DB) EndParty(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`UPDATE parties SET ended_at = CURRENT_TIMESTAMP WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("end party %s: %w", sessionID, err)
	}
	return nil
}

// RecentParties returns the newest parties first.
func (d *DB) RecentParties(limit int) ([]PartyRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.Query(`
		SELECT session_id, host_name, role, started_at, ended_at
		FROM parties ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list parties: %w", err)
	}
	defer rows.Close()

	var out []PartyRecord
	for rows.Next() {
		var p PartyRecord
		var ended sql.NullTime
		if err := rows.Scan(&p.SessionID, &p.HostName, &p.Role, &p.StartedAt, &ended); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			p.EndedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// JournalEntry is one event in a party's history: tracks played, removed
// by vote, skipped, members joining.
type JournalEntry struct {
	SessionID string
	TS        time.Time
	Kind      string // played|removed|skipped|sent_to_end|promoted|joined|added
	ItemID    string
	Title     string
	Artist    string
	Member    string
	Detail    string
}

// AppendJournal records a party event.
func (d *DB) AppendJournal(e JournalEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO journal (session_id, kind, item_id, title, artist, member, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.SessionID, e.Kind, e.ItemID, e.Title, e.Artist, e.Member, e.Detail)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// JournalFor returns a session's events in insertion order.
func (d *DB) JournalFor(sessionID string) ([]JournalEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT session_id, ts, kind, item_id, title, artist, member, detail
		FROM journal WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.SessionID, &e.TS, &e.Kind, &e.ItemID, &e.Title, &e.Artist, &e.Member, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
