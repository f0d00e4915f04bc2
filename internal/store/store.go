// Package store is the shared SQLite store for plugin data. Protocol
// state is rebuilt on every connection; only plugin facts that should
// outlive a reconnect (or a restart) land here.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the plugin database. It is shared by every network;
// sqlite serialization happens on a single connection, so handlers on
// different supervisor goroutines can use it without extra locking.
type Store struct {
	db *sqlx.DB
}

// Sighting is the last observed activity of a nick on a network.
type Sighting struct {
	Network string    `db:"network"`
	Nick    string    `db:"nick"`
	Channel string    `db:"channel"`
	Action  string    `db:"action"`
	Detail  string    `db:"detail"`
	SeenAt  time.Time `db:"seen_at"`
}

// Open opens (creating if needed) the database at path and runs the
// migrations. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite works best with a single connection in WAL mode.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordSighting upserts the latest activity for (network, nick).
func (s *Store) RecordSighting(sighting Sighting) error {
	query := `
		INSERT INTO sightings (network, nick, channel, action, detail, seen_at)
		VALUES (:network, :nick, :channel, :action, :detail, :seen_at)
		ON CONFLICT (network, nick) DO UPDATE SET
			channel = excluded.channel,
			action = excluded.action,
			detail = excluded.detail,
			seen_at = excluded.seen_at`
	_, err := s.db.NamedExec(query, sighting)
	return err
}

// LastSighting returns the most recent sighting of nick on network, or
// nil when the nick was never seen. The lookup key is stored folded by
// the caller, so matching is as case-sensitive as the caller makes it.
func (s *Store) LastSighting(network, nick string) (*Sighting, error) {
	var sighting Sighting
	err := s.db.Get(&sighting,
		"SELECT network, nick, channel, action, detail, seen_at FROM sightings WHERE network = ? AND nick = ?",
		network, nick)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sighting, nil
}

func migrate(db *sqlx.DB) error {
	migrations := []string{
		createSightingsTable,
		createSightingsIndex,
	}
	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

const createSightingsTable = `
CREATE TABLE IF NOT EXISTS sightings (
	network TEXT NOT NULL,
	nick TEXT NOT NULL,
	channel TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	seen_at TIMESTAMP NOT NULL,
	PRIMARY KEY (network, nick)
)`

const createSightingsIndex = `
CREATE INDEX IF NOT EXISTS idx_sightings_seen_at ON sightings (seen_at)`
