// Package sqlite persists earthquake events in a SQLite database.
//
// The (date, time, location) dedupe key is a UNIQUE constraint and inserts
// use INSERT OR IGNORE, so a reproduced key is discarded and never updates
// the existing row. Each batch runs in one transaction; the store holds a
// single connection, which serializes writers.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

const (
	insertQuery = `INSERT OR IGNORE INTO earthquakes (date, time, lat, lng, depth, mag, location)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	listQuery = `SELECT id, date, time, lat, lng, depth, mag, location, is_anomaly
		FROM earthquakes ORDER BY date DESC, time DESC, id DESC`
	countQuery  = `SELECT COUNT(*) FROM earthquakes`
	updateQuery = `UPDATE earthquakes SET is_anomaly = ? WHERE date = ? AND time = ? AND location = ?`
)

// Store handles event persistence.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func dsn(path string) string {
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertIfNew inserts every event whose dedupe key is absent and returns the
// number inserted. The batch is atomic.
func (s *Store) InsertIfNew(ctx context.Context, events []domain.Event) (int, error) {
	inserted, err := s.InsertNew(ctx, events)
	return len(inserted), err
}

// InsertNew is InsertIfNew returning the inserted events in input order.
func (s *Store) InsertNew(ctx context.Context, events []domain.Event) ([]domain.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "begin insert", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, insertQuery)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "prepare insert", Err: err}
	}
	defer stmt.Close()

	var inserted []domain.Event
	for _, e := range events {
		res, err := stmt.ExecContext(ctx, e.Date, e.Time, e.Lat, e.Lng, e.Depth, e.Mag, e.Location)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "insert event " + e.Key().String(), Err: err}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, &domain.PersistenceError{Op: "insert event " + e.Key().String(), Err: err}
		}
		if n > 0 {
			inserted = append(inserted, e)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &domain.PersistenceError{Op: "commit insert", Err: err}
	}
	return inserted, nil
}

// ListAll returns every stored event, newest first (date desc, time desc).
func (s *Store) ListAll(ctx context.Context) ([]domain.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, listQuery)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list events", Err: err}
	}
	defer rows.Close()

	events := []domain.StoredEvent{}
	for rows.Next() {
		var e domain.StoredEvent
		if err := rows.Scan(&e.ID, &e.Date, &e.Time, &e.Lat, &e.Lng, &e.Depth, &e.Mag, &e.Location, &e.IsAnomaly); err != nil {
			return nil, &domain.PersistenceError{Op: "scan event", Err: err}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "list events", Err: err}
	}
	return events, nil
}

// CountAll returns the number of stored events.
func (s *Store) CountAll(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, countQuery).Scan(&n); err != nil {
		return 0, &domain.PersistenceError{Op: "count events", Err: err}
	}
	return n, nil
}

// UpdateAnomalyFlag sets is_anomaly on the event with the given key.
// Updating a key that is not stored is not an error.
func (s *Store) UpdateAnomalyFlag(ctx context.Context, key domain.EventKey, anomaly bool) error {
	if _, err := s.db.ExecContext(ctx, updateQuery, anomaly, key.Date, key.Time, key.Location); err != nil {
		return &domain.PersistenceError{Op: "update anomaly flag", Err: err}
	}
	return nil
}

// UpdateAnomalyFlags applies several flag updates in one transaction.
func (s *Store) UpdateAnomalyFlags(ctx context.Context, flags map[domain.EventKey]bool) error {
	if len(flags) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.PersistenceError{Op: "begin flag update", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, updateQuery)
	if err != nil {
		return &domain.PersistenceError{Op: "prepare flag update", Err: err}
	}
	defer stmt.Close()

	for key, anomaly := range flags {
		if _, err := stmt.ExecContext(ctx, anomaly, key.Date, key.Time, key.Location); err != nil {
			return &domain.PersistenceError{Op: "update anomaly flag", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "commit flag update", Err: err}
	}
	return nil
}
