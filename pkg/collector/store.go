package collector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one stored humidity reading.
type Record struct {
	ID        int64     `json:"id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

const schema = `CREATE TABLE IF NOT EXISTS humidity_reading (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	value REAL NOT NULL,
	timestamp TEXT NOT NULL
)`

// timestampLayout is RFC 3339 in UTC with all nine fraction digits kept, so
// the text has a fixed width and sorts in time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists readings in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// OpenStore opens (creating if needed) the database file and its table.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite allows one writer; the subscriber and API share the handle
	db.SetMaxOpenConns(1)
	s := NewStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, value float64, ts time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO humidity_reading (value, timestamp) VALUES (?, ?)`,
		value, ts.UTC().Format(timestampLayout))
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	return res.LastInsertId()
}

// Latest returns up to limit readings, newest first.
func (s *Store) Latest(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, value, timestamp FROM humidity_reading ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Current returns the newest reading; ok is false when there is none.
func (s *Store) Current(ctx context.Context) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, value, timestamp FROM humidity_reading ORDER BY timestamp DESC, id DESC LIMIT 1`)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r  Record
		ts string
	)
	if err := sc.Scan(&r.ID, &r.Value, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan reading: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return r, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	r.Timestamp = t
	return r, nil
}
