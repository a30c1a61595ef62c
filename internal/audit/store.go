package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver registration
)

// maxPayloadBytes caps the response body kept per event.
const maxPayloadBytes = 64 << 10

// ErrBrokenChain is returned by Verify when an entry was modified or removed.
var ErrBrokenChain = errors.New("journal hash chain is broken")

// Store is a SQLite-backed journal.
type Store struct {
	db       *sql.DB
	mu       sync.Mutex
	lastHash string
	lastSeq  uint64
	now      func() time.Time
}

// OpenStore opens or creates a journal at path.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps sequence assignment and the chain consistent.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	if err := s.loadLast(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			seq       INTEGER PRIMARY KEY,
			id        TEXT NOT NULL UNIQUE,
			ts        TEXT NOT NULL,
			kind      TEXT NOT NULL,
			platform  TEXT NOT NULL,
			target    TEXT NOT NULL DEFAULT '',
			outcome   TEXT NOT NULL,
			status    INTEGER NOT NULL DEFAULT 0,
			message   TEXT NOT NULL DEFAULT '',
			payload   BLOB,
			prev_hash TEXT NOT NULL,
			hash      TEXT NOT NULL UNIQUE
		);
		CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
		CREATE INDEX IF NOT EXISTS idx_events_platform ON events(platform);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

func (s *Store) loadLast() error {
	row := s.db.QueryRow(`SELECT seq, hash FROM events ORDER BY seq DESC LIMIT 1`)
	err := row.Scan(&s.lastSeq, &s.lastHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading last event: %w", err)
	}
	return nil
}

// Record appends ev to the journal and returns the stored copy.
func (s *Store) Record(ctx context.Context, ev Event) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ev.Payload) > maxPayloadBytes {
		ev.Payload = ev.Payload[:maxPayloadBytes]
	}
	if len(ev.Payload) > 0 && !json.Valid(ev.Payload) {
		quoted, _ := json.Marshal(string(ev.Payload))
		ev.Payload = quoted
	}

	ev.Seq = s.lastSeq + 1
	ev.ID = uuid.NewString()
	ev.Time = s.now().UTC()
	ev.PrevHash = s.lastHash
	ev.Hash = ev.computeHash()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (seq, id, ts, kind, platform, target, outcome, status, message, payload, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.Seq, ev.ID, ev.Time.Format(time.RFC3339Nano), ev.Kind, ev.Platform, ev.Target,
		ev.Outcome, ev.Status, ev.Message, []byte(ev.Payload), ev.PrevHash, ev.Hash)
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}

	s.lastSeq = ev.Seq
	s.lastHash = ev.Hash
	return &ev, nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, ts, kind, platform, target, outcome, status, message, payload, prev_hash, hash
		FROM events ORDER BY seq DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Verify walks the whole journal and checks every hash and link.
func (s *Store) Verify(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, ts, kind, platform, target, outcome, status, message, payload, prev_hash, hash
		FROM events ORDER BY seq
	`)
	if err != nil {
		return fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return err
	}

	prev := ""
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			return fmt.Errorf("%w: missing event before seq %d", ErrBrokenChain, ev.Seq)
		}
		if ev.PrevHash != prev || !ev.Valid() {
			return fmt.Errorf("%w: event %d does not match its hash", ErrBrokenChain, ev.Seq)
		}
		prev = ev.Hash
	}
	return nil
}

// Count returns the number of events.
func (s *Store) Count() uint64 {
	var n uint64
	s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		var ev Event
		var ts string
		var payload []byte
		if err := rows.Scan(&ev.Seq, &ev.ID, &ts, &ev.Kind, &ev.Platform, &ev.Target,
			&ev.Outcome, &ev.Status, &ev.Message, &payload, &ev.PrevHash, &ev.Hash); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Time, _ = time.Parse(time.RFC3339Nano, ts)
		if len(payload) > 0 {
			ev.Payload = json.RawMessage(payload)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
