package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id      TEXT PRIMARY KEY,
	ts      INTEGER NOT NULL,
	symbol  TEXT NOT NULL,
	kind    TEXT NOT NULL,
	detail  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_symbol ON events(symbol, ts);

CREATE TABLE IF NOT EXISTS replace_intents (
	symbol        TEXT PRIMARY KEY,
	old_order_id  TEXT NOT NULL,
	new_stop      REAL NOT NULL,
	created_ts    INTEGER NOT NULL
);
`

// SQLiteRecorder persists the journal to a local SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
}

var _ Recorder = (*SQLiteRecorder)(nil)

// OpenSQLite opens (creating if needed) the journal database at path.
func OpenSQLite(path string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &SQLiteRecorder{db: db}, nil
}

// Record appends one event.
func (r *SQLiteRecorder) Record(e Event) error {
	_, err := r.db.Exec(
		`INSERT INTO events (id, ts, symbol, kind, detail) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Time.UnixMilli(), e.Symbol, string(e.Kind), e.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// BeginStopReplace durably records that a cancel-then-place replacement is
// in flight for symbol. At most one intent per symbol; a new one overwrites
// a stale leftover.
func (r *SQLiteRecorder) BeginStopReplace(intent ReplaceIntent) error {
	_, err := r.db.Exec(
		`INSERT INTO replace_intents (symbol, old_order_id, new_stop, created_ts)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET
			old_order_id = excluded.old_order_id,
			new_stop = excluded.new_stop,
			created_ts = excluded.created_ts`,
		intent.Symbol, intent.OldOrderID, intent.NewStop, intent.Created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record replace intent: %w", err)
	}
	return nil
}

// FinishStopReplace clears the intent once the new stop is confirmed live.
func (r *SQLiteRecorder) FinishStopReplace(symbol string) error {
	_, err := r.db.Exec(`DELETE FROM replace_intents WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("failed to clear replace intent: %w", err)
	}
	return nil
}

// PendingStopReplaces returns intents left behind by a crash mid-replacement.
func (r *SQLiteRecorder) PendingStopReplaces() ([]ReplaceIntent, error) {
	rows, err := r.db.Query(`SELECT symbol, old_order_id, new_stop, created_ts FROM replace_intents`)
	if err != nil {
		return nil, fmt.Errorf("failed to query replace intents: %w", err)
	}
	defer rows.Close()

	var intents []ReplaceIntent
	for rows.Next() {
		var intent ReplaceIntent
		var ts int64
		if err := rows.Scan(&intent.Symbol, &intent.OldOrderID, &intent.NewStop, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan replace intent: %w", err)
		}
		intent.Created = time.UnixMilli(ts)
		intents = append(intents, intent)
	}

	return intents, rows.Err()
}

// Events returns all events for symbol in chronological order, every symbol
// when symbol is empty. Feeds the session report.
func (r *SQLiteRecorder) Events(symbol string) ([]Event, error) {
	query := `SELECT id, ts, symbol, kind, detail FROM events ORDER BY ts`
	args := []interface{}{}
	if symbol != "" {
		query = `SELECT id, ts, symbol, kind, detail FROM events WHERE symbol = ? ORDER BY ts`
		args = append(args, symbol)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		var kind string
		if err := rows.Scan(&e.ID, &ts, &e.Symbol, &kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Time = time.UnixMilli(ts)
		e.Kind = EventKind(kind)
		events = append(events, e)
	}

	return events, rows.Err()
}

// Close closes the underlying database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
