package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS alarms (
    dedup_key     TEXT PRIMARY KEY,
    id            TEXT NOT NULL UNIQUE,
    owner         TEXT NOT NULL,
    canonical_key TEXT NOT NULL,
    kind          TEXT NOT NULL,
    instrument    TEXT NOT NULL,
    params        TEXT NOT NULL,
    state         TEXT NOT NULL DEFAULT '{}',
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alarms_owner ON alarms(owner);
`

const (
	sqliteSelectColumns = `SELECT dedup_key, id, owner, canonical_key, kind, instrument, params, state, created_at FROM alarms`

	sqliteUpsertSQL = `INSERT INTO alarms (dedup_key, id, owner, canonical_key, kind, instrument, params, state, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (dedup_key) DO UPDATE
    SET id         = excluded.id,
        instrument = excluded.instrument,
        params     = excluded.params,
        state      = excluded.state`
)

// SQLiteStore keeps alarms in a single-writer SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens path in WAL mode and creates the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store.path is required for the sqlite backend")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.resetTransient(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) resetTransient(ctx context.Context) error {
	alarms, err := s.All(ctx)
	if err != nil {
		return err
	}
	for _, a := range alarms {
		if a.State.Met == nil {
			continue
		}
		if err := s.SetState(ctx, a.ID, a.State.Reset()); err != nil {
			return err
		}
	}
	return nil
}

// Upsert implements AlarmStore.
func (s *SQLiteStore) Upsert(ctx context.Context, a alarm.Alarm) (alarm.Alarm, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return alarm.Alarm{}, false, persistErr("upsert", err)
	}
	defer tx.Rollback()

	var (
		createdAt int64
		rawState  string
	)
	replaced := true
	err = tx.QueryRowContext(ctx, `SELECT created_at, state FROM alarms WHERE dedup_key = ?`, a.DedupKey()).Scan(&createdAt, &rawState)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		replaced = false
	case err != nil:
		return alarm.Alarm{}, false, persistErr("upsert", err)
	default:
		existing := alarm.Alarm{CreatedAt: time.Unix(0, createdAt).UTC()}
		if rawState != "" {
			if err := sonic.UnmarshalString(rawState, &existing.State); err != nil {
				return alarm.Alarm{}, false, fmt.Errorf("decode state: %w", err)
			}
		}
		a = a.Replacing(existing)
	}

	row, err := toRow(a)
	if err != nil {
		return alarm.Alarm{}, false, err
	}
	if _, err := tx.ExecContext(ctx, sqliteUpsertSQL,
		row.DedupKey, row.ID, row.Owner, row.CanonicalKey, row.Kind,
		string(row.Instrument), string(row.Params), string(row.State), row.CreatedAt.UnixNano(),
	); err != nil {
		return alarm.Alarm{}, false, persistErr("upsert", err)
	}
	if err := tx.Commit(); err != nil {
		return alarm.Alarm{}, false, persistErr("upsert", err)
	}

	a.CreatedAt = row.CreatedAt
	return a, replaced, nil
}

// RemoveMatching implements AlarmStore.
func (s *SQLiteStore) RemoveMatching(ctx context.Context, match func(alarm.Alarm) bool) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, persistErr("remove", err)
	}
	defer tx.Rollback()

	alarms, err := querySQLite(ctx, tx, sqliteSelectColumns+` ORDER BY created_at, rowid`)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, a := range alarms {
		if !match(a) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM alarms WHERE id = ?`, a.ID.String()); err != nil {
			return 0, persistErr("remove", err)
		}
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	if err := tx.Commit(); err != nil {
		return 0, persistErr("remove", err)
	}
	return removed, nil
}

// ListFor implements AlarmStore.
func (s *SQLiteStore) ListFor(ctx context.Context, owner string) ([]alarm.Alarm, error) {
	return querySQLite(ctx, s.db, sqliteSelectColumns+` WHERE owner = ? ORDER BY created_at, rowid`, owner)
}

// All implements AlarmStore.
func (s *SQLiteStore) All(ctx context.Context) ([]alarm.Alarm, error) {
	return querySQLite(ctx, s.db, sqliteSelectColumns+` ORDER BY created_at, rowid`)
}

// Get implements AlarmStore.
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (alarm.Alarm, bool, error) {
	alarms, err := querySQLite(ctx, s.db, sqliteSelectColumns+` WHERE id = ?`, id.String())
	if err != nil {
		return alarm.Alarm{}, false, err
	}
	if len(alarms) == 0 {
		return alarm.Alarm{}, false, nil
	}
	return alarms[0], true, nil
}

// SetState implements AlarmStore.
func (s *SQLiteStore) SetState(ctx context.Context, id uuid.UUID, state alarm.State) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE alarms SET state = ? WHERE id = ?`, string(data), id.String())
	if err != nil {
		return persistErr("set state", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("set state", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close implements AlarmStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func querySQLite(ctx context.Context, q sqlQueryer, query string, args ...any) ([]alarm.Alarm, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alarms: %w", err)
	}
	defer rows.Close()

	var out []alarm.Alarm
	for rows.Next() {
		var (
			row                       alarmRow
			instrument, params, state string
			createdAt                 int64
		)
		if err := rows.Scan(&row.DedupKey, &row.ID, &row.Owner, &row.CanonicalKey, &row.Kind, &instrument, &params, &state, &createdAt); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		row.Instrument = []byte(instrument)
		row.Params = []byte(params)
		row.State = []byte(state)
		row.CreatedAt = time.Unix(0, createdAt)
		a, err := row.toAlarm()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ AlarmStore = (*SQLiteStore)(nil)
