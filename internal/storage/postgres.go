package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
)

const (
	createAlarmsSQL = `CREATE TABLE IF NOT EXISTS alarms (
        dedup_key     TEXT PRIMARY KEY,
        id            UUID NOT NULL UNIQUE,
        owner         TEXT NOT NULL,
        canonical_key TEXT NOT NULL,
        kind          TEXT NOT NULL,
        instrument    JSONB NOT NULL,
        params        JSONB NOT NULL,
        state         JSONB NOT NULL DEFAULT '{}'::jsonb,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS idx_alarms_owner ON alarms (owner);`

	resetTransientSQL = `UPDATE alarms SET state = state - 'met' WHERE state ? 'met';`

	upsertAlarmSQL = `INSERT INTO alarms (
        dedup_key,
        id,
        owner,
        canonical_key,
        kind,
        instrument,
        params,
        state,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (dedup_key) DO UPDATE
    SET
        id         = EXCLUDED.id,
        instrument = EXCLUDED.instrument,
        params     = EXCLUDED.params,
        state      = CASE
            WHEN alarms.kind = 'rsi_divergence'
                 AND NOT (EXCLUDED.state ? 'last_swing')
                 AND alarms.state ? 'last_swing'
            THEN EXCLUDED.state || jsonb_build_object('last_swing', alarms.state -> 'last_swing')
            ELSE EXCLUDED.state
        END
    RETURNING created_at, state, (xmax <> 0) AS replaced;`

	selectAlarmsSQL = `SELECT
        dedup_key,
        id::text,
        owner,
        canonical_key,
        kind,
        instrument,
        params,
        state,
        created_at
    FROM alarms`

	deleteAlarmSQL   = `DELETE FROM alarms WHERE id = $1;`
	updateStateSQL   = `UPDATE alarms SET state = $2 WHERE id = $1;`
	orderByCreatedAt = ` ORDER BY created_at, dedup_key`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Postgres stores alarms in PostgreSQL and exposes an advisory lock so only
// one evaluation loop owns the collection at a time.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Init creates the schema and resets edge-trigger flags.
func (s *Postgres) Init(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createAlarmsSQL); err != nil {
		return fmt.Errorf("create alarms schema: %w", err)
	}
	if _, err := pool.Exec(ctx, resetTransientSQL); err != nil {
		return persistErr("reset state", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Upsert implements AlarmStore.
func (s *Postgres) Upsert(ctx context.Context, a alarm.Alarm) (alarm.Alarm, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return alarm.Alarm{}, false, err
	}
	row, err := toRow(a)
	if err != nil {
		return alarm.Alarm{}, false, err
	}

	var (
		createdAt time.Time
		state     []byte
		replaced  bool
	)
	if err := pool.QueryRow(ctx, upsertAlarmSQL,
		row.DedupKey,
		a.ID,
		row.Owner,
		row.CanonicalKey,
		row.Kind,
		row.Instrument,
		row.Params,
		row.State,
		row.CreatedAt,
	).Scan(&createdAt, &state, &replaced); err != nil {
		return alarm.Alarm{}, false, persistErr("upsert", err)
	}
	if err := sonic.Unmarshal(state, &a.State); err != nil {
		return alarm.Alarm{}, false, fmt.Errorf("decode state: %w", err)
	}

	a.CreatedAt = createdAt.UTC()
	return a, replaced, nil
}

// RemoveMatching implements AlarmStore.
func (s *Postgres) RemoveMatching(ctx context.Context, match func(alarm.Alarm) bool) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, persistErr("remove", err)
	}
	defer tx.Rollback(ctx)

	alarms, err := queryPostgres(ctx, tx, selectAlarmsSQL+orderByCreatedAt+` FOR UPDATE`)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, a := range alarms {
		if !match(a) {
			continue
		}
		if _, err := tx.Exec(ctx, deleteAlarmSQL, a.ID); err != nil {
			return 0, persistErr("remove", err)
		}
		removed++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, persistErr("remove", err)
	}
	return removed, nil
}

// ListFor implements AlarmStore.
func (s *Postgres) ListFor(ctx context.Context, owner string) ([]alarm.Alarm, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return queryPostgres(ctx, pool, selectAlarmsSQL+` WHERE owner = $1`+orderByCreatedAt, owner)
}

// All implements AlarmStore.
func (s *Postgres) All(ctx context.Context) ([]alarm.Alarm, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return queryPostgres(ctx, pool, selectAlarmsSQL+orderByCreatedAt)
}

// Get implements AlarmStore.
func (s *Postgres) Get(ctx context.Context, id uuid.UUID) (alarm.Alarm, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return alarm.Alarm{}, false, err
	}
	alarms, err := queryPostgres(ctx, pool, selectAlarmsSQL+` WHERE id = $1`, id)
	if err != nil {
		return alarm.Alarm{}, false, err
	}
	if len(alarms) == 0 {
		return alarm.Alarm{}, false, nil
	}
	return alarms[0], true, nil
}

// SetState implements AlarmStore.
func (s *Postgres) SetState(ctx context.Context, id uuid.UUID, state alarm.State) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, updateStateSQL, id, data)
	if err != nil {
		return persistErr("set state", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type pgQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryPostgres(ctx context.Context, q pgQueryer, query string, args ...any) ([]alarm.Alarm, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alarms: %w", err)
	}
	defer rows.Close()

	var out []alarm.Alarm
	for rows.Next() {
		var row alarmRow
		if err := rows.Scan(
			&row.DedupKey,
			&row.ID,
			&row.Owner,
			&row.CanonicalKey,
			&row.Kind,
			&row.Instrument,
			&row.Params,
			&row.State,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		a, err := row.toAlarm()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var (
	_ AlarmStore     = (*Postgres)(nil)
	_ AdvisoryLocker = (*Postgres)(nil)
)
