package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
	"github.com/edisonibujes/CriptoIQ/internal/config"
)

var (
	// ErrNotFound is returned when an alarm id is not stored.
	ErrNotFound = errors.New("storage: alarm not found")
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// PersistenceError wraps a failed durable write. The mutation it belongs to
// did not take effect.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// AlarmStore is the durable alarm collection. At most one alarm exists per
// dedup key, and every mutation is persisted before it returns.
type AlarmStore interface {
	// Upsert stores a, replacing the alarm in the same slot in place. The
	// returned alarm carries the stored creation time.
	Upsert(ctx context.Context, a alarm.Alarm) (stored alarm.Alarm, replaced bool, err error)
	// RemoveMatching deletes every alarm the predicate accepts.
	RemoveMatching(ctx context.Context, match func(alarm.Alarm) bool) (int, error)
	ListFor(ctx context.Context, owner string) ([]alarm.Alarm, error)
	// All returns a snapshot in insertion order.
	All(ctx context.Context) ([]alarm.Alarm, error)
	Get(ctx context.Context, id uuid.UUID) (alarm.Alarm, bool, error)
	SetState(ctx context.Context, id uuid.UUID, state alarm.State) error
	Close() error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// ByID matches a single alarm.
func ByID(id uuid.UUID) func(alarm.Alarm) bool {
	return func(a alarm.Alarm) bool { return a.ID == id }
}

// Open builds the configured backend. On open, edge-trigger flags are
// reset so the first evaluation after a restart only records a baseline.
func Open(ctx context.Context, cfg config.StoreConfig) (AlarmStore, error) {
	switch cfg.Backend {
	case "", "file":
		return OpenFile(cfg.Path)
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path)
	case "postgres":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := NewPostgres(pool)
		if err := store.Init(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.StoreConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
