package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "herald/pkg/logx"
)

// Store is the durable memory of the dispatch pipeline: which dedup keys
// were already consumed, the last alarm that rang, and an append-only log of
// effect dispatches. Everything here is best-effort from the caller's point
// of view; a daemon without storage still works, it just re-fires effects
// after a restart.
type Store interface {
	AppendDispatch(ctx context.Context, e DispatchEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	SetLastAlarm(ctx context.Context, id int64) error
	LastAlarm(ctx context.Context) (id int64, ok bool, err error)
	PruneExpired(ctx context.Context) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
