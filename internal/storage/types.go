package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DispatchEntry records one effect-handler invocation.
// Keep it compact and schema-stable.
type DispatchEntry struct {
	At             time.Time
	Kind           string
	DedupKey       string
	NotificationID int64
	Value          string
	OK             bool
	Error          string
	TookMS         int64
}
