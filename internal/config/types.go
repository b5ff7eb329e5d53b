package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Server  ServerConfig   `json:"server"`
	Stream  StreamConfig   `json:"stream,omitempty"`
	Feed    FeedConfig     `json:"feed,omitempty"`
	Store   StoreConfig    `json:"store,omitempty"`
	Queue   QueueConfig    `json:"queue,omitempty"`
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Janitor JanitorConfig  `json:"janitor,omitempty"`
}

// ServerConfig points at the notification API.
type ServerConfig struct {
	BaseURL string `json:"base_url"`
	// Token is the bearer credential. Never logged.
	Token string `json:"token"`
	// HTTPTimeout is a Go duration string for non-streaming requests.
	HTTPTimeout string `json:"http_timeout,omitempty"`
	// MarkReadPerSec throttles best-effort mark-read calls.
	MarkReadPerSec int `json:"mark_read_per_sec,omitempty"`
}

// StreamConfig selects the push channel.
type StreamConfig struct {
	// Transport is "sse" (default) or "websocket".
	Transport string `json:"transport,omitempty"`
	// QueryTokenAuth passes the credential as a query parameter on the
	// stream. The server rejects it unless its matching deployment flag is
	// set; leave this off in production.
	QueryTokenAuth bool `json:"query_token_auth,omitempty"`
}

// FeedConfig tunes reconciliation, degraded polling, and reconnect backoff.
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - reconcile_every: "10s"
//   - poll_every: "15s"
//   - backoff_base: "1s"
//   - backoff_cap: "60s"
//   - backoff_jitter: "500ms"
//   - fetch_limit: 100
type FeedConfig struct {
	ReconcileEvery string `json:"reconcile_every,omitempty"`
	PollEvery      string `json:"poll_every,omitempty"`
	BackoffBase    string `json:"backoff_base,omitempty"`
	BackoffCap     string `json:"backoff_cap,omitempty"`
	BackoffJitter  string `json:"backoff_jitter,omitempty"`
	FetchLimit     int    `json:"fetch_limit,omitempty"`
}

type StoreConfig struct {
	Capacity int `json:"capacity,omitempty"` // default 100
}

type QueueConfig struct {
	// DedupTTL bounds how long consumed dedup keys stay persisted.
	DedupTTL string `json:"dedup_ttl,omitempty"` // default "720h"
}

// JanitorConfig controls periodic storage maintenance.
type JanitorConfig struct {
	Enabled bool `json:"enabled,omitempty"`
	// Schedule is a cron spec; default "0 4 * * *" (daily, 04:00).
	Schedule string `json:"schedule,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./herald_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Validate rejects configs that cannot possibly run. Duration fields are
// checked here so a bad live edit is refused before publish.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.BaseURL) == "" {
		return errors.New("server.base_url is required")
	}
	if strings.TrimSpace(c.Server.Token) == "" {
		return errors.New("server.token is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Stream.Transport)) {
	case "", "sse", "websocket", "ws":
	default:
		return fmt.Errorf("stream.transport: unknown transport %q", c.Stream.Transport)
	}
	for _, f := range []struct{ path, raw string }{
		{"server.http_timeout", c.Server.HTTPTimeout},
		{"feed.reconcile_every", c.Feed.ReconcileEvery},
		{"feed.poll_every", c.Feed.PollEvery},
		{"feed.backoff_base", c.Feed.BackoffBase},
		{"feed.backoff_cap", c.Feed.BackoffCap},
		{"feed.backoff_jitter", c.Feed.BackoffJitter},
		{"queue.dedup_ttl", c.Queue.DedupTTL},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
