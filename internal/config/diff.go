package config

import (
	"sort"
	"strings"

	logx "herald/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (server token) never appear; only the
// fact that they are set does.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Server (never log the token itself)
	if strings.TrimSpace(oldCfg.Server.BaseURL) != strings.TrimSpace(newCfg.Server.BaseURL) ||
		(strings.TrimSpace(oldCfg.Server.Token) != "") != (strings.TrimSpace(newCfg.Server.Token) != "") ||
		strings.TrimSpace(oldCfg.Server.HTTPTimeout) != strings.TrimSpace(newCfg.Server.HTTPTimeout) ||
		oldCfg.Server.MarkReadPerSec != newCfg.Server.MarkReadPerSec {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.base_url", strings.TrimSpace(newCfg.Server.BaseURL)),
			logx.Bool("server.token_set", strings.TrimSpace(newCfg.Server.Token) != ""),
			logx.String("server.http_timeout", strings.TrimSpace(newCfg.Server.HTTPTimeout)),
		)
	}

	// Stream
	if !strings.EqualFold(strings.TrimSpace(oldCfg.Stream.Transport), strings.TrimSpace(newCfg.Stream.Transport)) ||
		oldCfg.Stream.QueryTokenAuth != newCfg.Stream.QueryTokenAuth {
		changed = append(changed, "stream")
		attrs = append(attrs,
			logx.String("stream.transport", strings.TrimSpace(newCfg.Stream.Transport)),
			logx.Bool("stream.query_token_auth", newCfg.Stream.QueryTokenAuth),
		)
	}

	// Feed
	if oldCfg.Feed != newCfg.Feed {
		changed = append(changed, "feed")
		attrs = append(attrs,
			logx.String("feed.reconcile_every", strings.TrimSpace(newCfg.Feed.ReconcileEvery)),
			logx.String("feed.poll_every", strings.TrimSpace(newCfg.Feed.PollEvery)),
			logx.String("feed.backoff_base", strings.TrimSpace(newCfg.Feed.BackoffBase)),
			logx.String("feed.backoff_cap", strings.TrimSpace(newCfg.Feed.BackoffCap)),
			logx.Int("feed.fetch_limit", newCfg.Feed.FetchLimit),
		)
	}

	// Store / Queue
	if oldCfg.Store != newCfg.Store {
		changed = append(changed, "store")
		attrs = append(attrs, logx.Int("store.capacity", newCfg.Store.Capacity))
	}
	if oldCfg.Queue != newCfg.Queue {
		changed = append(changed, "queue")
		attrs = append(attrs, logx.String("queue.dedup_ttl", strings.TrimSpace(newCfg.Queue.DedupTTL)))
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage. Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Janitor
	if oldCfg.Janitor != newCfg.Janitor {
		changed = append(changed, "janitor")
		attrs = append(attrs,
			logx.Bool("janitor.enabled", newCfg.Janitor.Enabled),
			logx.String("janitor.schedule", strings.TrimSpace(newCfg.Janitor.Schedule)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
