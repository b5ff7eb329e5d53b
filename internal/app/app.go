// Package app assembles the daemon: configuration, logging, storage, the
// feed pipeline, the notice queue, and the effect handlers, all supervised
// under one context.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"herald/internal/api"
	"herald/internal/busy"
	"herald/internal/config"
	"herald/internal/eventbus"
	"herald/internal/feed"
	"herald/internal/identity"
	"herald/internal/janitor"
	"herald/internal/notice"
	"herald/internal/runtime/supervisor"
	"herald/internal/storage"
	"herald/internal/store"
	logx "herald/pkg/logx"
)

type App struct {
	cfgMgr *config.ConfigManager
	logSvc *logx.Service
	log    logx.Logger

	bus     eventbus.Bus
	busy    *busy.Flag
	persist storage.Store
	store   *store.Store
	client  *api.Client
	queue   *notice.Queue
	alarms  *notice.Alarms
	feed    *feed.Client

	sup       *supervisor.Supervisor
	closeOnce sync.Once
}

// New builds the full object graph from the config file at path. Nothing
// runs until Run.
func New(path string) (*App, error) {
	mgr := config.NewConfigManager(path)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, rootLog := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(rootLog.With(logx.String("comp", "config")))

	a := &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    rootLog,
		bus:    eventbus.New(),
		busy:   busy.NewFlag(),
	}

	if cfg.Storage != nil {
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: config.ParseDurationOrDefault(cfg.Storage.BusyTimeout, 0),
		}, rootLog.With(logx.String("comp", "storage")))
		if err != nil {
			logSvc.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.persist = st
	}

	a.store = store.New(cfg.Store.Capacity, a.bus)

	client, err := api.New(api.Config{
		BaseURL:         cfg.Server.BaseURL,
		Token:           cfg.Server.Token,
		StreamTransport: cfg.Stream.Transport,
		QueryTokenAuth:  cfg.Stream.QueryTokenAuth,
		HTTPTimeout:     config.ParseDurationOrDefault(cfg.Server.HTTPTimeout, 0),
		MarkReadPerSec:  cfg.Server.MarkReadPerSec,
	}, rootLog.With(logx.String("comp", "api")))
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.client = client

	a.queue = notice.NewQueue(a.busy, a.persist, a.bus,
		rootLog.With(logx.String("comp", "queue")))
	if ttl := config.ParseDurationOrDefault(cfg.Queue.DedupTTL, 0); ttl > 0 {
		a.queue.SetDedupTTL(ttl)
	}

	nav := effectsNavigator(client, rootLog)
	a.queue.SetHandler(notice.KindApprovalNeeded, nav.approval)
	a.queue.SetHandler(notice.KindResultAvailable, nav.result)
	a.alarms = notice.NewAlarms(nav.alarm, a.persist,
		rootLog.With(logx.String("comp", "alarms")))

	a.feed = feed.New(feed.Config{
		ReconcileEvery: config.ParseDurationOrDefault(cfg.Feed.ReconcileEvery, 0),
		PollEvery:      config.ParseDurationOrDefault(cfg.Feed.PollEvery, 0),
		BackoffBase:    config.ParseDurationOrDefault(cfg.Feed.BackoffBase, 0),
		BackoffCap:     config.ParseDurationOrDefault(cfg.Feed.BackoffCap, 0),
		BackoffJitter:  config.ParseDurationOrDefault(cfg.Feed.BackoffJitter, 0),
		FetchLimit:     cfg.Feed.FetchLimit,
	}, client, feed.Handlers{
		OnReplace: a.store.Replace,
		OnUpsert:  a.store.Upsert,
	}, a.bus, rootLog.With(logx.String("comp", "feed")))

	return a, nil
}

// Busy returns the shared interaction flag. The host surface raises it while
// the user is mid-interaction; effects stay queued until it drops.
func (a *App) Busy() *busy.Flag { return a.busy }

// Store returns the notification mirror (read side for any UI).
func (a *App) Store() *store.Store { return a.store }

// Bus returns the in-process event bus.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Run starts every service and blocks until ctx is canceled or a fatal
// component error cancels the supervisor.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	sup := a.sup

	viewer := a.resolveViewer()

	// Derivation trigger: every observable store change re-derives notices
	// and re-checks the alarm condition from the fresh snapshot.
	sup.Go0("derive", func(ctx context.Context) {
		ch, unsub := a.bus.Subscribe(16)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Type != eventbus.TypeNotificationsChanged {
					continue
				}
				snap := a.store.Snapshot()
				a.queue.Sync(ctx, viewer.get(), snap)
				a.alarms.Sync(ctx, snap)
			}
		}
	})

	sup.Go0("queue", a.queue.Start)

	sup.Go0("feed", func(ctx context.Context) {
		stop := a.feed.Start(ctx)
		defer stop()
		<-ctx.Done()
	})

	sup.GoRestart("config.watch", a.cfgMgr.Watch)
	sup.Go0("config.reload", a.watchReloads)

	if cfg.Janitor.Enabled && a.persist != nil {
		jan, err := janitor.New(a.persist, cfg.Janitor.Schedule,
			a.log.With(logx.String("comp", "janitor")))
		if err != nil {
			sup.Cancel()
			return err
		}
		sup.Go0("janitor", jan.Start)
	}

	a.log.Info("herald started",
		logx.String("base_url", cfg.Server.BaseURL),
		logx.Bool("storage", a.persist != nil))

	err := sup.Wait(context.Background())
	a.closeResources()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop cancels the supervised services and waits for them within ctx.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	err := a.sup.Stop(ctx)
	a.closeResources()
	return err
}

func (a *App) closeResources() {
	a.closeOnce.Do(func() {
		if a.persist != nil {
			if err := a.persist.Close(); err != nil {
				a.log.Warn("storage close failed", logx.Err(err))
			}
		}
		if a.logSvc != nil {
			_ = a.logSvc.Close()
		}
	})
}

// watchReloads applies live config edits: logging sinks swap in place, and
// the change summary is logged without secrets. Sections that would need a
// component rebuild (server, storage) are logged as restart-required.
func (a *App) watchReloads(ctx context.Context) {
	ch := a.cfgMgr.Subscribe(2)
	defer a.cfgMgr.Unsubscribe(ch)

	prev := a.cfgMgr.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			changed, attrs := config.SummarizeConfigChange(prev, cfg)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config reloaded",
				append([]logx.Field{logx.String("sections", strings.Join(changed, ","))}, attrs...)...)

			for _, sec := range changed {
				switch sec {
				case "logging":
					a.logSvc.Apply(logx.Config{
						Level:   cfg.Logging.Level,
						Console: cfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: cfg.Logging.File.Enabled,
							Path:    cfg.Logging.File.Path,
						},
					})
				case "server", "storage", "stream", "feed", "janitor":
					a.log.Warn("config section requires restart to take effect",
						logx.String("section", sec))
				}
			}
			prev = cfg
		}
	}
}

// viewerRef is the lazily resolved viewer identity shared with the derive
// loop. Resolution may finish after the first derivations; a re-Sync after
// resolution catches anything classified conservatively before it.
type viewerRef struct {
	ch  chan identity.Viewer
	cur identity.Viewer
}

func (v *viewerRef) get() identity.Viewer {
	select {
	case nv := <-v.ch:
		v.cur = nv
	default:
	}
	return v.cur
}

// resolveViewer asks the server who the token belongs to. While the profile
// endpoint is unreachable it falls back to the token subject, which yields an
// id without permissions: approval notices are suppressed until the real
// permission set arrives (classifying conservatively rather than wrongly).
func (a *App) resolveViewer() *viewerRef {
	ref := &viewerRef{ch: make(chan identity.Viewer, 1)}

	cfg := a.cfgMgr.Get()
	if id, err := identity.UserIDFromToken(cfg.Server.Token); err == nil {
		ref.cur = identity.NewViewer(id, nil)
	}

	a.sup.GoRestart("viewer.resolve", func(ctx context.Context) error {
		profile, err := a.client.Me(ctx)
		if err != nil {
			return err
		}
		v := identity.NewViewer(profile.ID, profile.Permissions)
		select {
		case ref.ch <- v:
		default:
		}
		a.log.Info("viewer resolved",
			logx.Int64("user_id", profile.ID),
			logx.Int("permissions", len(profile.Permissions)))

		// Re-derive with the authoritative permission set.
		snap := a.store.Snapshot()
		a.queue.Sync(ctx, v, snap)
		a.alarms.Sync(ctx, snap)
		return nil
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	return ref
}
