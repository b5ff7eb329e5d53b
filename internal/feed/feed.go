// Package feed owns the logical subscription to the server event feed.
//
// Push delivery alone cannot guarantee eventual consistency across reconnect
// gaps, host suspension, and transient errors. The feed therefore layers
// three mechanisms: the push channel (authoritative while open), fixed
// 15s polling as an availability backstop while the channel is down, and a
// 10s full reconciliation fetch as the correctness backstop regardless of
// channel health. Reconnects back off exponentially with jitter so a flaky
// server never sees a reconnect storm.
package feed

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"herald/internal/api"
	"herald/internal/eventbus"
	"herald/internal/store"
	logx "herald/pkg/logx"
)

// Server is the slice of the API client the feed consumes.
type Server interface {
	List(ctx context.Context, limit int) ([]store.Notification, error)
	DialStream(ctx context.Context) (api.Stream, error)
}

// Handlers receive feed output. Both run on the feed's event loop; keep them
// fast and non-blocking.
type Handlers struct {
	OnReplace func(items []store.Notification)
	OnUpsert  func(n store.Notification)
}

type Config struct {
	// ReconcileEvery is the full-fetch interval, active in every state.
	ReconcileEvery time.Duration // default 10s
	// PollEvery is the degraded-mode fetch interval, active while the push
	// channel is down.
	PollEvery time.Duration // default 15s

	BackoffBase   time.Duration // default 1s
	BackoffCap    time.Duration // default 60s
	BackoffJitter time.Duration // default 500ms

	FetchLimit int // default 100
}

func (c Config) withDefaults() Config {
	if c.ReconcileEvery <= 0 {
		c.ReconcileEvery = 10 * time.Second
	}
	if c.PollEvery <= 0 {
		c.PollEvery = 15 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
	if c.BackoffJitter < 0 {
		c.BackoffJitter = 0
	} else if c.BackoffJitter == 0 {
		c.BackoffJitter = 500 * time.Millisecond
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = store.DefaultCapacity
	}
	return c
}

type Client struct {
	cfg      Config
	srv      Server
	handlers Handlers
	bus      eventbus.Bus
	log      logx.Logger

	state atomic.Int32

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// randFloat is swappable for deterministic jitter in tests.
	randFloat func() float64
}

// New wires a feed client. A nil bus disables wake triggers and state events.
func New(cfg Config, srv Server, handlers Handlers, bus eventbus.Bus, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:       cfg.withDefaults(),
		srv:       srv,
		handlers:  handlers,
		bus:       bus,
		log:       log,
		randFloat: rand.Float64,
	}
}

// Start launches the feed loop and returns its stop function.
//
// stop cancels all timers, closes any open channel, removes the bus
// observer, and waits for the loop to exit. It is idempotent; results of
// fetches still in flight when stop runs are discarded. A second Start after
// stop begins a fresh subscription.
func (c *Client) Start(ctx context.Context) (stop func()) {
	c.mu.Lock()
	if c.started {
		cancel, done := c.cancel, c.done
		c.mu.Unlock()
		return stopFunc(cancel, done)
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.started = true
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			c.mu.Lock()
			c.started = false
			c.mu.Unlock()
		}()
		c.run(runCtx)
	}()

	return stopFunc(cancel, done)
}

func stopFunc(cancel context.CancelFunc, done chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// State returns the current channel state (observability only).
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State, attempt int) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.log.Debug("feed state changed",
		logx.String("from", prev.String()),
		logx.String("to", s.String()),
		logx.Int("attempt", attempt))
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{
			Type: eventbus.TypeFeedState,
			Data: StateChange{From: prev.String(), To: s.String(), Attempt: attempt},
		})
	}
}

// reconnectDelay computes min(base * 2^attempt, cap) + uniform jitter.
func (c *Client) reconnectDelay(attempt int) time.Duration {
	d := c.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.BackoffCap {
			d = c.cfg.BackoffCap
			break
		}
	}
	if d > c.cfg.BackoffCap {
		d = c.cfg.BackoffCap
	}
	if j := c.cfg.BackoffJitter; j > 0 {
		d += time.Duration(c.randFloat() * float64(j))
	}
	return d
}

type dialOutcome struct {
	gen    uint64
	stream api.Stream
	err    error
}

type fetchOutcome struct {
	items []store.Notification
	err   error
}

// run is the single-threaded scheduler for the whole feed. Every mutation of
// loop state happens here; dials and fetches run in helper goroutines that
// only report back through channels, guarded by a generation counter so
// stale outcomes are discarded.
func (c *Client) run(ctx context.Context) {
	defer c.setState(StateStopped, 0)

	var busCh <-chan eventbus.Event
	if c.bus != nil {
		ch, unsub := c.bus.Subscribe(8)
		defer unsub()
		busCh = ch
	}

	reconTick := time.NewTicker(c.cfg.ReconcileEvery)
	defer reconTick.Stop()
	pollTick := time.NewTicker(c.cfg.PollEvery)
	defer pollTick.Stop()

	dialCh := make(chan dialOutcome, 1)
	fetchCh := make(chan fetchOutcome, 1)

	var (
		stream     api.Stream
		msgs       <-chan []byte
		streamDone <-chan error
		reconnect  <-chan time.Time
		reconnectT *time.Timer
		dialGen    uint64
		attempt    int
		fetchBusy  bool
		fetchAgain bool
	)

	closeStream := func() {
		if stream != nil {
			_ = stream.Close()
			stream = nil
			msgs = nil
			streamDone = nil
		}
	}
	defer closeStream()
	defer func() {
		if reconnectT != nil {
			reconnectT.Stop()
		}
	}()

	requestFetch := func() {
		if fetchBusy {
			fetchAgain = true
			return
		}
		fetchBusy = true
		go func() {
			items, err := c.srv.List(ctx, c.cfg.FetchLimit)
			select {
			case fetchCh <- fetchOutcome{items: items, err: err}:
			case <-ctx.Done():
				// Loop already stopped; discard.
			}
		}()
	}

	startDial := func() {
		dialGen++
		gen := dialGen
		go func() {
			s, err := c.srv.DialStream(ctx)
			select {
			case dialCh <- dialOutcome{gen: gen, stream: s, err: err}:
			case <-ctx.Done():
				if s != nil {
					_ = s.Close()
				}
			}
		}()
	}

	scheduleReconnect := func() {
		delay := c.reconnectDelay(attempt)
		attempt++
		c.log.Debug("reconnect scheduled",
			logx.Duration("delay", delay), logx.Int("attempt", attempt))
		if reconnectT != nil {
			reconnectT.Stop()
		}
		reconnectT = time.NewTimer(delay)
		reconnect = reconnectT.C
	}

	// Startup: reconcile immediately, then open the push channel.
	requestFetch()
	c.setState(StateConnecting, attempt)
	startDial()

	for {
		select {
		case <-ctx.Done():
			return

		case out := <-dialCh:
			if out.gen != dialGen {
				// A newer dial superseded this one.
				if out.stream != nil {
					_ = out.stream.Close()
				}
				continue
			}
			if out.err != nil {
				c.log.Warn("push channel dial failed",
					logx.Err(out.err), logx.Int("attempt", attempt))
				c.setState(StateDegraded, attempt)
				scheduleReconnect()
				continue
			}
			stream = out.stream
			msgs = stream.Messages()
			streamDone = stream.Done()
			attempt = 0
			c.setState(StateOpen, 0)
			c.log.Info("push channel open")
			// One reconcile per open: covers events missed between the last
			// fetch and channel establishment.
			requestFetch()

		case b, ok := <-msgs:
			if !ok {
				// Sender closed; the terminal error arrives on streamDone.
				msgs = nil
				continue
			}
			n, err := parseEnvelope(b)
			if err != nil {
				// A malformed message must not silently drop state: discard
				// it and repair via a full fetch instead.
				c.log.Warn("malformed push message; forcing reconciliation", logx.Err(err))
				requestFetch()
				continue
			}
			if c.handlers.OnUpsert != nil {
				c.handlers.OnUpsert(n)
			}

		case err := <-streamDone:
			// Routine: the server recycles channels after a fixed lifetime.
			c.log.Debug("push channel closed", logx.Err(err))
			closeStream()
			c.setState(StateDegraded, attempt)
			scheduleReconnect()

		case <-reconnect:
			reconnect = nil
			reconnectT = nil
			c.setState(StateReconnecting, attempt)
			startDial()

		case <-reconTick.C:
			requestFetch()

		case <-pollTick.C:
			// Polling is the availability backstop; suppressed while the
			// push channel is authoritative.
			if c.State() != StateOpen {
				requestFetch()
			}

		case ev := <-busCh:
			if ev.Type == eventbus.TypeUIVisible {
				requestFetch()
			}

		case out := <-fetchCh:
			fetchBusy = false
			if out.err != nil {
				// Stale-but-consistent state is kept; the next timer tick retries.
				c.log.Debug("reconciliation fetch failed", logx.Err(out.err))
			} else if c.handlers.OnReplace != nil {
				c.handlers.OnReplace(out.items)
			}
			if fetchAgain {
				fetchAgain = false
				requestFetch()
			}
		}
	}
}
