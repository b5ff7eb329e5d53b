// Package api is the HTTP client for the notification server.
//
// It covers the four surfaces the daemon needs: the reconciliation list
// fetch, best-effort mark-read, viewer profile resolution, and the live
// event stream (SSE by default, WebSocket as an alternative transport).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"herald/internal/store"
	logx "herald/pkg/logx"
)

const (
	// ListLimitMax mirrors the server-side bound on the list endpoint.
	ListLimitMax = 500

	pathNotifications = "/notifications"
	pathMe            = "/me"
	pathStream        = "/api/events/stream"
	pathConversations = "/agent/conversations"
)

type Config struct {
	BaseURL string
	Token   string

	// StreamTransport selects the push channel: "sse" (default) or "websocket".
	StreamTransport string

	// QueryTokenAuth sends the credential as a ?token= query parameter on the
	// stream instead of the Authorization header. The server rejects it unless
	// the matching deployment flag is set; keep it off outside development.
	QueryTokenAuth bool

	// HTTPTimeout bounds non-streaming requests. Default 10s.
	HTTPTimeout time.Duration

	// MarkReadPerSec throttles best-effort mark-read calls. Default 5.
	MarkReadPerSec int
}

type Client struct {
	cfg     Config
	httpc   *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api: base_url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("api: invalid base_url: %w", err)
	}
	cfg.BaseURL = base

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.MarkReadPerSec
	if rps <= 0 {
		rps = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

// List fetches the most recent notifications, newest first.
// limit is clamped to the server bound.
func (c *Client) List(ctx context.Context, limit int) ([]store.Notification, error) {
	if limit <= 0 {
		limit = store.DefaultCapacity
	}
	if limit > ListLimitMax {
		limit = ListLimitMax
	}

	u := c.cfg.BaseURL + pathNotifications + "?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("list notifications", resp)
	}

	var items []store.Notification
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&items); err != nil {
		return nil, fmt.Errorf("list notifications: decode: %w", err)
	}
	return items, nil
}

// MarkRead flags one notification as read.
//
// Callers treat this as best-effort: a failed mark-read never blocks or
// reverses the effect that triggered it. The limiter keeps notice bursts
// from stampeding the server.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.cfg.BaseURL + pathNotifications + "/" + strconv.FormatInt(id, 10) + "/read"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusErr("mark read", resp)
	}
	return nil
}

// Profile is the viewer identity as the server sees it.
type Profile struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
}

// Me resolves the authenticated viewer's id and permission names.
func (c *Client) Me(ctx context.Context) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+pathMe, nil)
	if err != nil {
		return Profile{}, err
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return Profile{}, statusErr("profile", resp)
	}

	var p Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("profile: decode: %w", err)
	}
	return p, nil
}

// Conversation is the subset of the conversation record the daemon consumes.
type Conversation struct {
	ID    int64  `json:"id"`
	Kind  string `json:"kind"`
	Title string `json:"title"`
}

// OpenApprovalsConversation gets-or-creates the dedicated approvals
// conversation for the viewer. The server dedupes by kind, so repeated calls
// return the same conversation.
func (c *Client) OpenApprovalsConversation(ctx context.Context) (Conversation, error) {
	body := strings.NewReader(`{"kind":"approvals"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+pathConversations, body)
	if err != nil {
		return Conversation{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Conversation{}, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Conversation{}, statusErr("open approvals conversation", resp)
	}

	var conv Conversation
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&conv); err != nil {
		return Conversation{}, fmt.Errorf("open approvals conversation: decode: %w", err)
	}
	return conv, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

func statusErr(op string, resp *http.Response) error {
	return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
}

// drainClose reads the remainder of a body so the connection can be reused.
func drainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64<<10))
	_ = rc.Close()
}
