package api

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// maxStreamMessage bounds a single pushed envelope. Anything larger is a
// protocol violation and terminates the connection.
const maxStreamMessage = 256 << 10

// Stream is one live push-channel connection.
//
// Messages delivers raw envelope bytes. Done yields the terminal error once
// (io.EOF-like closes included; the server recycles connections on a timer,
// so a close is routine, not exceptional). Close is idempotent.
type Stream interface {
	Messages() <-chan []byte
	Done() <-chan error
	Close() error
}

// DialStream opens the configured push channel.
func (c *Client) DialStream(ctx context.Context) (Stream, error) {
	switch strings.ToLower(strings.TrimSpace(c.cfg.StreamTransport)) {
	case "", "sse":
		return c.dialSSE(ctx)
	case "websocket", "ws":
		return c.dialWebSocket(ctx)
	default:
		return nil, fmt.Errorf("api: unknown stream transport %q", c.cfg.StreamTransport)
	}
}

// streamURL builds the stream endpoint, applying query-token auth when the
// deployment flag allows it.
func (c *Client) streamURL() (u string, useHeader bool) {
	u = c.cfg.BaseURL + pathStream
	if c.cfg.QueryTokenAuth && c.cfg.Token != "" {
		return u + "?token=" + c.cfg.Token, false
	}
	return u, true
}

// ---- SSE ----

type sseStream struct {
	cancel context.CancelFunc
	body   interface{ Close() error }

	msgs chan []byte
	done chan error

	closeOnce sync.Once
}

func (c *Client) dialSSE(ctx context.Context) (Stream, error) {
	sctx, cancel := context.WithCancel(ctx)

	u, useHeader := c.streamURL()
	req, err := http.NewRequestWithContext(sctx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if useHeader {
		c.authorize(req)
	}

	// The regular client enforces a whole-response timeout, which would kill
	// a long-lived stream. Streaming uses an un-timed client.
	resp, err := streamHTTPClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		drainClose(resp.Body)
		cancel()
		return nil, statusErr("event stream", resp)
	}

	s := &sseStream{
		cancel: cancel,
		body:   resp.Body,
		msgs:   make(chan []byte, 32),
		done:   make(chan error, 1),
	}
	go s.readLoop(bufio.NewReaderSize(resp.Body, 16<<10))
	return s, nil
}

var streamHTTPClient = &http.Client{}

func (s *sseStream) Messages() <-chan []byte { return s.msgs }
func (s *sseStream) Done() <-chan error      { return s.done }

func (s *sseStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.body.Close()
	})
	return nil
}

// readLoop parses text/event-stream framing: comment lines (": keepalive"),
// "event:" names, and one-or-more "data:" lines terminated by a blank line.
// Only default/"message" events are forwarded; the "ready" preamble and
// keepalives are dropped here.
func (s *sseStream) readLoop(r *bufio.Reader) {
	defer close(s.msgs)

	var (
		event string
		data  []byte
	)
	flush := func() {
		if len(data) > 0 && (event == "" || event == "message") {
			b := make([]byte, len(data))
			copy(b, data)
			select {
			case s.msgs <- b:
			default:
				// Subscriber stalled; drop rather than block the read loop.
				// Reconciliation repairs anything missed.
			}
		}
		event = ""
		data = data[:0]
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			s.done <- err
			return
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(line, "data:")
			chunk = strings.TrimPrefix(chunk, " ")
			if len(data)+len(chunk) > maxStreamMessage {
				s.done <- fmt.Errorf("event stream: message exceeds %d bytes", maxStreamMessage)
				return
			}
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, chunk...)
		default:
			// Unknown field per the SSE spec: ignore.
		}
	}
}
