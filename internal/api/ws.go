package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsStream adapts a WebSocket connection to the Stream interface. The wire
// payloads are the same JSON envelopes the SSE channel carries.
type wsStream struct {
	conn *websocket.Conn

	msgs chan []byte
	done chan error

	closeOnce sync.Once
}

func (c *Client) dialWebSocket(ctx context.Context) (Stream, error) {
	u, useHeader := c.streamURL()
	u = httpToWS(u)

	hdr := http.Header{}
	if useHeader && c.cfg.Token != "" {
		hdr.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u, hdr)
	if resp != nil && resp.Body != nil {
		drainClose(resp.Body)
	}
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxStreamMessage)

	s := &wsStream{
		conn: conn,
		msgs: make(chan []byte, 32),
		done: make(chan error, 1),
	}
	go s.readLoop()
	return s, nil
}

func (s *wsStream) Messages() <-chan []byte { return s.msgs }
func (s *wsStream) Done() <-chan error      { return s.done }

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		_ = s.conn.Close()
	})
	return nil
}

func (s *wsStream) readLoop() {
	defer close(s.msgs)
	for {
		kind, b, err := s.conn.ReadMessage()
		if err != nil {
			s.done <- err
			return
		}
		if kind != websocket.TextMessage || len(b) == 0 {
			continue
		}
		select {
		case s.msgs <- b:
		default:
			// Stalled consumer; reconciliation covers the gap.
		}
	}
}

func httpToWS(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}
