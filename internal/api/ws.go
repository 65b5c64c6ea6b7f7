package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/magnetprobe/internal/broadcast"
	"github.com/banshee-data/magnetprobe/internal/monitoring"
	"github.com/banshee-data/magnetprobe/internal/reading"
)

// defaultWriteWait bounds a single WebSocket write when the broadcast
// context carries no deadline.
const defaultWriteWait = 5 * time.Second

// wsChannel is a broadcast.Channel over one WebSocket connection. Writes are
// serialised; the read side belongs to the handler goroutine.
type wsChannel struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{conn: conn, closed: make(chan struct{})}
}

// Send writes r as a JSON text frame.
func (c *wsChannel) Send(ctx context.Context, r reading.Reading) error {
	select {
	case <-c.closed:
		return broadcast.ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(r)
}

// Close sends a close frame when possible and drops the connection.
func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// serveWebSocket registers the connection as a viewer, pushes the current
// reading, and then only reads to notice when the peer goes away.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		monitoring.Logf("websocket upgrade failed: %v", err)
		return
	}

	ch := newWSChannel(conn)
	reg := s.svc.Registry()
	id := reg.Register(ch)
	defer func() {
		reg.Unregister(id)
		_ = ch.Close()
	}()

	ctx, cancel := context.WithTimeout(r.Context(), defaultWriteWait)
	err = reg.SendLatest(ctx, id, s.svc.Latest)
	cancel()
	if err != nil {
		monitoring.Logf("viewer %s: initial push failed: %v", id, err)
		return
	}

	for {
		// Inbound frames carry nothing; they only keep the read side alive.
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				monitoring.Logf("viewer %s: %v", id, err)
			}
			return
		}
	}
}

func parseOrigin(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}
	return u.Host, nil
}
