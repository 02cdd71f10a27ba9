package events

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout bounds a single frame write. A subscriber that
	// cannot take a frame within it is dropped.
	writeTimeout = 5 * time.Second

	// pongWait is how long to wait for a pong before the peer is
	// considered gone.
	pongWait = 60 * time.Second

	// pingInterval keeps idle connections alive through proxies.
	pingInterval = 30 * time.Second
)

// ServeWS pumps frames to one WebSocket subscriber until the peer
// disconnects, the context is cancelled, or the subscriber falls
// behind. The caller owns the upgrade; ServeWS owns the connection
// from there on.
func (m *Manager) ServeWS(ctx context.Context, conn *websocket.Conn, cursor int64) error {
	defer conn.Close()

	ch, cancel, err := m.Subscribe(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	// Reader loop: consume control frames, refresh the read deadline
	// on pong, surface peer close.
	readErr := make(chan error, 1)
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				// Dropped for falling behind, or manager shutdown.
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return err
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-readErr:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
