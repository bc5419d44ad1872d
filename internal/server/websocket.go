package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/btgate/internal/logging"
	"github.com/muurk/btgate/internal/notify"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// handleFeed upgrades to a websocket and streams registry events as JSON
// text messages until the client goes away or the subscription is dropped.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	// Subscribe first so no event published after the handshake is missed.
	sub := s.ctrl.Subscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		sub.Close()
		logging.Warn("Feed upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	remoteAddr := r.RemoteAddr

	s.wg.Add(1)
	s.track(remoteAddr, conn)
	logging.Info("Feed client connected", zap.String("remote_addr", remoteAddr))

	defer func() {
		sub.Close()
		_ = conn.Close()
		s.untrack(remoteAddr)
		s.wg.Done()
		logging.Info("Feed client disconnected", zap.String("remote_addr", remoteAddr))
	}()

	closed := make(chan struct{})
	go readPump(conn, remoteAddr, closed)
	writePump(conn, remoteAddr, sub.C, closed)
}

// readPump discards client messages and keeps the read deadline moving on
// pongs. It closes done when the connection fails.
func readPump(conn *websocket.Conn, remoteAddr string, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Info("Feed connection closed or error reading",
					zap.String("remote_addr", remoteAddr),
					zap.Error(err),
				)
			}
			return
		}
	}
}

// writePump forwards events and pings the peer every pingPeriod.
func writePump(conn *websocket.Conn, remoteAddr string, events <-chan notify.Event, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Dropped by the hub or the hub closed.
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				logging.Info("Failed to write feed event",
					zap.String("remote_addr", remoteAddr),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
