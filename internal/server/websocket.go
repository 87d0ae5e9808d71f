package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control API is bound locally; cross-origin feeds are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents upgrades to a websocket and relays session events until the
// client goes away. A client that cannot keep up is disconnected rather
// than allowed to block the bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := s.control.Events().Subscribe(wsSendBuffer)
	s.logger.Debug("event feed connected", slog.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	// Read pump: we expect no client messages, but reading surfaces close
	// frames and connection loss.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		s.control.Events().Unsubscribe(sub.ID)
		conn.Close()
		s.logger.Debug("event feed disconnected", slog.String("remote", r.RemoteAddr))
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
