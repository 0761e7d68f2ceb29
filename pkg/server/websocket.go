package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/anilymngl/codemind/pkg/events"
)

const (
	readLimit  = 64 * 1024
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
)

// safeConn serializes writes to a websocket connection.
type safeConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool
}

func (sc *safeConn) WriteJSON(v any) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if sc.closed {
		return nil
	}
	return sc.conn.WriteJSON(v)
}

func (sc *safeConn) Ping() error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if sc.closed {
		return nil
	}
	return sc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (sc *safeConn) Close() error {
	sc.writeMu.Lock()
	sc.closed = true
	sc.writeMu.Unlock()
	return sc.conn.Close()
}

func message(msgType string, data map[string]any) map[string]any {
	return map[string]any{"type": msgType, "data": data}
}

// handleWebSocket forwards every bus event to the client as JSON. Clients
// may send {"type":"ping"} and receive a pong.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Logf("websocket upgrade error: %v", err)
		return
	}
	sc := &safeConn{conn: conn}
	defer sc.Close()

	sessionID := "ws_" + uuid.NewString()
	s.connections.Store(conn, &ConnectionInfo{SessionID: sessionID, ConnectedAt: time.Now()})
	defer s.connections.Delete(conn)
	s.logger.Logf("websocket client connected: %s", sessionID)

	// subscribe before announcing so a client that saw the status misses nothing
	var eventCh <-chan events.Event
	if s.bus != nil {
		eventCh = s.bus.Subscribe(sessionID)
		defer s.bus.Unsubscribe(sessionID)
	}
	sc.WriteJSON(message("connection_status", map[string]any{"connected": true, "session_id": sessionID}))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(readLimit)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					s.logger.Logf("websocket %s missed its pong, closing", sessionID)
				} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Logf("websocket %s read error: %v", sessionID, err)
				}
				return
			}
			if t, _ := msg["type"].(string); t == "ping" {
				sc.WriteJSON(message("pong", map[string]any{"timestamp": time.Now().Unix()}))
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sc.Ping(); err != nil {
				return
			}
		case <-readDone:
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if err := sc.WriteJSON(event); err != nil {
				s.logger.Logf("websocket %s write error: %v", sessionID, err)
				return
			}
		}
	}
}
