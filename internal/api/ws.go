package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 45 * time.Second
	wsPingInterval = 15 * time.Second
	wsMaxReadBytes = 1 << 10
)

// GET /api/v1/session/ws?since=
//
// Streams StreamFrame JSON messages: a "session" frame whenever a new
// session starts, then one "event" frame per engine event. Buffered events
// after since are replayed first. Client messages are ignored.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			s.errorHandler.HandleValidationError(w, r, "since", "since must be a non-negative integer")
			return
		}
		since = v
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Printf("ws_upgrade_failed request_id=%s err=%v", middleware.GetReqID(r.Context()), err)
		return
	}
	defer conn.Close()

	frames, replay, cancel := s.hub.Subscribe(since)
	defer cancel()

	requestID := middleware.GetReqID(r.Context())
	s.logger.Printf("ws_connected request_id=%s since=%d replay=%d", requestID, since, len(replay))

	// Reader: drains control frames and detects close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(wsMaxReadBytes)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, f := range replay {
		if err := writeFrame(conn, f); err != nil {
			return
		}
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			s.logger.Printf("ws_disconnected request_id=%s", requestID)
			return
		case f := <-frames:
			if err := writeFrame(conn, f); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, f StreamFrame) error {
	msg, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
