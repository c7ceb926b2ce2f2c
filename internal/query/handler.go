package query

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler returns the HTTP handler for viewer websocket connections. Each
// connection gets a RunStart message immediately on open (spec §4.8
// connection lifecycle).
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		c := newClient(conn, sendBufferSize)
		s.register(c)
		s.sendRunStartTo(c)

		go s.writePump(c)
		go s.readPump(c)
	}
}

// readPump parses inbound requests and answers them synchronously; a
// malformed line is logged and ignored, the connection stays open
// (spec §7 Protocol errors).
func (s *Server) readPump(c *client) {
	defer s.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Uint64("client_id", c.id).Err(err).Msg("viewer read error")
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.log.Warn().Uint64("client_id", c.id).Err(err).Msg("malformed viewer request, ignored")
			continue
		}

		resp := s.runWithTimeout(env)
		s.sendTo(c, resp)
	}
}

// runWithTimeout executes the request's handler and enforces the soft query
// ceiling (spec §5 cancellation & timeouts).
func (s *Server) runWithTimeout(env envelope) outMessage {
	result := make(chan outMessage, 1)
	go func() { result <- s.handleRequest(env) }()

	select {
	case resp := <-result:
		return resp
	case <-time.After(s.cfg.QueryTimeout):
		s.log.Warn().Str("type", env.Type).Str("request_id", env.RequestID).Msg("query exceeded soft timeout")
		return errResp(env.Type+"Response", env.RequestID, "timeout")
	}
}

// writePump drains c.sendCh to the connection and pings on an interval to
// keep the connection alive.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data, ok := <-c.sendCh:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.Done():
			return
		}
	}
}
