package main

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tinapay/shared"
)

// Conn is one client's bidirectional message channel. The supervisor
// goroutine owns the read side; the registries hold references for
// fan-out. Send is best-effort: delivery failures surface as errors
// the caller logs and swallows.
type Conn interface {
	Send(env *shared.Envelope) error
	Close() error
	Remote() string
}

// wsConn adapts a websocket connection to Conn. Gorilla permits one
// concurrent writer, so Send serializes writes with a mutex.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Send(env *shared.Envelope) error {
	if env.Timestamp == 0 {
		env.Timestamp = shared.Timestamp()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) Remote() string {
	return c.ws.RemoteAddr().String()
}

// supervise is the per-connection read loop. Malformed frames are
// logged and skipped; once the channel closes, cleanly or not, the
// disconnect teardown runs exactly once and the loop exits.
func (s *Server) supervise(conn *wsConn) {
	defer s.handleDisconnect(conn)

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			logrus.Debugf("Connection %s closed: %v", conn.Remote(), err)
			return
		}
		if s.debug {
			logrus.Debugf("Received frame from %s: %s", conn.Remote(), data)
		}

		var env shared.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logrus.Errorf("Invalid JSON frame from %s: %v", conn.Remote(), err)
			continue
		}
		s.dispatch(&env, conn)
	}
}
