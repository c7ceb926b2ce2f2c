package query

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// client is a single connected viewer. Sends are buffered through sendCh so
// a slow reader cannot block the publishing goroutine; a full buffer drops
// the message and increments Dropped rather than blocking (spec §4.8
// "broadcast failures to a single client must not affect others").
type client struct {
	id   uint64
	conn *websocket.Conn

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	Dropped uint64
}

var clientIDCounter uint64

func newClient(conn *websocket.Conn, bufferSize int) *client {
	return &client{
		id:     atomic.AddUint64(&clientIDCounter, 1),
		conn:   conn,
		sendCh: make(chan []byte, bufferSize),
		done:   make(chan struct{}),
	}
}

// send enqueues data for the write pump. Returns false if the buffer was
// full and the message was dropped.
func (c *client) send(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		atomic.AddUint64(&c.Dropped, 1)
		return false
	}
}

func (c *client) Done() <-chan struct{} {
	return c.done
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
