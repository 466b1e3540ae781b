package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/pkg/types"
)

// Connection implements interfaces.Sender over one websocket
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions,
// so every data frame goes through the single writer goroutine, which also owns
// closing the socket. Pings are control frames and bypass it.
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	done         chan struct{}
}

// NewConnection wraps conn and starts its writer. sendBuffer bounds how many
// events may queue before Send starts dropping.
func NewConnection(id string, conn *websocket.Conn, sendBuffer int, writeTimeout time.Duration) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           id,
		conn:         conn,
		writeCh:      make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	go c.writeLoop()

	return c
}

func (c *Connection) ID() string {
	return c.id
}

// Context is cancelled once the connection closes.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) writeLoop() {
	defer close(c.done)
	defer c.conn.Close()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.cancel()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, so a final session-left or error
// reaches the client before the socket closes.
func (c *Connection) flush() {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return
	}
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send marshals event and queues it without blocking. A full buffer drops
// the event for this receiver only.
func (c *Connection) Send(event types.Event) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := event.Encode()
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Ping writes a ping control frame. Control frames may be written
// concurrently with the writer goroutine.
func (c *Connection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.writeTimeout))
}

// Close stops accepting events, lets the writer flush what is queued and
// waits for it to close the socket. Safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
	})
	if c.done != nil {
		<-c.done
	}
	return nil
}
