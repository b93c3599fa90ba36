package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"social-realtime/internal/auth"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 16 << 20
)

// Client is one websocket connection. Outbound frames go through a bounded
// buffer drained by writePump; a full buffer closes the client.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	info     ConnInfo
	identity auth.Identity

	closeOnce sync.Once
	mu        sync.Mutex
	reason    string
}

func newClient(conn *websocket.Conn, info ConnInfo, identity auth.Identity, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		conn:     conn,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		info:     info,
		identity: identity,
	}
}

func (c *Client) ConnID() string { return c.info.ConnID }

func (c *Client) UserID() string { return c.info.UserID }

func (c *Client) Identity() auth.Identity { return c.identity }

// Close stops the write loop and closes the socket, which ends the read loop.
func (c *Client) Close() error {
	return c.closeWithReason("closed by server")
}

func (c *Client) closeWithReason(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// closeReason is the reason given to the first close, if any.
func (c *Client) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// enqueue queues a frame without blocking and reports whether it was accepted.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		go c.closeWithReason("slow consumer")
		return false
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = c.closeWithReason(err.Error())
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.closeWithReason(err.Error())
				return
			}
		}
	}
}
