package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/mediagate/pkg/protocol"
)

var errClientClosed = errors.New("client connection closed")

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
	Profile      string    `json:"profile"`
	FramesIn     int64     `json:"framesIn"`
	Idle         bool      `json:"idle"`
}

// Client represents a connected producer
type Client struct {
	ID           string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string
	Binary       protocol.BinaryOptions

	ctx          context.Context
	limiter      *StartLimiter
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closed       atomic.Bool
	framesIn     atomic.Int64
}

// Send writes one JSON reply. Writes are serialized because replies come
// from the read loop, sink lanes and finalizer goroutines.
func (c *Client) Send(v interface{}) error {
	if c.closed.Load() {
		return errClientClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.Conn.WriteJSON(v)
}

// Close marks the client closed and closes the socket.
func (c *Client) Close() error {
	c.closed.Store(true)
	return c.Conn.Close()
}

// Closed reports whether the connection has gone away.
func (c *Client) Closed() bool {
	return c.closed.Load()
}
