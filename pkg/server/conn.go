package server

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/Devign20164/ForgePh/pkg/protocol"
	pb "github.com/Devign20164/ForgePh/pkg/protocol/pb"
)

// errConnClosed is returned by deliveries that race with a disconnect.
var errConnClosed = errors.New("server: connection closed")

const writeTimeout = 5 * time.Second

// connection is the Endpoint for one real-time client. Writes from the
// reader goroutine and from fanout are serialized so frames never interleave.
type connection struct {
	id   string
	conn net.Conn

	mu     sync.Mutex
	closed bool
}

func newConnection(id string, conn net.Conn) *connection {
	return &connection{id: id, conn: conn}
}

func (c *connection) ID() string { return c.id }

// Deliver writes one encoded frame. After close it does nothing. A failed
// write may leave a partial frame on the wire, so it closes the connection.
func (c *connection) Deliver(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(frame); err != nil {
		c.closed = true
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Send encodes and writes msg to this connection only.
func (c *connection) Send(msg *pb.ControlMessage) error {
	frame, err := protocol.EncodeFrame(msg)
	if err != nil {
		return err
	}
	return c.Deliver(frame)
}

// close marks the connection closed and closes the socket. Safe to call twice.
func (c *connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close()
}
