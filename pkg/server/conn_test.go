package server

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenConn fails every write after accepting part of the frame.
type brokenConn struct {
	net.Conn
	writes int
	closes int
}

var errWriteTimeout = errors.New("i/o timeout")

func (b *brokenConn) Write(p []byte) (int, error) {
	b.writes++
	return len(p) / 2, errWriteTimeout
}

func (b *brokenConn) SetWriteDeadline(time.Time) error { return nil }

func (b *brokenConn) Close() error {
	b.closes++
	return nil
}

func TestDeliverClosesAfterFailedWrite(t *testing.T) {
	bc := &brokenConn{}
	c := newConnection("s1", bc)

	err := c.Deliver([]byte("frame-one"))
	require.ErrorIs(t, err, errWriteTimeout)
	assert.Equal(t, 1, bc.closes)

	err = c.Deliver([]byte("frame-two"))
	require.ErrorIs(t, err, errConnClosed)
	assert.Equal(t, 1, bc.writes, "no bytes may follow a partial frame")

	c.close()
	assert.Equal(t, 1, bc.closes)
}
