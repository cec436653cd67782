package server

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/dmavdeev/jimchat/internal/protocol"
)

// outboundDepth is the per-connection delivery buffer. A recipient that is
// momentarily slow keeps its frames queued instead of losing them; a peer
// that stays stuck long enough to fill the buffer is dropped.
const outboundDepth = 64

// writeTimeout bounds one frame write so a dead peer never stalls the writer.
const writeTimeout = 10 * time.Second

// Conn is one live client connection. The reader goroutine owns name; the
// writer goroutine owns the socket's write side and is the only closer.
type Conn struct {
	id   uuid.UUID
	nc   net.Conn
	r    *protocol.Reader
	out  chan protocol.Frame
	log  *zap.Logger
	name string // bound identity, "" until presence succeeds

	closing   chan struct{}
	closeOnce sync.Once
}

func newConn(nc net.Conn, log *zap.Logger) *Conn {
	id, _ := uuid.NewV4()
	return &Conn{
		id:      id,
		nc:      nc,
		r:       protocol.NewReader(nc),
		out:     make(chan protocol.Frame, outboundDepth),
		log:     log.With(zap.String("conn", id.String())),
		closing: make(chan struct{}),
	}
}

// remoteHostPort splits the peer address for session bookkeeping.
func (c *Conn) remoteHostPort() (string, int) {
	host, portStr, err := net.SplitHostPort(c.nc.RemoteAddr().String())
	if err != nil {
		return c.nc.RemoteAddr().String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// Enqueue implements registry.Peer. It reports false when the connection is
// shutting down or its outbound buffer is full.
func (c *Conn) Enqueue(f protocol.Frame) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.out <- f:
		return true
	default:
		return false
	}
}

// shutdown asks the writer to flush queued frames and close the socket.
// Closing the socket in turn unblocks the reader. Safe to call repeatedly.
func (c *Conn) shutdown() {
	c.closeOnce.Do(func() { close(c.closing) })
}

// writePump delivers queued frames to the socket. It is the only goroutine
// writing to, or closing, the connection.
func (c *Conn) writePump() {
	defer c.nc.Close()
	for {
		select {
		case f := <-c.out:
			if !c.writeOne(f) {
				c.shutdown()
				return
			}
		case <-c.closing:
			// Flush whatever is already queued, then close.
			for {
				select {
				case f := <-c.out:
					if !c.writeOne(f) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) writeOne(f protocol.Frame) bool {
	if err := c.nc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return false
	}
	if err := protocol.NewWriter(c.nc).WriteFrame(f); err != nil {
		c.log.Warn("write failed", zap.Error(err))
		return false
	}
	return true
}
