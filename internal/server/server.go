// Package server contains the chat server: the accept loop, the per-frame
// dispatcher, and the routing pass delivering directed messages between
// bound connections.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/dmavdeev/jimchat/internal/errs"
	"github.com/dmavdeev/jimchat/internal/protocol"
	"github.com/dmavdeev/jimchat/internal/registry"
	"github.com/dmavdeev/jimchat/internal/storage"
)

// routeDepth bounds the shared directed-message queue between dispatchers
// and the routing goroutine.
const routeDepth = 256

// routed is one directed message waiting for the routing pass.
type routed struct {
	frame protocol.Frame
	from  string
	to    string
}

// Server accepts connections, drives the dispatcher, and routes directed
// messages via the session registry.
type Server struct {
	log   *zap.Logger
	store storage.Store
	reg   *registry.Registry
	route chan routed
	quit  chan struct{}

	mu    sync.Mutex
	ln    net.Listener
	conns map[*Conn]struct{}

	wg sync.WaitGroup
}

// New constructs a server over the given store.
func New(store storage.Store, log *zap.Logger) *Server {
	return &Server{
		log:   log,
		store: store,
		reg:   registry.New(),
		route: make(chan routed, routeDepth),
		quit:  make(chan struct{}),
		conns: make(map[*Conn]struct{}),
	}
}

// Registry exposes the session registry, mainly for tests and reporting.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Run listens on addr and serves until ctx is cancelled. It returns after
// the listener and every connection have shut down.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.routeLoop(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		close(s.quit)
		ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			c.shutdown()
		}
		s.mu.Unlock()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		c := newConn(nc, s.log)
		c.log.Info("client connected", zap.String("peer", nc.RemoteAddr().String()))

		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			c.writePump()
		}()
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, c)
		}()
	}

	s.wg.Wait()
	s.log.Info("server stopped")
	return nil
}

// Addr returns the bound listener address, once Run has started listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// serveConn reads frames until the peer misbehaves, exits, or disconnects,
// then reconciles the registry and the store.
func (s *Server) serveConn(ctx context.Context, c *Conn) {
	defer s.teardown(ctx, c)

	for {
		f, err := c.r.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.log.Info("peer closed connection")
			case errors.Is(err, errs.ErrMalformedFrame), errors.Is(err, errs.ErrFrameTooLarge):
				c.log.Warn("dropping connection", zap.Error(err))
			default:
				c.log.Info("peer lost", zap.Error(err))
			}
			return
		}
		if s.dispatch(ctx, c, f) {
			return
		}
	}
}

// teardown removes the connection from the live set and, if a name was
// bound, logs that user out of the store and frees the name.
func (s *Server) teardown(ctx context.Context, c *Conn) {
	c.shutdown()

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	if c.name == "" {
		return
	}
	s.reg.Unbind(c.name, c)
	// Still reconcile the store when teardown runs because the run context
	// was cancelled for shutdown.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Logout(ctx, c.name); err != nil {
		c.log.Error("store logout failed", zap.String("user", c.name), zap.Error(err))
	}
	c.log.Info("user unbound", zap.String("user", c.name))
}

// routeLoop is the routing pass: it drains the directed-message queue and
// delivers each frame to the recipient's outbound buffer. An unbound
// recipient drops the message with a log entry; a bound recipient whose
// buffer is full is considered stuck and is disconnected.
func (s *Server) routeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.route:
			p, ok := s.reg.Resolve(m.to)
			if !ok {
				s.log.Info("recipient gone, dropping message",
					zap.String("from", m.from), zap.String("to", m.to))
				continue
			}
			if !p.Enqueue(m.frame) {
				s.log.Warn("recipient queue overflow, dropping connection",
					zap.String("to", m.to))
				if c, isConn := p.(*Conn); isConn {
					c.shutdown()
				}
				continue
			}
			s.log.Debug("message routed",
				zap.String("from", m.from), zap.String("to", m.to))
		}
	}
}
