package server

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dmavdeev/jimchat/internal/crypto"
	"github.com/dmavdeev/jimchat/internal/errs"
	"github.com/dmavdeev/jimchat/internal/protocol"
)

// dispatch handles one inbound frame and reports whether the connection must
// be closed afterwards. Responses go through the connection's outbound queue;
// directed messages go through the routing queue.
func (s *Server) dispatch(ctx context.Context, c *Conn, f protocol.Frame) (closeConn bool) {
	switch f.Action() {
	case protocol.ActionPresence:
		return s.handlePresence(ctx, c, f)
	case protocol.ActionMessage:
		return s.handleMessage(ctx, c, f)
	case protocol.ActionExit:
		return s.handleExit(ctx, c, f)
	case protocol.ActionGetContacts:
		return s.handleGetContacts(ctx, c, f)
	case protocol.ActionAddContact:
		return s.handleEditContact(ctx, c, f, true)
	case protocol.ActionDelContact:
		return s.handleEditContact(ctx, c, f, false)
	case protocol.ActionUsersRequest:
		return s.handleUsersRequest(ctx, c, f)
	default:
		c.log.Warn("bad request", zap.String("action", f.Action()))
		s.reply(c, protocol.BadRequest("bad request"))
		return false
	}
}

// handlePresence authenticates and binds the connection's identity. The name
// is reserved in the registry before the store is consulted so a duplicate
// login never touches the store's login state.
func (s *Server) handlePresence(ctx context.Context, c *Conn, f protocol.Frame) bool {
	name := f.AccountName()
	password, hasPassword := f[protocol.KeyPassword].(string)
	if name == "" || !hasPassword || f[protocol.KeyTime] == nil {
		c.log.Warn("presence missing fields")
		s.reply(c, protocol.BadRequest("bad request"))
		return false
	}
	if c.name != "" {
		c.log.Warn("presence on an already bound connection", zap.String("user", c.name))
		s.reply(c, protocol.BadRequest("bad request"))
		return false
	}

	if !s.reg.Bind(name, c) {
		c.log.Warn("name already in use", zap.String("user", name))
		s.reply(c, protocol.BadRequest(errs.ErrNameTaken.Error()))
		return true
	}

	ip, port := c.remoteHostPort()
	rejected, err := s.store.Login(ctx, name, ip, port, crypto.HashPassword(name, password))
	if err != nil {
		// Store trouble is not the client's fault: unwind the bind and let
		// the client retry on the same connection.
		s.reg.Unbind(name, c)
		c.log.Error("store login failed", zap.String("user", name), zap.Error(err))
		s.reply(c, protocol.BadRequest("server error"))
		return false
	}
	if rejected {
		s.reg.Unbind(name, c)
		c.log.Warn("password mismatch", zap.String("user", name))
		s.reply(c, protocol.BadRequest(errs.ErrAuthFailure.Error()))
		return true
	}

	c.name = name
	c.log.Info("user bound", zap.String("user", name), zap.String("ip", ip), zap.Int("port", port))
	s.reply(c, protocol.OK())
	return false
}

// handleMessage validates a directed message and enqueues it for routing.
// Counters move only when the recipient is currently bound, so an undeliverable
// message leaves the store untouched.
func (s *Server) handleMessage(ctx context.Context, c *Conn, f protocol.Frame) bool {
	from := f.String(protocol.KeySender)
	to := f.String(protocol.KeyDestination)
	_, hasText := f[protocol.KeyMessageText]
	if from == "" || to == "" || !hasText || f[protocol.KeyTime] == nil {
		c.log.Warn("message missing fields")
		s.reply(c, protocol.BadRequest("bad request"))
		return false
	}
	if !s.requireIdentity(c, from) {
		return false
	}

	if _, ok := s.reg.Resolve(to); !ok {
		c.log.Info("recipient not registered, dropping", zap.String("to", to))
		return false
	}

	select {
	case s.route <- routed{frame: f, from: from, to: to}:
	case <-s.quit:
		return true
	}

	if err := s.store.RecordTraffic(ctx, from, to); err != nil {
		c.log.Warn("record traffic failed",
			zap.String("from", from), zap.String("to", to), zap.Error(err))
	}
	return false
}

func (s *Server) handleExit(ctx context.Context, c *Conn, f protocol.Frame) bool {
	name := f.String(protocol.KeyAccountName)
	if name == "" {
		c.log.Warn("exit missing fields")
		s.reply(c, protocol.BadRequest("bad request"))
		return false
	}
	if !s.requireIdentity(c, name) {
		return false
	}
	c.log.Info("user exiting", zap.String("user", name))
	// serveConn's cleanup performs the store logout and unbind.
	return true
}

func (s *Server) handleGetContacts(ctx context.Context, c *Conn, f protocol.Frame) bool {
	owner := f.String(protocol.KeyUser)
	if owner == "" {
		c.log.Warn("contacts request missing fields")
		s.reply(c, protocol.BadRequest("bad request"))
		return false
	}
	if !s.requireIdentity(c, owner) {
		return false
	}
	names, err := s.store.ListContacts(ctx, owner)
	if err != nil {
		c.log.Error("list contacts failed", zap.String("user", owner), zap.Error(err))
		s.reply(c, protocol.BadRequest("server error"))
		return false
	}
	s.reply(c, protocol.Accepted(names))
	return false
}

func (s *Server) handleEditContact(ctx context.Context, c *Conn, f protocol.Frame, add bool) bool {
	owner := f.String(protocol.KeyUser)
	target := f.String(protocol.KeyAccountName)
	if owner == "" || target == "" {
		c.log.Warn("contact edit missing fields")
		s.reply(c, protocol.BadRequest("bad request"))
		return false
	}
	if !s.requireIdentity(c, owner) {
		return false
	}

	var err error
	if add {
		err = s.store.AddContact(ctx, owner, target)
	} else {
		err = s.store.RemoveContact(ctx, owner, target)
	}
	switch {
	case errors.Is(err, errs.ErrNotFound):
		// Unknown target: the edit is a no-op but the exchange still succeeds.
		c.log.Warn("contact edit for unknown user",
			zap.String("user", owner), zap.String("target", target))
	case err != nil:
		c.log.Error("contact edit failed",
			zap.String("user", owner), zap.String("target", target), zap.Error(err))
		s.reply(c, protocol.BadRequest("server error"))
		return false
	}
	s.reply(c, protocol.OK())
	return false
}

func (s *Server) handleUsersRequest(ctx context.Context, c *Conn, f protocol.Frame) bool {
	name := f.String(protocol.KeyAccountName)
	if name == "" {
		c.log.Warn("users request missing fields")
		s.reply(c, protocol.BadRequest("bad request"))
		return false
	}
	if !s.requireIdentity(c, name) {
		return false
	}
	users, err := s.store.ListAllUsers(ctx)
	if err != nil {
		c.log.Error("list users failed", zap.Error(err))
		s.reply(c, protocol.BadRequest("server error"))
		return false
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Name)
	}
	s.reply(c, protocol.Accepted(names))
	return false
}

// requireIdentity rejects any frame whose requester field does not match the
// identity bound to the connection carrying it.
func (s *Server) requireIdentity(c *Conn, claimed string) bool {
	if c.name == "" || claimed != c.name {
		c.log.Warn("identity mismatch",
			zap.String("claimed", claimed), zap.String("bound", c.name))
		s.reply(c, protocol.BadRequest("bad request"))
		return false
	}
	return true
}

// reply queues a response on the connection. A full queue here means the
// client stopped reading; give up on it.
func (s *Server) reply(c *Conn, f protocol.Frame) {
	if !c.Enqueue(f) {
		c.log.Warn("response queue overflow, dropping connection")
		c.shutdown()
	}
}
