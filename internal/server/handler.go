package server

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/portcullis/portcullis/internal/logging"
	"github.com/portcullis/portcullis/internal/session"
	"github.com/portcullis/portcullis/pkg/protocol"
)

// conn is the per-connection state. The connection moves through
// AwaitingHello, AwaitingAuth and Authenticated in straight-line code:
// handshake covers the first two, commandLoop is the third.
type conn struct {
	srv    *Server
	nc     net.Conn
	id     string
	remote string
}

// handleConn runs one connection from accept to close.
func (s *Server) handleConn(ctx context.Context, netConn net.Conn) {
	c := &conn{
		srv:    s,
		nc:     netConn,
		id:     protocol.GenerateNonce(),
		remote: netConn.RemoteAddr().String(),
	}

	s.metrics.ConnectionOpened()
	defer func() {
		netConn.Close()
		s.untrackConn(netConn)
		s.metrics.ConnectionClosed()
	}()

	logging.Debug("connection opened",
		logging.ConnID(c.id),
		logging.RemoteAddr(c.remote),
		logging.Component("server"))

	if !s.allowHandshake(c.remote) {
		c.sendErr("rate limited", "rate_limited")
		s.metrics.AuthFailed("rate_limited")
		logging.Warn("handshake rate limited",
			logging.RemoteAddr(c.remote),
			logging.ConnID(c.id),
			logging.Component("server"))
		return
	}

	sess, err := c.handshake(time.Now().Add(s.cfg.AuthTimeout))
	if err != nil {
		c.failAuth(err)
		return
	}

	s.metrics.AuthSucceeded()
	s.metrics.SetActiveSessions(s.sessions.Count())
	logging.Info("client authenticated",
		logging.ClientID(sess.ClientID),
		logging.SessionID(sess.ID),
		logging.ConnID(c.id),
		logging.RemoteAddr(c.remote),
		logging.Component("server"))
	logging.Audit(logging.AuditEvent{
		Operation: "auth_succeeded",
		Actor:     sess.ClientID,
		Target:    sess.ID,
		Result:    "success",
		Details:   c.remote,
	})

	err = c.commandLoop(ctx, sess)

	s.sessions.RemoveSession(sess.ID)
	s.metrics.SetActiveSessions(s.sessions.Count())
	if err != nil {
		s.metrics.ProtocolError(protocol.ErrKind(err).String())
		logging.Error("connection failed",
			logging.Err(err),
			logging.SessionID(sess.ID),
			logging.ConnID(c.id),
			logging.Component("server"))
	}
	logging.Info("session closed",
		logging.SessionID(sess.ID),
		logging.ConnID(c.id),
		logging.Component("server"))
	logging.Audit(logging.AuditEvent{
		Operation: "session_closed",
		Actor:     sess.ClientID,
		Target:    sess.ID,
		Result:    "success",
	})
}

// handshake runs hello → challenge → auth → auth_ok. Every read and write
// uses deadline, which bounds the whole exchange. Any failure is fatal to
// the connection.
func (c *conn) handshake(deadline time.Time) (*session.Session, error) {
	msg, err := c.read(deadline)
	if err != nil {
		return nil, err
	}
	if msg.Type != protocol.TypeHello {
		return nil, protocol.InvalidMessageErr("expected hello")
	}
	hello, ok := msg.Payload.(*protocol.Hello)
	if !ok {
		return nil, protocol.InvalidMessageErr("malformed hello")
	}
	if err := c.srv.sessions.ValidateClientID(hello.ClientID); err != nil {
		return nil, err
	}

	serverNonce := protocol.GenerateNonce()
	if err := c.write(protocol.NewChallenge(serverNonce), deadline); err != nil {
		return nil, err
	}

	msg, err = c.read(deadline)
	if err != nil {
		return nil, err
	}
	if msg.Type != protocol.TypeAuth {
		return nil, protocol.InvalidMessageErr("expected auth")
	}
	auth, ok := msg.Payload.(*protocol.Auth)
	if !ok {
		return nil, protocol.InvalidMessageErr("malformed auth")
	}
	if auth.ClientID != hello.ClientID {
		return nil, protocol.AuthFailedErr("client_id mismatch")
	}
	if auth.ServerNonce != serverNonce {
		return nil, protocol.AuthFailedErr("server_nonce mismatch")
	}
	if err := c.srv.sessions.ValidateTimestamp(msg.TS); err != nil {
		return nil, err
	}
	nonceKey := session.NonceKey(auth.ClientID, auth.ServerNonce, auth.ClientNonce)
	if err := c.srv.sessions.CheckAndRecordNonce(nonceKey); err != nil {
		return nil, err
	}
	if err := c.srv.sessions.ValidateAuth(auth.ClientID, auth.ServerNonce, auth.ClientNonce, auth.Sig); err != nil {
		return nil, err
	}

	sess := c.srv.sessions.CreateSession(auth.ClientID, auth.ServerNonce, auth.ClientNonce)
	if err := c.write(protocol.NewAuthOk(sess.ID), deadline); err != nil {
		c.srv.sessions.RemoveSession(sess.ID)
		return nil, err
	}
	return sess, nil
}

// failAuth reports a handshake failure to the peer, metrics and the audit
// log. The err notification is best-effort.
func (c *conn) failAuth(err error) {
	reason := protocol.ErrKind(err).String()
	text := authFailureText(err)
	code := "auth_failed"
	if errors.Is(err, os.ErrDeadlineExceeded) {
		reason = "auth_timeout"
		text = "authentication timeout"
		code = "auth_timeout"
	}

	c.sendErr(text, code)
	c.srv.metrics.AuthFailed(reason)
	logging.Warn("authentication failed",
		"reason", reason,
		logging.Err(err),
		logging.RemoteAddr(c.remote),
		logging.ConnID(c.id),
		logging.Component("server"))
	logging.Audit(logging.AuditEvent{
		Operation: "auth_failed",
		Actor:     c.remote,
		Result:    "failure",
		Details:   text,
	})
}

// authFailureText renders a handshake failure for the wire. AuthFailed
// errors already carry the prefix; everything else gets wrapped so the
// peer always sees "authentication failed: <cause>".
func authFailureText(err error) string {
	if protocol.IsKind(err, protocol.KindAuthFailed) {
		return err.Error()
	}
	return "authentication failed: " + err.Error()
}

// commandLoop serves an authenticated connection until the peer goes away
// or a fatal protocol error occurs. IO failures (EOF, timeouts, closed
// connection) end the loop with a nil error; Serialization and
// FrameTooLarge are returned to the caller.
func (c *conn) commandLoop(ctx context.Context, sess *session.Session) error {
	for {
		msg, err := c.read(time.Now().Add(c.srv.cfg.ReadTimeout))
		if err != nil {
			if protocol.IsKind(err, protocol.KindIo) {
				return nil
			}
			return err
		}

		switch msg.Type {
		case protocol.TypeCmd:
			c.handleCmd(ctx, sess, msg)
		case protocol.TypePing:
			if err := c.write(protocol.NewPong(), time.Now().Add(c.srv.cfg.WriteTimeout)); err != nil {
				return nil
			}
		default:
			logging.Debug("ignoring unexpected message type",
				"type", string(msg.Type),
				logging.SessionID(sess.ID),
				logging.ConnID(c.id),
				logging.Component("server"))
		}
	}
}

// handleCmd validates and executes one signed command. Validation order:
// payload shape, seq present, nonce present, timestamp, session lookup,
// signature, sequence commit, execute. The signature check precedes the
// sequence commit so a tampered command never advances the cursor. The
// envelope session_id is not used for routing; the connection's session is
// authoritative and the id is bound into the signature instead.
func (c *conn) handleCmd(ctx context.Context, sess *session.Session, msg *protocol.Message) {
	seq := msg.SeqValue()

	cmd, ok := msg.Payload.(*protocol.Cmd)
	if !ok {
		c.rejectCmd(sess, seq, protocol.InvalidMessageErr("malformed cmd"))
		return
	}
	if msg.Seq == nil {
		c.rejectCmd(sess, seq, protocol.InvalidMessageErr("cmd missing seq"))
		return
	}
	if msg.Nonce == "" {
		c.rejectCmd(sess, seq, protocol.InvalidMessageErr("cmd missing nonce"))
		return
	}
	if err := c.srv.sessions.ValidateTimestamp(msg.TS); err != nil {
		c.rejectCmd(sess, seq, err)
		return
	}

	cur, err := c.srv.sessions.GetSession(sess.ID)
	if err != nil {
		c.rejectCmd(sess, seq, err)
		return
	}
	if !protocol.VerifyCommandSignature(cur.Key, sess.ID, seq, msg.Nonce, cmd.Cmd, cmd.Args, cmd.Sig) {
		c.rejectCmd(sess, seq, protocol.InvalidSignatureErr())
		return
	}
	if err := c.srv.sessions.ValidateAndUpdateSeq(sess.ID, seq); err != nil {
		c.rejectCmd(sess, seq, err)
		return
	}

	start := time.Now()
	result, err := c.srv.registry.Execute(ctx, cmd.Cmd, cmd.Args)
	if err != nil {
		c.srv.metrics.CommandProcessed(cmd.Cmd, "error", time.Since(start))
		logging.Debug("command returned error",
			"cmd", cmd.Cmd,
			"seq", seq,
			logging.Err(err),
			logging.SessionID(sess.ID),
			logging.Component("server"))
		c.respond(protocol.NewRespError(sess.ID, seq, err.Error()))
		return
	}

	c.srv.metrics.CommandProcessed(cmd.Cmd, "ok", time.Since(start))
	c.respond(protocol.NewResp(sess.ID, seq, result))
}

// rejectCmd answers a command that failed protocol validation. The loop
// continues afterwards; only the offending command is refused.
func (c *conn) rejectCmd(sess *session.Session, seq uint64, err error) {
	c.srv.metrics.ProtocolError(protocol.ErrKind(err).String())
	logging.Warn("command rejected",
		"seq", seq,
		logging.Err(err),
		logging.SessionID(sess.ID),
		logging.ConnID(c.id),
		logging.Component("server"))
	c.respond(protocol.NewRespError(sess.ID, seq, err.Error()))
}

func (c *conn) respond(msg *protocol.Message) {
	if err := c.write(msg, time.Now().Add(c.srv.cfg.WriteTimeout)); err != nil {
		logging.Debug("response write failed",
			logging.Err(err),
			logging.ConnID(c.id),
			logging.Component("server"))
	}
}

// sendErr writes a best-effort err notification before the connection is
// closed.
func (c *conn) sendErr(text, code string) {
	_ = c.write(protocol.NewErr(text, code), time.Now().Add(c.srv.cfg.WriteTimeout))
}

// read receives one frame under the given deadline.
func (c *conn) read(deadline time.Time) (*protocol.Message, error) {
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return nil, protocol.IoErr(err)
	}
	msg, err := protocol.ReadFrame(c.nc, c.srv.cfg.MaxFrameBytes)
	if err != nil {
		return nil, err
	}
	c.srv.metrics.FrameRead()
	return msg, nil
}

// write sends one frame under the given deadline.
func (c *conn) write(msg *protocol.Message, deadline time.Time) error {
	if err := c.nc.SetWriteDeadline(deadline); err != nil {
		return protocol.IoErr(err)
	}
	if err := protocol.WriteFrame(c.nc, msg); err != nil {
		return err
	}
	c.srv.metrics.FrameWritten()
	return nil
}
