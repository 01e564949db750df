package rpc

import (
	"context"
	"errors"
	"io"
	"net"

	"gopkg.in/tomb.v2"

	"github.com/airup-sh/airupd/internal/logger"
)

// Server accepts connections on a stream-socket Listener and dispatches
// each framed Request to Router (spec §6: "Unix-domain stream socket...
// per-connection sessions are independent tasks"). The listener itself
// (its path, permissions, AIRUP_SOCK resolution) is assumed handed in —
// spec §1 names socket setup as out of scope for the core.
type Server struct {
	Router *Router

	t tomb.Tomb
}

// NewServer returns a Server dispatching through router.
func NewServer(router *Router) *Server {
	return &Server{Router: router}
}

// Serve accepts connections from ln until Close is called or ln itself
// errors, handling each on its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	s.t.Go(func() error {
		<-s.t.Dying()
		return ln.Close()
	})
	s.t.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.t.Dying():
					return nil
				default:
				}
				return err
			}
			s.t.Go(func() error {
				s.handleConn(conn)
				return nil
			})
		}
	})
	return s.t.Wait()
}

// Close stops accepting new connections and waits for in-flight ones to
// finish their current request.
func (s *Server) Close() error {
	s.t.Kill(nil)
	return s.t.Wait()
}

// handleConn serially reads, dispatches and replies to requests on conn
// until a framing error or EOF closes the session. Sequential handling on
// one connection preserves per-client request ordering (spec §5: "reply
// arrives before the next request is handled for the same request
// slot") without any extra bookkeeping.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.t.Dying():
			conn.Close()
		case <-done:
		}
	}()

	ctx := context.Background()
	for {
		req, err := ReadRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debugf("rpc: connection closed: %v", err)
			}
			return
		}

		payload, err := s.Router.Dispatch(ctx, req.Method, req.Params)
		var resp *Response
		if err != nil {
			resp = ToResponse(err)
		} else {
			resp = OK(payload)
		}

		if err := WriteResponse(conn, resp); err != nil {
			logger.Debugf("rpc: failed to write response: %v", err)
			return
		}
	}
}
