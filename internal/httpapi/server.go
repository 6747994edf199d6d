package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	logx "hubrelay/pkg/logx"
)

// Server owns the listener so the bound address is known before Serve.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log logx.Logger
}

func Listen(addr string, h http.Handler, readTimeout, writeTimeout time.Duration, log logx.Logger) (*Server, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Server{
		srv: &http.Server{
			Handler:           h,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       2 * time.Minute,
		},
		ln:  ln,
		log: log,
	}, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks until ctx is done or the server fails. On ctx done it
// returns nil; Shutdown performs the graceful drain.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("http listening", logx.String("addr", s.Addr()))
	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(s.ln) }()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops accepting and waits for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		_ = s.srv.Close()
	}
	return err
}
