package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alexanderbartels/marble/errors"
)

// Server owns the shared HTTP server that listeners mount onto. Transport
// socket binding stays here so listeners hold no socket state of their own.
type Server struct {
	addr   string
	mux    *http.ServeMux
	logger *slog.Logger

	server      *http.Server
	running     bool
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup
}

// NewServer creates a server bound to addr. A nil logger falls back to
// slog.Default().
func NewServer(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

// Handle mounts a handler (an HTTP listener, a WebSocket listener, or a
// metrics endpoint) at the given pattern. Must be called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start begins serving. It returns once the listener goroutine is running;
// serve errors other than graceful shutdown are logged, never fatal to the
// caller.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Start",
			"server already running")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Server", "Start", "context already cancelled")
	}

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.mux,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", "addr", s.addr, "error", err)
		}
	}()

	s.running = true
	return nil
}

// Stop gracefully shuts the server down, waiting up to timeout for in-flight
// requests.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("server goroutine did not exit within timeout")
	}

	if err != nil {
		return errors.Wrap(err, "Server", "Stop", "shutdown")
	}
	return nil
}
