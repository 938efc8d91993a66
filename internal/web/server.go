package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cjeanneret/snapgo/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, handlers *Handlers) *Server {
	return &Server{
		addr:     addr,
		handlers: handlers,
	}
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /camera/open", s.handlers.HandleOpen)
	mux.HandleFunc("POST /camera/snapshot", s.handlers.HandleSnapshot)
	mux.HandleFunc("POST /camera/close", s.handlers.HandleClose)
	mux.HandleFunc("POST /camera/permission", s.handlers.HandlePermission)
	mux.HandleFunc("GET /camera/state", s.handlers.HandleState)
	mux.HandleFunc("GET /snapshots/latest", s.handlers.HandleLatest)
	mux.HandleFunc("POST /sequence", s.handlers.HandleSequence)
	mux.HandleFunc("GET /config", s.handlers.HandleConfig)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.HandleFunc("GET /events/ws", s.handlers.HandleEventsWS)

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
// Sequences started over HTTP are cancelled with ctx.
func (s *Server) Run(ctx context.Context) error {
	s.handlers.baseCtx = ctx
	srv := &http.Server{Addr: s.addr, Handler: s.Mux()}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
