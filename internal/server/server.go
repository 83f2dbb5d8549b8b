package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/klauspost/compress/gzhttp"

	"pubsrv/internal/accesslog"
	"pubsrv/internal/config"
	"pubsrv/internal/errors"
	"pubsrv/internal/static"
)

// Server represents the publications HTTP server
type Server struct {
	router    http.Handler
	server    *http.Server
	addr      string
	compress  bool
	logger    *slog.Logger
	accessLog io.Writer
	static    *static.Responder

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new HTTP server instance. Diagnostics go to logger,
// access lines to accessLog.
func NewServer(cfg *config.Config, files *static.Responder, logger *slog.Logger, accessLog io.Writer) *Server {
	if files == nil {
		files = static.Disabled()
	}
	s := &Server{
		addr:      cfg.Addr(),
		compress:  cfg.Compress,
		logger:    logger,
		accessLog: accessLog,
		static:    files,
	}

	s.router = s.routes()

	// No timeouts: the platform defaults apply.
	s.server = &http.Server{
		Addr:     s.addr,
		Handler:  s.applyMiddleware(s.router),
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return s
}

// Listen binds the configured address. A bind failure is a StartupFault.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(errors.StartupFault, err, "listen on %s", s.addr)
	}
	s.listener = ln
	s.logger.Debug("Listener bound", "addr", ln.Addr().String())
	return nil
}

// Serve accepts connections on the bound listener until Shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln == nil {
		return errors.New(errors.StartupFault, "serve called before listen")
	}

	s.logger.Info("Serving publications", "addr", ln.Addr().String(), "root", s.static.Dir(), "compress", s.compress)
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(errors.StartupFault, err, "serve")
	}
	return nil
}

// Start binds and serves.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Addr returns the bound address once listening, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.Wrap(errors.InternalError, err, "shutdown")
	}

	// A listener that never reached Serve is not tracked by http.Server.
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	s.logger.Info("Server shut down successfully")
	return nil
}

// ServeHTTP runs the full middleware chain without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// applyMiddleware wraps the handler with middleware in the correct order
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	// Apply middleware in reverse order (last one wraps first)
	handler = RecoveryMiddleware(s.logger)(handler)
	if s.compress {
		handler = gzhttp.GzipHandler(handler)
	}
	handler = RequestIDMiddleware()(handler)
	handler = accesslog.Middleware(s.accessLog)(handler)
	return handler
}
