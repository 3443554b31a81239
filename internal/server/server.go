package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"qwenauth/internal/session"
	"qwenauth/pkg/logging"
)

// Device-code requests are throttled per client IP at ten per minute.
const (
	deviceCodeRatePerMinute = 10
	shutdownGrace           = 10 * time.Second
)

// Server exposes the browser-mediated device-authorization flow over
// HTTP.
type Server struct {
	httpServer *http.Server
	sessions   *session.Manager
}

// Options carries the collaborators the HTTP layer needs.
type Options struct {
	Addr     string
	Client   OAuthClient
	Sessions *session.Manager

	// Sink, when set, receives tokens obtained through the browser
	// flow. Usually the token manager.
	Sink TokenSink

	// AllowedOrigins for CORS. Empty means same-origin only.
	AllowedOrigins []string
}

// New builds the server with its router wired. Call ListenAndServe to
// start it.
func New(opts Options) *Server {
	s := &Server{
		sessions: opts.Sessions,
		httpServer: &http.Server{
			Addr:              opts.Addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.httpServer.Handler = newRouter(opts)
	return s
}

func newRouter(opts Options) http.Handler {
	h := &handler{
		client:   opts.Client,
		sessions: opts.Sessions,
		sink:     opts.Sink,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	deviceCodeLimiter := newIPRateLimiter(
		rate.Every(time.Minute/deviceCodeRatePerMinute), deviceCodeRatePerMinute)

	r.Route("/api/qwen/oauth", func(r chi.Router) {
		r.With(deviceCodeLimiter.middleware).Post("/device-code", h.handleDeviceCode)
		r.Get("/status", h.handleStatus)
	})

	return r
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	logging.Info("Server", "Listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the session manager.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if s.sessions != nil {
		if serr := s.sessions.Shutdown(ctx); err == nil {
			err = serr
		}
	}
	logging.Info("Server", "HTTP server stopped")
	return err
}
