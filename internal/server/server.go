// Package server wires the backend, auth provider, session registry and
// HTTP handlers together, and runs the HTTP server until a shutdown signal.
//
// This is the composition root: every concrete dependency is chosen here
// from config, and everything below it only sees interfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/starhunters/internal/auth"
	"github.com/sakif/starhunters/internal/config"
	"github.com/sakif/starhunters/internal/handler"
	"github.com/sakif/starhunters/internal/localstore"
	"github.com/sakif/starhunters/internal/metrics"
	"github.com/sakif/starhunters/internal/middleware"
	"github.com/sakif/starhunters/internal/photo"
	"github.com/sakif/starhunters/internal/poll"
	"github.com/sakif/starhunters/internal/repository"
	sqliteRepo "github.com/sakif/starhunters/internal/repository/sqlite"
	"github.com/sakif/starhunters/internal/session"
	"github.com/sakif/starhunters/internal/supabase"
)

// Server owns the router and every resource that must be released on
// shutdown.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger

	metrics   *metrics.Metrics
	scheduler *poll.Scheduler
	sessions  *session.Registry

	db    *sqliteRepo.DB    // nil with the supabase backend
	redis *localstore.Redis // nil unless REDIS_ADDR is set
}

// components are the pieces chosen from config.
type components struct {
	backend  repository.Backend
	provider auth.Provider
	photos   photo.Store
}

// New builds the server. Nothing is listening until Start.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	comp, err := s.buildBackend(ctx)
	if err != nil {
		s.closeResources()
		return nil, err
	}

	store, err := s.buildLocalStore(ctx)
	if err != nil {
		s.closeResources()
		return nil, err
	}

	if cfg.S3Bucket != "" {
		s3Store, err := photo.NewS3Store(ctx, photo.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			s.closeResources()
			return nil, fmt.Errorf("creating s3 photo store: %w", err)
		}
		comp.photos = s3Store
	}
	if comp.photos == nil {
		logger.Warn("no photo storage configured, profile photo upload is disabled")
	}

	notifier := auth.NewNotifier()
	s.scheduler = poll.New()
	s.sessions = session.NewRegistry(session.Deps{
		Backend:  metrics.InstrumentBackend(comp.backend, s.metrics),
		Auth:     comp.provider,
		Store:    store,
		Photos:   comp.photos,
		Poller:   s.scheduler,
		Notifier: notifier,
		Metrics:  s.metrics,
		Logger:   logger,
		Interval: cfg.PollInterval,
	})
	s.startSweep(s.sessions, cfg.SessionIdleTimeout)

	if err := s.setupRoutes(comp.provider, notifier); err != nil {
		s.closeResources()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// sweepJob is the scheduler name of the idle-session sweep.
const sweepJob = "sessions:sweep"

// startSweep evicts sessions idle for longer than idle, once a minute.
func (s *Server) startSweep(sessions *session.Registry, idle time.Duration) {
	logger := s.logger
	s.scheduler.Start(sweepJob, time.Minute, func() {
		if n := sessions.Sweep(idle); n > 0 {
			logger.Debug("evicted idle sessions", slog.Int("count", n), slog.Int("remaining", sessions.Len()))
		}
	})
}

// buildBackend picks the data backend and the matching auth provider.
func (s *Server) buildBackend(ctx context.Context) (components, error) {
	cfg := s.config
	callbackURL := cfg.PublicURL + "/auth/callback"

	switch cfg.Backend {
	case config.BackendSupabase:
		client, err := supabase.New(supabase.Config{URL: cfg.SupabaseURL, APIKey: cfg.SupabaseAnonKey})
		if err != nil {
			return components{}, err
		}
		comp := components{
			backend:  client.Database(),
			provider: client.Auth(callbackURL),
		}
		if cfg.SupabasePhotoBucket != "" {
			comp.photos = client.Storage(cfg.SupabasePhotoBucket)
		}
		return comp, nil

	default:
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return components{}, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return components{}, fmt.Errorf("opening database: %w", err)
		}
		s.db = db

		tokens, err := auth.NewTokenService(cfg.JWTSecret)
		if err != nil {
			return components{}, err
		}

		var google *auth.GoogleProvider
		if cfg.GoogleEnabled() {
			google, err = auth.NewGoogleProvider(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, callbackURL)
			if err != nil {
				// The rest of the app works without Google.
				s.logger.Warn("google sign-in unavailable", slog.String("error", err.Error()))
				google = nil
			}
		}

		return components{
			backend:  db,
			provider: auth.NewLocalProvider(db, tokens, auth.NewPasswordService(), google),
		}, nil
	}
}

// buildLocalStore picks where the per-device current user is persisted.
func (s *Server) buildLocalStore(ctx context.Context) (localstore.Store, error) {
	if s.config.RedisAddr == "" {
		return localstore.NewMemory(), nil
	}
	r, err := localstore.NewRedis(ctx, localstore.RedisOptions{
		Addr:     s.config.RedisAddr,
		Password: s.config.RedisPassword,
		DB:       s.config.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	s.redis = r
	return r, nil
}

// setupRoutes configures middleware and routes.
//
//	GET    /                         → page shell (HTML)
//	GET    /healthz                  → liveness
//	GET    /metrics                  → Prometheus
//	GET    /api/session              → session view
//	POST   /api/session/bootstrap    → re-run bootstrap
//	POST   /api/session/page         → navigate
//	POST   /api/register, /api/login → email sign-up / sign-in
//	POST   /api/onboarding           → complete profile
//	POST   /api/stars                → add a star
//	PATCH  /api/profile              → bio, map visibility
//	POST   /api/profile/photo        → upload photo
//	GET    /api/users, /api/map      → roster, map
//	POST   /api/conversation/{id}    → open conversation
//	DELETE /api/conversation         → close conversation
//	POST   /api/messages             → send message
//	GET    /auth/google/login        → start Google sign-in
//	GET    /auth/callback            → OAuth callback
//	POST   /auth/logout              → sign out
//
// Middleware runs in the order added. Cookies.Device comes last so every
// handler sees a device ID.
func (s *Server) setupRoutes(provider auth.Provider, notifier *auth.Notifier) error {
	cookies := auth.Cookies{Secure: s.config.CookieSecure}

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger, s.metrics, "/healthz", "/metrics"))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	pages, err := handler.NewPageHandler(s.sessions, provider.OAuthEnabled(), s.logger)
	if err != nil {
		return fmt.Errorf("creating page handler: %w", err)
	}
	api := handler.NewSessionHandler(s.sessions, cookies, s.logger)
	authHandler := handler.NewAuthHandler(provider, s.sessions, notifier, cookies, s.logger)

	s.router.Group(func(r chi.Router) {
		r.Use(cookies.Device)

		r.Get("/", pages.HandlePage)

		r.Route("/api", func(r chi.Router) {
			r.Get("/session", api.HandleGet)
			r.Post("/session/bootstrap", api.HandleBootstrap)
			r.Post("/session/page", api.HandleNavigate)
			r.Post("/register", api.HandleRegister)
			r.Post("/login", api.HandleLogin)
			r.Post("/onboarding", api.HandleOnboarding)
			r.Post("/stars", api.HandleAddStar)
			r.Patch("/profile", api.HandleUpdateProfile)
			r.Post("/profile/photo", api.HandleUploadPhoto)
			r.Get("/users", api.HandleUsers)
			r.Get("/map", api.HandleMap)
			r.Post("/conversation/{userID}", api.HandleSelectPartner)
			r.Delete("/conversation", api.HandleClearPartner)
			r.Post("/messages", api.HandleSendMessage)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Get("/google/login", authHandler.HandleGoogleLogin)
			r.Get("/callback", authHandler.HandleCallback)
			r.Post("/logout", authHandler.HandleLogout)
		})
	})

	return nil
}

// handleHealth reports 503 when the embedded database cannot be reached.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			s.logger.Error("health check failed", slog.String("error", err.Error()))
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully:
// stop accepting connections, drain in-flight requests, stop the refresh
// jobs, and close the stores.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.PublicURL),
			slog.String("backend", s.config.Backend),
			slog.Duration("poll_interval", s.config.PollInterval),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		s.closeResources()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)
		s.closeResources()
		if err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Close releases everything New acquired. Start calls it on the way out.
func (s *Server) Close() {
	s.closeResources()
}

func (s *Server) closeResources() {
	if s.sessions != nil {
		s.sessions.Close()
		s.sessions = nil
	}
	if s.scheduler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.scheduler.Close(ctx); err != nil {
			s.logger.Warn("refresh jobs did not stop in time", slog.String("error", err.Error()))
		}
		cancel()
		s.scheduler = nil
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("closing redis", slog.String("error", err.Error()))
		}
		s.redis = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("closing database", slog.String("error", err.Error()))
		}
		s.db = nil
	}
}
