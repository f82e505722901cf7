// Package server provides the HTTP handlers and routing for the authcache
// service.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/apex/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"authcache/internal/cache"
	"authcache/internal/config"
	"authcache/internal/data"
	"authcache/internal/logging"
	"authcache/internal/users"
	"authcache/web"
)

// Deps are the stores the Server is built around. Nil fields are replaced
// with defaults derived from the config.
type Deps struct {
	Users *users.Store
	Cache data.Cache
	// DataOptions are passed through to data.NewService.
	DataOptions []data.Option
	// SessionStore backs the session manager; memstore when nil.
	SessionStore scs.Store
}

// Server contains the configured router, stores, session manager and
// metrics for the service.
type Server struct {
	cfg      config.Config
	router   *chi.Mux
	users    *users.Store
	data     *data.Service
	sessions *scs.SessionManager
	metrics  *Metrics
}

// New constructs a Server with middleware and routes configured.
func New(cfg config.Config, deps Deps) *Server {
	if deps.Users == nil {
		deps.Users = users.NewStore(users.WithDemoAccount(cfg.Demo))
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(cfg.CacheFile, cfg.CacheTTL)
	}
	if deps.SessionStore == nil {
		deps.SessionStore = memstore.New()
	}

	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		users:    deps.Users,
		sessions: newSessionManager(cfg, deps.SessionStore),
		metrics:  NewMetrics("authcache"),
	}
	dataOpts := append([]data.Option{data.WithObserver(s.metrics.RecordCacheLookup)}, deps.DataOptions...)
	s.data = data.NewService(deps.Cache, dataOpts...)

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logging.RequestLogger{}, NoColor: true}))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Group(func(r chi.Router) {
		r.Use(s.sessions.LoadAndSave)
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Get("/check-auth", s.handleCheckAuth)
		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/data", s.handleData)
		})
	})

	s.router.Handle("/*", http.FileServer(http.FS(web.Static())))

	return s
}

// Router exposes the root HTTP handler for the server.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe serves until ctx is canceled, then drains in-flight
// requests for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.TLS() {
			log.Info("TLS enabled: using provided certificate and key")
			errCh <- srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	log.WithField("addr", s.cfg.Addr).Info("authcache listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
