// Package httpserver wires the panel's HTTP API: routing, session
// authentication and request logging.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalapanel/lalapanel/internal/modules/database"
	"github.com/lalapanel/lalapanel/internal/modules/hosting"
	"github.com/lalapanel/lalapanel/internal/modules/iam"
	"github.com/lalapanel/lalapanel/internal/modules/sysusers"
	"github.com/lalapanel/lalapanel/internal/platform/config"
	"github.com/lalapanel/lalapanel/internal/platform/registry"
	"github.com/lalapanel/lalapanel/internal/platform/systemd"
)

// Server knows how to serve the panel API.
type Server struct {
	log    *zap.Logger
	cfg    *config.AppConfig
	reg    *registry.Store
	auth   *iam.Service
	runner systemd.Runner

	hosting  *hosting.Handler
	database *database.Handler
	sysusers *sysusers.Handler
}

// New creates a Server. To start serving requests call Server.Serve.
func New(
	log *zap.Logger,
	cfg *config.AppConfig,
	reg *registry.Store,
	auth *iam.Service,
	runner systemd.Runner,
	hostingHandler *hosting.Handler,
	databaseHandler *database.Handler,
	sysusersHandler *sysusers.Handler,
) *Server {
	return &Server{
		log:      log,
		cfg:      cfg,
		reg:      reg,
		auth:     auth,
		runner:   runner,
		hosting:  hostingHandler,
		database: databaseHandler,
		sysusers: sysusersHandler,
	}
}

// Serve starts the HTTP server. This is a blocking call; to stop serving,
// cancel the passed context.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	e := make(chan error, 1)
	go func() {
		e <- srv.ListenAndServe()
	}()

	s.log.Info("HTTP server is running", zap.String("addr", s.cfg.HTTP.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case err := <-e:
		return err
	}
}

// Router builds the full API router.
func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()

	mux.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.requestLogger,
		middleware.Recoverer,
		middleware.Heartbeat("/healthz"),
	)

	mux.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.handleMe)
			r.Get("/status", s.handleStatus)
			r.Post("/services/{name}/restart", s.handleRestartService)
			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handlePutSettings)

			s.hosting.Routes(r)
			s.database.Routes(r)
			s.sysusers.Routes(r)
		})
	})

	return mux
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
