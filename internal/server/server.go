package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veriaddress/veriaddress-server/api"
	"github.com/veriaddress/veriaddress-server/internal/config"
	"github.com/veriaddress/veriaddress-server/internal/log"
	"github.com/veriaddress/veriaddress-server/internal/storage"
	"github.com/veriaddress/veriaddress-server/internal/workflow"
)

type Server struct {
	router  *chi.Mux
	public  chi.Router
	admin   chi.Router
	server  *http.Server
	db      *storage.Storage
	flow    *workflow.Controller
	baseURL string
	logger  *slog.Logger
}

func New(config *config.Config, db *storage.Storage, flow *workflow.Controller, logger *slog.Logger) *Server {
	middleware.DefaultLogger = middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log.NewLogAdapter(logger)})
	router := chi.NewRouter()
	router.Use(middlewareErrorRecoverer(logger))
	router.Use(middleware.Logger)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.URLFormat)
	router.Use(middleware.StripSlashes)
	router.Use(middleware.RedirectSlashes)
	router.Use(middleware.Timeout(config.API.Timeout))
	router.Use(middleware.Heartbeat("/ping"))

	srv := &Server{
		router:  router,
		db:      db,
		flow:    flow,
		baseURL: config.BaseURL,
		logger:  logger,
	}

	// Public API group: the applicant flow and record reads.
	srv.public = router.Group(func(r chi.Router) {
		r.Use(middleware.NoCache)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", srv.openSessionRoute)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", srv.sessionRoute)
				r.Post("/advance", srv.advanceSessionRoute)
				r.Post("/back", srv.backSessionRoute)
				r.Put("/personal", srv.personalRoute)
				r.Post("/evidence/{slot}", srv.evidenceRoute)
				r.Post("/location", srv.locationRoute)
				r.Post("/submit", srv.submitRoute)
			})
		})

		r.Post("/verifications", srv.putVerificationRoute)
		r.Route("/verifications/{id}", func(r chi.Router) {
			r.Get("/", srv.getVerificationRoute)
			r.Get("/report", srv.reportRoute)
			r.Get("/report/print", srv.reportPrintRoute)
			r.Get("/report/pdf", srv.reportPDFRoute)
		})
	})

	// Admin API group: listing, links and destructive operations.
	srv.admin = router.Group(func(r chi.Router) {
		if config.Secret != "" {
			r.Use(middlewareAuthorization(config.Secret))
		}

		r.Get("/verifications", srv.listVerificationsRoute)
		r.Post("/verifications/links", srv.createLinkRoute)
		r.Delete("/verifications", srv.deleteAllVerificationsRoute)
		r.Delete("/verifications/{id}", srv.deleteVerificationRoute)
	})

	srv.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.API.Host, config.API.Port),
		Handler:      router,
		WriteTimeout: config.API.WriteTimeout,
		ReadTimeout:  config.API.ReadTimeout,
		IdleTimeout:  config.API.IdleTimeout,
		ErrorLog:     log.NewLogAdapter(logger),
	}

	return srv
}

// Handler exposes the router, used by the HTTP tests.
func (srv *Server) Handler() http.Handler {
	return srv.router
}

// AddHealthCheck adds a health check endpoint to the server.
// The statusFunc function should return a map of status information.
func (srv *Server) AddHealthCheck(statusFunc func() (bool, map[string]string)) {
	const bytesInMb = 1024 * 1024

	startedAt := time.Now()

	srv.public.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		rsp := &api.Response{}
		ok, status := statusFunc()

		var memStats runtime.MemStats

		runtime.ReadMemStats(&memStats)

		rsp.SetData(map[string]any{
			"status": status,
			"uptime": time.Since(startedAt).String(),
			// Allocated memory / Reserved program memory
			"memory":     fmt.Sprintf("%v Mb / %v Mb", memStats.Alloc/bytesInMb, memStats.Sys/bytesInMb),
			"cpu":        runtime.NumCPU(),
			"goroutines": runtime.NumGoroutine(),
		})

		if ok {
			rsp.Ok(w)
		} else {
			rsp.SetError("One or more services are not healthy")
			rsp.InternalServerError(w)
		}
	})
}

// Status returns the server status.
func (srv *Server) Status() (string, error) {
	return "ok", nil
}

// ListenAndServe starts the server and listens for incoming requests.
func (srv *Server) ListenAndServe() error {
	return srv.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server without interrupting any active connections.
func (srv *Server) Shutdown(ctx context.Context) error {
	return srv.server.Shutdown(ctx)
}

// Close closes the server immediately.
func (srv *Server) Close() error {
	return srv.server.Close()
}

// middlewareAuthorization checks the Authorization header for a Bearer token.
func middlewareAuthorization(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				rsp := &api.Response{}
				rsp.SetError("Authorization header is required")
				rsp.Unauthorized(w)

				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				rsp := &api.Response{}
				rsp.SetError("Bearer token is required")
				rsp.Unauthorized(w)

				return
			}

			if token != secret {
				rsp := &api.Response{}
				rsp.SetError("Invalid Bearer token")
				rsp.Unauthorized(w)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// middlewareErrorRecoverer recovers from panics and returns an error response.
func middlewareErrorRecoverer(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if e, ok := err.(error); ok && errors.Is(e, http.ErrAbortHandler) {
						// The response to the client is aborted, not logged.
						panic(err)
					}

					logger.ErrorContext(r.Context(), "Recovered from panic",
						slog.String("error", fmt.Sprintf("%v", err)),
						slog.String("stack", string(debug.Stack())),
					)

					rsp := &api.Response{}
					rsp.SetError("Internal Server Error")
					rsp.InternalServerError(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
