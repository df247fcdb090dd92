// Package api serves the registration endpoint, health probe, metrics and
// the static sign-up page.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"birthday_notifier/internal/domain"
	"birthday_notifier/internal/feature/registration"
	"birthday_notifier/internal/logging"
	"birthday_notifier/internal/metrics"
)

const (
	mongoPingTimeout  = 2 * time.Second
	readHeaderTimeout = 5 * time.Second
	maxBodyBytes      = 1 << 20
	listenPrefix      = ":"
)

// Response messages for POST /register.
const (
	msgRegistered     = "User registered successfully"
	msgRequired       = "All fields are required"
	msgDuplicate      = "Email already registered"
	msgInvalidEmail   = "Invalid email address"
	msgInvalidDOB     = "Invalid date of birth"
	msgInvalidBody    = "Invalid request body"
	msgBodyTooLarge   = "Request body too large"
	msgInternalFailed = "Server error"
)

// MongoChecker defines the subset of MongoDB client behavior required for health.
type MongoChecker interface {
	Ping(ctx context.Context) error
}

// Registerer creates users from registration input.
type Registerer interface {
	Register(ctx context.Context, in registration.Input) (domain.User, error)
}

// Options configures the listener and optional static directory.
type Options struct {
	Port      int
	StaticDir string
}

// Server hosts the HTTP surface and owns the underlying HTTP server.
type Server struct {
	server       *http.Server
	logger       *logrus.Entry
	registrar    Registerer
	mongoChecker MongoChecker
	metrics      *metrics.Metrics
}

type healthResponse struct {
	Status string `json:"status"`
	Mongo  string `json:"mongo,omitempty"`
}

type messageResponse struct {
	Message string       `json:"message"`
	User    *domain.User `json:"user,omitempty"`
}

// NewServer constructs the router. m may be nil, in which case /metrics serves
// the default Prometheus registry.
func NewServer(opts Options, registrar Registerer, mongoChecker MongoChecker, m *metrics.Metrics, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger:       logger,
		registrar:    registrar,
		mongoChecker: mongoChecker,
		metrics:      m,
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", listenPrefix, opts.Port),
		Handler:           srv.routes(opts.StaticDir),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

func (s *Server) routes(staticDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.metrics.Middleware)

	r.Post("/register", s.handleRegister)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	if staticDir != "" {
		if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(staticDir)))
		} else {
			s.logger.WithFields(logging.Fields{
				"event": "static_dir_missing",
				"dir":   staticDir,
			}).Warn("static directory not found, sign-up page disabled")
		}
	}

	return r
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "http_listen",
		"addr":  s.server.Addr,
	}).Info("starting http server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server listen: %w", err)
	}

	s.logger.WithField("event", "http_stopped").Info("http server stopped")
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.registrar == nil {
		s.logger.WithField("event", "registrar_missing").Error("registrar is not configured")
		writeJSON(w, s.logger, http.StatusInternalServerError, messageResponse{Message: msgInternalFailed})
		return
	}

	var in registration.Input
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	// An empty body is treated as empty input so the missing fields are reported.
	if err := dec.Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, s.logger, http.StatusRequestEntityTooLarge, messageResponse{Message: msgBodyTooLarge})
			return
		}
		writeJSON(w, s.logger, http.StatusBadRequest, messageResponse{Message: msgInvalidBody})
		return
	}

	user, err := s.registrar.Register(r.Context(), in)
	if err != nil {
		status, msg := registrationError(err)
		writeJSON(w, s.logger, status, messageResponse{Message: msg})
		return
	}

	writeJSON(w, s.logger, http.StatusCreated, messageResponse{Message: msgRegistered, User: &user})
}

func registrationError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, msgRequired
	case errors.Is(err, domain.ErrDuplicate):
		return http.StatusBadRequest, msgDuplicate
	case errors.Is(err, domain.ErrInvalidEmail):
		return http.StatusBadRequest, msgInvalidEmail
	case errors.Is(err, domain.ErrInvalidDateOfBirth):
		return http.StatusBadRequest, msgInvalidDOB
	default:
		return http.StatusInternalServerError, msgInternalFailed
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	mongoStatus := "ok"

	if s.mongoChecker == nil {
		mongoStatus = "error"
		s.logger.WithField("event", "health_mongo_missing").Warn("mongo checker is not configured for health endpoint")
	} else {
		pingCtx, cancel := context.WithTimeout(r.Context(), mongoPingTimeout)
		err := s.mongoChecker.Ping(pingCtx)
		cancel()

		if err != nil {
			mongoStatus = "error"
			s.logger.WithField("event", "health_mongo_error").WithError(err).Warn("mongo ping failed during health check")
		}
	}

	if mongoStatus != "ok" {
		resp.Status = "degraded"
		resp.Mongo = "error"
	}

	writeJSON(w, s.logger, http.StatusOK, resp)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		entry := s.logger.WithFields(logging.Fields{
			"event":       "http_request",
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	})
}

func writeJSON(w http.ResponseWriter, logger *logrus.Entry, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithField("event", "http_write_error").WithError(err).Error("failed to encode response")
	}
}
