// Package api exposes finding intake and service health over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lvonguyen/quarantine/internal/api/gateway"
	"github.com/lvonguyen/quarantine/internal/finding"
	"github.com/lvonguyen/quarantine/internal/observability"
	"github.com/lvonguyen/quarantine/internal/orchestrator"
	"github.com/lvonguyen/quarantine/internal/remediation"
)

const maxEventBytes = 1 << 20

// Runner executes a quarantine run.
type Runner interface {
	Run(ctx context.Context, target remediation.Target) (*orchestrator.Report, error)
}

// Options wires the router's collaborators. Guard, Metrics,
// MetricsHandler and RunContext are optional. Cancelling RunContext cancels
// every in-flight run.
type Options struct {
	Runner         Runner
	RunContext     context.Context
	Registry       *remediation.Registry
	Guard          *gateway.DispatchGuard
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	FindingSource  string
	Version        string
}

type server struct {
	opts   Options
	logger *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	s := &server{opts: opts, logger: opts.Logger}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	// Quarantine runs are bounded by the engine's own run timeout.
	r.Post("/api/v1/findings", s.handleFinding)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/api/v1/actions", s.handleListActions)
		if opts.MetricsHandler != nil {
			r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
		}
	})

	return r
}

// observe logs and records every request.
func (s *server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		s.opts.Metrics.RequestObserved(r.Method, path, ww.Status(), elapsed)
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": s.opts.Version})
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Guard != nil {
		if err := s.opts.Guard.Ping(r.Context()); err != nil {
			// The guard fails open, so a missing store degrades but does not block.
			writeJSON(w, http.StatusOK, map[string]string{"status": "degraded", "dispatch_lock": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *server) handleListActions(w http.ResponseWriter, r *http.Request) {
	var descs []remediation.Descriptor
	if s.opts.Registry != nil {
		descs = s.opts.Registry.Descriptors()
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": descs, "count": len(descs)})
}

func (s *server) handleFinding(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	f, err := finding.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target := f.Target(s.opts.FindingSource)
	log := s.logger.With(zap.String("instance_id", target.InstanceID), zap.String("finding_id", target.FindingID))

	if s.opts.Guard != nil {
		lease, err := s.opts.Guard.Acquire(r.Context(), target.InstanceID)
		if errors.Is(err, gateway.ErrInFlight) {
			log.Info("Quarantine already in flight, rejecting duplicate dispatch")
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		defer lease.Release(r.Context())
	}

	// The run survives a caller disconnect but not service shutdown.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(s.runContext(), cancel)
	defer stop()

	report, err := s.opts.Runner.Run(runCtx, target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// runContext is the service lifetime context runs are bound to.
func (s *server) runContext() context.Context {
	if s.opts.RunContext == nil {
		return context.Background()
	}
	return s.opts.RunContext
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
