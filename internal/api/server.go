package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/badgeflow/internal/domain"
	"github.com/dunamismax/badgeflow/internal/export"
	"github.com/dunamismax/badgeflow/internal/flow"
	"github.com/dunamismax/badgeflow/internal/id"
	"github.com/dunamismax/badgeflow/internal/logging"
	"github.com/dunamismax/badgeflow/internal/store"
)

const defaultMaxUploadBytes = 20 << 20

type Options struct {
	Logger logrus.FieldLogger
	// Deps is shared by every session's controller.
	Deps           flow.Deps
	Resolutions    export.Table
	SessionTTL     time.Duration
	MaxUploadBytes int64
	RateLimiter    RateLimiter
	ClientIDHeader string
}

type Server struct {
	logger         logrus.FieldLogger
	deps           flow.Deps
	resolutions    export.Table
	sessions       *store.SessionStore[*flow.Controller]
	maxUploadBytes int64
	rateLimiter    RateLimiter
	clientIDHeader string
	tracer         trace.Tracer
	metrics        *metrics
	mux            *http.ServeMux
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(opts.Resolutions) == 0 {
		opts.Resolutions = export.DefaultTable()
	}
	if opts.ClientIDHeader == "" {
		opts.ClientIDHeader = "X-Client-ID"
	}

	s := &Server{
		logger:         opts.Logger,
		deps:           opts.Deps,
		resolutions:    opts.Resolutions,
		sessions:       store.NewSessionStore[*flow.Controller](opts.SessionTTL),
		maxUploadBytes: opts.MaxUploadBytes,
		rateLimiter:    opts.RateLimiter,
		clientIDHeader: opts.ClientIDHeader,
		tracer:         otel.Tracer("badgeflow/api"),
		metrics:        newMetrics(),
		mux:            http.NewServeMux(),
	}
	if s.deps.Leads != nil {
		s.deps.Leads = countingLeads{next: s.deps.Leads, metrics: s.metrics}
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

// SweepSessions drops idle sessions every interval until ctx is done.
func (s *Server) SweepSessions(ctx context.Context, interval time.Duration) {
	s.sessions.Run(ctx, interval, func(dropped int) {
		s.metrics.activeSessions.Sub(float64(dropped))
		s.logger.WithField("dropped", dropped).Info("expired sessions swept")
	})
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /v1/resolutions", s.handleResolutions)

	s.mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.withSession(s.handleGetSession))
	s.mux.HandleFunc("PUT /v1/sessions/{id}/profile", s.withSession(s.handleSetProfile))
	s.mux.HandleFunc("POST /v1/sessions/{id}/photo", s.withSession(s.handleUploadPhoto))
	s.mux.HandleFunc("DELETE /v1/sessions/{id}/photo", s.withSession(s.handleRemovePhoto))
	s.mux.HandleFunc("PUT /v1/sessions/{id}/crop", s.withSession(s.handleSetCrop))
	s.mux.HandleFunc("POST /v1/sessions/{id}/crop/pan", s.withSession(s.handlePan))
	s.mux.HandleFunc("PUT /v1/sessions/{id}/filters/{field}", s.withSession(s.handleSetFilter))
	s.mux.HandleFunc("POST /v1/sessions/{id}/reset", s.withSession(s.handleReset))
	s.mux.HandleFunc("POST /v1/sessions/{id}/next", s.withSession(s.handleNext))
	s.mux.HandleFunc("POST /v1/sessions/{id}/back", s.withSession(s.handleBack))
	s.mux.HandleFunc("GET /v1/sessions/{id}/editor.png", s.withSession(s.handleEditorPreview))
	s.mux.HandleFunc("GET /v1/sessions/{id}/badge.png", s.withSession(s.handleBadgePreview))
	s.mux.HandleFunc("POST /v1/sessions/{id}/export", s.withSession(s.handleExport))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResolutions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default":     export.DefaultLabel,
		"resolutions": s.resolutions,
	})
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, c *flow.Controller)

func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !id.Valid(id.PrefixSession, sessionID) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		c, ok := s.sessions.Get(sessionID)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		next(w, r, c)
	}
}

// writeError maps pipeline errors onto status codes. Field errors carry the
// message shown next to the form field.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fieldErrs domain.FieldErrors
		fieldErr  *domain.FieldError
	)
	switch {
	case errors.As(err, &fieldErrs):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fieldErrs.Messages()})
	case errors.As(err, &fieldErr):
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrInvalidFileType) {
			status = http.StatusUnsupportedMediaType
		}
		writeJSON(w, status, map[string]any{"error": fieldErr.Message, "fields": map[string]string{fieldErr.Field: fieldErr.Message}})
	default:
		status := statusFor(err)
		msg := err.Error()
		if status >= http.StatusInternalServerError {
			s.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
			if !errors.Is(err, domain.ErrRasterization) {
				msg = "internal error"
			}
		}
		writeJSON(w, status, map[string]string{"error": msg})
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
