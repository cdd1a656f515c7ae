package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/badgeflow/internal/config"
	"github.com/dunamismax/badgeflow/internal/domain"
	"github.com/dunamismax/badgeflow/internal/queue"
	"github.com/dunamismax/badgeflow/internal/store"
)

type Server struct {
	logger       logrus.FieldLogger
	server       *asynq.Server
	sem          chan struct{}
	leadEndpoint string
	leadSender   leadSender
	leadStore    store.LeadStore
	metrics      *metrics
	tracer       trace.Tracer
}

type leadSender interface {
	DeliverLead(ctx context.Context, endpoint string, lead domain.Lead) (int, error)
}

func NewServer(
	logger logrus.FieldLogger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	leadCfg config.LeadConfig,
	sender leadSender,
	leadStore store.LeadStore,
) (*Server, error) {
	if leadStore == nil {
		return nil, fmt.Errorf("lead store is required")
	}
	if sender == nil && leadCfg.Endpoint != "" {
		return nil, fmt.Errorf("lead endpoint configured without a sender")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.WithFields(logrus.Fields{
						"type":  task.Type(),
						"retry": fmt.Sprintf("%d/%d", retried, maxRetry),
					}).WithError(err).Warn("task failed")
				}),
			},
		),
		sem:          make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		leadEndpoint: leadCfg.Endpoint,
		leadSender:   sender,
		leadStore:    leadStore,
		metrics:      newMetrics(),
		tracer:       otel.Tracer("badgeflow/worker"),
	}
	return s, nil
}

// Run blocks until the process receives SIGTERM or SIGINT.
func (s *Server) Run() error {
	return s.server.Run(s.mux())
}

// Start begins processing in the background. Stop it with Shutdown.
func (s *Server) Start() error {
	return s.server.Start(s.mux())
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeSubmitLead, s.handleSubmitLead)
	return mux
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleSubmitLead(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseSubmitLeadPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.processLead(ctx, payload)
}

func (s *Server) processLead(ctx context.Context, payload queue.SubmitLeadPayload) error {
	startedAt := time.Now()
	outcome := domain.LeadStatusFailed

	ctx, span := s.tracer.Start(ctx, "worker.submit_lead", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("lead.id", payload.LeadID),
		attribute.String("session.id", payload.SessionID),
	)
	defer span.End()
	defer func() {
		s.metrics.leadDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.leadsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeLeads.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeLeads.Dec()
	}()

	logger := s.logger.WithFields(logrus.Fields{
		"lead_id":    payload.LeadID,
		"session_id": payload.SessionID,
	})

	lead := domain.Lead{
		ID:        payload.LeadID,
		SessionID: payload.SessionID,
		Profile:   payload.Profile,
		Status:    domain.LeadStatusQueued,
		CreatedAt: payload.RequestedAt,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.leadStore.Create(ctx, lead); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		return fmt.Errorf("store lead: %w", err)
	}

	if s.leadEndpoint == "" {
		outcome = domain.LeadStatusRecorded
		s.recordAttempt(ctx, logger, lead.ID, outcome, 0, "")
		span.SetStatus(codes.Ok, "recorded")
		return nil
	}

	attempts, err := s.leadSender.DeliverLead(ctx, s.leadEndpoint, lead)
	s.metrics.deliveryAttempts.Add(float64(attempts))
	if err != nil {
		s.recordAttempt(ctx, logger, lead.ID, domain.LeadStatusFailed, attempts, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("deliver lead: %w", err)
	}

	outcome = domain.LeadStatusDelivered
	s.recordAttempt(ctx, logger, lead.ID, outcome, attempts, "")
	logger.WithField("attempts", attempts).Info("lead delivered")
	span.SetStatus(codes.Ok, "delivered")
	return nil
}

func (s *Server) recordAttempt(ctx context.Context, logger logrus.FieldLogger, leadID, status string, attempts int, lastErr string) {
	if _, err := s.leadStore.RecordAttempt(ctx, leadID, status, attempts, lastErr); err != nil {
		logger.WithError(err).WithField("status", status).Warn("lead status update failed")
	}
}
