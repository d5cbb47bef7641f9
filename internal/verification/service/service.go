// Package service implements the patient identity verification workflow.
//
// Every public method validates input, resolves the caller's trust level, and only then
// touches the store, the patient registry or the notifier. Each method is a thin wrapper
// that hands whatever the workflow returned to the fault translator, so callers only ever
// see *faults.Fault values.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"optout/internal/audit"
	"optout/internal/verification/codes"
	"optout/internal/verification/metrics"
	"optout/internal/verification/models"
	"optout/pkg/platform/faults"
	"optout/pkg/platform/privacy"
	"optout/pkg/platform/tracer"
	"optout/pkg/requestcontext"
)

// Store persists patients.
// Error Contract:
// - FindByIdentifier returns sentinel.ErrNotFound when no row exists
// - Create and Update return sentinel.ErrConflict on a duplicate identifier or stale version
type Store interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.Patient, error)
	Create(ctx context.Context, patient *models.Patient) error
	Update(ctx context.Context, patient *models.Patient) error
}

// Lookup resolves an identifier to the registry's current demographics.
type Lookup interface {
	Lookup(ctx context.Context, identifier string) (*models.Demographics, error)
}

// Notifier delivers the plaintext code carried on the patient for this request.
type Notifier interface {
	SendCodeNotification(ctx context.Context, patient *models.Patient) error
}

// TrustGate classifies the caller.
type TrustGate interface {
	ResolveTrustLevel(ctx context.Context, caller models.Caller) (models.TrustLevel, error)
}

// AuditPublisher records workflow events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Clock returns the instant the workflow treats as now.
type Clock func(ctx context.Context) time.Time

// Config carries the verification policy the workflow enforces.
type Config struct {
	MaxRetries        int
	MaxVerifyAttempts int
	CodeLength        int
	WorkflowRoles     []string
	AdminRoles        []string
}

type Service struct {
	store     Store
	lookup    Lookup
	notifier  Notifier
	gate      TrustGate
	lifecycle *codes.Lifecycle
	cfg       Config

	auditor AuditPublisher
	metrics *metrics.Metrics
	tracer  tracer.Tracer
	logger  *slog.Logger
	clock   Clock
	faults  *faults.Translator
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

// WithClock overrides the default request-scoped clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

func New(store Store, lookup Lookup, notifier Notifier, gate TrustGate, lifecycle *codes.Lifecycle, cfg Config, opts ...Option) (*Service, error) {
	if store == nil || lookup == nil || notifier == nil || gate == nil || lifecycle == nil {
		return nil, errors.New("store, lookup, notifier, gate and lifecycle are required")
	}
	if cfg.MaxRetries <= 0 || cfg.MaxVerifyAttempts <= 0 || cfg.CodeLength <= 0 {
		return nil, fmt.Errorf("invalid verification config: %+v", cfg)
	}
	svc := &Service{
		store:     store,
		lookup:    lookup,
		notifier:  notifier,
		gate:      gate,
		lifecycle: lifecycle,
		cfg:       cfg,
		tracer:    tracer.NewNoop(),
		logger:    slog.Default(),
		clock:     requestcontext.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.faults = faults.NewTranslator("verification", svc.logger)
	return svc, nil
}

func (s *Service) emitAudit(ctx context.Context, caller models.Caller, level models.TrustLevel, action, identifier, reason string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Emit(ctx, audit.Event{
		Action:     action,
		Identifier: privacy.MaskIdentifier(identifier),
		Actor:      caller.Actor(),
		TrustLevel: string(level),
		Reason:     reason,
		Device:     requestcontext.Device(ctx),
		ClientIP:   privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", action,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

func (s *Service) lookupDemographics(ctx context.Context, identifier string) (*models.Demographics, error) {
	start := time.Now()
	demographics, err := s.lookup.Lookup(ctx, identifier)
	if s.metrics != nil {
		s.metrics.ObserveLookupLatency(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("lookup patient: %w", err)
	}
	return demographics, nil
}
