package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"optout/internal/audit"
	"optout/internal/consent/metrics"
	"optout/internal/consent/models"
	"optout/internal/verification/gate"
	vmodels "optout/internal/verification/models"
	dErrors "optout/pkg/domain-errors"
	"optout/pkg/platform/faults"
	"optout/pkg/platform/privacy"
	"optout/pkg/platform/sentinel"
	"optout/pkg/platform/tracer"
	"optout/pkg/requestcontext"
	strutil "optout/pkg/string"
	"optout/pkg/validation"
)

// PatientStore is the slice of patient persistence a decision needs.
type PatientStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (*vmodels.Patient, error)
	Update(ctx context.Context, patient *vmodels.Patient) error
}

// DecisionStore persists decisions.
// Error Contract:
// - FindByIdentifier returns sentinel.ErrNotFound when nothing is recorded
type DecisionStore interface {
	Upsert(ctx context.Context, decision *models.Decision) error
	FindByIdentifier(ctx context.Context, identifier string) (*models.Decision, error)
}

type TrustGate interface {
	ResolveTrustLevel(ctx context.Context, caller vmodels.Caller) (vmodels.TrustLevel, error)
}

// DecisionTokens checks the token a successful code match handed to the patient.
type DecisionTokens interface {
	MatchesDecisionToken(patient *vmodels.Patient, token string) bool
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Clock func(ctx context.Context) time.Time

type Config struct {
	DecisionWindow time.Duration
	WorkflowRoles  []string
}

// Service records opt-in/opt-out decisions against patients who proved their code.
type Service struct {
	patients  PatientStore
	decisions DecisionStore
	tx        TxRunner
	gate      TrustGate
	tokens    DecisionTokens
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

func WithClock(clock Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

func New(patients PatientStore, decisions DecisionStore, tx TxRunner, gate TrustGate, tokens DecisionTokens, cfg Config, opts ...Option) (*Service, error) {
	if patients == nil || decisions == nil || tx == nil || gate == nil || tokens == nil {
		return nil, errors.New("patient store, decision store, tx runner, gate and token checker are required")
	}
	if cfg.DecisionWindow <= 0 {
		return nil, fmt.Errorf("decision window must be positive, got %s", cfg.DecisionWindow)
	}
	svc := &Service{
		patients:  patients,
		decisions: decisions,
		tx:        tx,
		gate:      gate,
		tokens:    tokens,
		cfg:       cfg,
		tracer:    tracer.NewNoop(),
		logger:    slog.Default(),
		clock:     requestcontext.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.faults = faults.NewTranslator("consent", svc.logger)
	return svc, nil
}

var decisionRules = validation.Rules[*models.RecordDecisionRequest]{
	{Field: "identifier", Message: "must be exactly 10 digits", Check: func(r *models.RecordDecisionRequest) bool {
		return len(r.Identifier) == vmodels.IdentifierLength && strutil.IsDigits(r.Identifier)
	}},
	{Field: "choice", Message: "must be one of opt_in, opt_out", Check: func(r *models.RecordDecisionRequest) bool {
		_, err := models.ParseChoice(r.Choice)
		return err == nil
	}},
	{Field: "decision_token", Message: "is required", Check: func(r *models.RecordDecisionRequest) bool {
		return r.DecisionToken != ""
	}},
}

var identifierRules = validation.Rules[string]{
	{Field: "identifier", Message: "must be exactly 10 digits", Check: func(id string) bool {
		return len(id) == vmodels.IdentifierLength && strutil.IsDigits(id)
	}},
}

// RecordDecision stores the caller's choice for a patient whose code was matched within the
// decision window. The request must carry the decision token that match returned, so only
// whoever presented the code can decide. The code and token are then retired so they cannot
// back a second decision.
func (s *Service) RecordDecision(ctx context.Context, caller vmodels.Caller, req models.RecordDecisionRequest) (_ *models.Decision, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanRecordDecision,
		tracer.String(tracer.AttrIdentifierHash, tracer.HashIdentifier(req.Identifier)),
	)
	defer func() { span.End(err) }()

	decision, err := s.recordDecision(ctx, caller, &req)
	if err != nil {
		if code := dErrors.CodeOf(err); code != "" && s.metrics != nil {
			s.metrics.IncrementDecisionsRefused(string(code))
		}
		return nil, s.faults.Translate(ctx, "record_decision", err)
	}
	return decision, nil
}

func (s *Service) recordDecision(ctx context.Context, caller vmodels.Caller, req *models.RecordDecisionRequest) (*models.Decision, error) {
	req.Normalize()
	if err := decisionRules.Validate(req); err != nil {
		return nil, err
	}
	choice, _ := models.ParseChoice(req.Choice)

	level, err := s.gate.ResolveTrustLevel(ctx, caller)
	if err != nil {
		return nil, err
	}

	channel := models.ChannelPublic
	if level == vmodels.TrustStaff {
		channel = models.ChannelStaff
	}

	var decision *models.Decision
	err = s.tx.RunInTx(ctx, req.Identifier, func(ctx context.Context) error {
		patient, err := s.patients.FindByIdentifier(ctx, req.Identifier)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotVerified, "patient has not verified a code")
		}
		if err != nil {
			return fmt.Errorf("find patient: %w", err)
		}

		now := s.clock(ctx)
		if !s.verifiedForDecision(patient, req.DecisionToken, now) {
			return dErrors.New(dErrors.CodeNotVerified, "patient has not verified a code recently enough to record a decision")
		}

		decision = &models.Decision{
			ID:                uuid.New(),
			PatientIdentifier: patient.Identifier,
			Choice:            choice,
			Channel:           channel,
			RecordedBy:        caller.Actor(),
			RecordedAt:        now,
		}
		if err := s.decisions.Upsert(ctx, decision); err != nil {
			return fmt.Errorf("upsert decision: %w", err)
		}

		patient.ClearCode()
		patient.UpdatedAt = now
		if err := s.patients.Update(ctx, patient); err != nil {
			return fmt.Errorf("retire code: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementDecisionsRecorded(string(choice))
	}
	s.emitAudit(ctx, caller, level, req.Identifier, string(choice))
	s.logger.InfoContext(ctx, "decision recorded",
		"identifier", privacy.MaskIdentifier(req.Identifier),
		"choice", string(choice),
		"channel", string(channel),
		"request_id", requestcontext.RequestID(ctx),
	)
	return decision, nil
}

// verifiedForDecision requires a match on the code that is still outstanding and the token that
// match issued. Issuing a new code clears the match time and token, and recording a decision
// clears the code, so each match backs one decision.
func (s *Service) verifiedForDecision(p *vmodels.Patient, token string, now time.Time) bool {
	if !p.HasOutstandingCode() || !p.IsMatched() {
		return false
	}
	if now.After(p.ValidationCodeMatchedOn.Add(s.cfg.DecisionWindow)) {
		return false
	}
	return s.tokens.MatchesDecisionToken(p, token)
}

// GetDecision returns the recorded decision. Staff only.
func (s *Service) GetDecision(ctx context.Context, caller vmodels.Caller, identifier string) (*models.Decision, error) {
	decision, err := s.getDecision(ctx, caller, identifier)
	if err != nil {
		return nil, s.faults.Translate(ctx, "get_decision", err)
	}
	return decision, nil
}

func (s *Service) getDecision(ctx context.Context, caller vmodels.Caller, identifier string) (*models.Decision, error) {
	if err := identifierRules.Validate(identifier); err != nil {
		return nil, err
	}
	if err := gate.RequireRole(caller, s.cfg.WorkflowRoles); err != nil {
		return nil, err
	}
	decision, err := s.decisions.FindByIdentifier(ctx, identifier)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no decision recorded for patient")
	}
	if err != nil {
		return nil, fmt.Errorf("find decision: %w", err)
	}
	return decision, nil
}

func (s *Service) emitAudit(ctx context.Context, caller vmodels.Caller, level vmodels.TrustLevel, identifier, choice string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Emit(ctx, audit.Event{
		Action:     vmodels.AuditDecisionRecorded,
		Identifier: privacy.MaskIdentifier(identifier),
		Actor:      caller.Actor(),
		TrustLevel: string(level),
		Reason:     choice,
		Device:     requestcontext.Device(ctx),
		ClientIP:   privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", vmodels.AuditDecisionRecorded,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}
