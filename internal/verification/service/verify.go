package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"optout/internal/verification/codes"
	"optout/internal/verification/models"
	dErrors "optout/pkg/domain-errors"
	"optout/pkg/platform/sentinel"
	"optout/pkg/platform/tracer"
)

const (
	checkMatched     = "matched"
	checkMismatch    = "mismatch"
	checkExpired     = "expired"
	checkInvalidated = "invalidated"
)

var errCodeMismatch = dErrors.New(dErrors.CodeCodeMismatch, "code does not match")

// VerifyCode proves control of the contact channel by presenting the issued code.
// A successful match records ValidationCodeMatchedOn and returns a decision token that
// authorizes one decision. Presenting the code again keeps the match time and rotates the
// token. Unknown identifiers and identifiers without an outstanding code report a mismatch
// so the response does not reveal whether a patient exists.
func (s *Service) VerifyCode(ctx context.Context, caller models.Caller, req *models.VerifyCodeRequest) (*models.VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanVerifyCode)
	result, err := s.verifyCode(ctx, caller, req)
	span.End(err)
	if err != nil {
		return nil, s.faults.Translate(ctx, "verify_code", err)
	}
	return result, nil
}

func (s *Service) verifyCode(ctx context.Context, caller models.Caller, req *models.VerifyCodeRequest) (*models.VerifyResult, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "request is required")
	}
	req.Normalize()
	if err := verifyRules(s.cfg.CodeLength).Validate(req); err != nil {
		return nil, err
	}

	level, err := s.gate.ResolveTrustLevel(ctx, caller)
	if err != nil {
		return nil, s.refused(ctx, caller, "", req.Identifier, err)
	}

	patient, err := s.store.FindByIdentifier(ctx, req.Identifier)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.recordCheck(checkMismatch)
		return nil, errCodeMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("find patient: %w", err)
	}
	if !patient.HasOutstandingCode() {
		s.recordCheck(checkMismatch)
		return nil, errCodeMismatch
	}

	now := s.clock(ctx)
	if codes.IsExpired(patient, now) {
		s.recordCheck(checkExpired)
		return nil, dErrors.New(dErrors.CodeCodeExpired, "code has expired; request a new one")
	}

	if !s.lifecycle.Matches(patient, req.Code) {
		return nil, s.recordMismatch(ctx, caller, level, patient, now)
	}

	firstMatch := !patient.IsMatched()
	if firstMatch {
		patient.ValidationCodeMatchedOn = &now
	}
	token, err := s.lifecycle.IssueDecisionToken(patient)
	if err != nil {
		return nil, err
	}
	patient.VerifyFailures = 0
	patient.UpdatedAt = now
	if err := s.store.Update(ctx, patient); err != nil {
		return nil, fmt.Errorf("update patient: %w", err)
	}
	s.recordCheck(checkMatched)
	if firstMatch {
		s.emitAudit(ctx, caller, level, models.AuditCodeMatched, patient.Identifier, "")
	}
	return &models.VerifyResult{DecisionToken: token}, nil
}

func (s *Service) recordMismatch(ctx context.Context, caller models.Caller, level models.TrustLevel, patient *models.Patient, now time.Time) error {
	patient.VerifyFailures++
	patient.UpdatedAt = now
	invalidated := patient.VerifyFailures >= s.cfg.MaxVerifyAttempts
	if invalidated {
		patient.InvalidateCode()
	}
	if err := s.store.Update(ctx, patient); err != nil {
		return fmt.Errorf("update patient: %w", err)
	}

	if invalidated {
		s.recordCheck(checkInvalidated)
		s.emitAudit(ctx, caller, level, models.AuditCodeMismatch, patient.Identifier, checkInvalidated)
		return dErrors.New(dErrors.CodeCodeMismatch, "code does not match; too many attempts, request a new code")
	}
	s.recordCheck(checkMismatch)
	s.emitAudit(ctx, caller, level, models.AuditCodeMismatch, patient.Identifier, checkMismatch)
	return errCodeMismatch
}

func (s *Service) recordCheck(result string) {
	if s.metrics != nil {
		s.metrics.IncrementCodeChecks(result)
	}
}
