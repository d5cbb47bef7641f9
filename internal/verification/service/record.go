package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"optout/internal/notification"
	"optout/internal/verification/codes"
	"optout/internal/verification/models"
	dErrors "optout/pkg/domain-errors"
	"optout/pkg/platform/sentinel"
	"optout/pkg/platform/tracer"
	"optout/pkg/requestcontext"
)

// RecordPatientInformation issues or reissues a validation code for the identifier.
//
// Rules are evaluated in a fixed order and the first match wins:
//  1. input validation
//  2. caller trust level
//  3. unknown identifier: registry lookup, new row with zero retries, notify
//  4. staff caller: reissue with retries reset
//  5. lapsed or already matched code: reissue with retries reset
//  6. anonymous caller with the retry budget spent: MaxRetryExceeded
//  7. anonymous caller holding a usable code, not forcing a new one: ValidCodeExists
//  8. otherwise: reissue and count the retry
//
// A code invalidated by too many wrong guesses keeps its window, so rule 5 does not
// apply to it and the replacement is paid for from the retry budget.
func (s *Service) RecordPatientInformation(ctx context.Context, caller models.Caller, req *models.RecordPatientInformationRequest) error {
	ctx, span := s.tracer.Start(ctx, tracer.SpanRecordPatientInformation)
	err := s.recordPatientInformation(ctx, span, caller, req)
	span.End(err)
	return s.faults.Translate(ctx, "record_patient_information", err)
}

func (s *Service) recordPatientInformation(ctx context.Context, span tracer.Span, caller models.Caller, req *models.RecordPatientInformationRequest) error {
	if req == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "request is required")
	}
	req.Normalize()
	if err := recordRules.Validate(req); err != nil {
		return err
	}
	preference, err := models.ParseNotificationPreference(req.NotificationPreference)
	if err != nil {
		return err
	}
	span.SetAttributes(tracer.String(tracer.AttrIdentifierHash, tracer.HashIdentifier(req.Identifier)))

	level, err := s.gate.ResolveTrustLevel(ctx, caller)
	if err != nil {
		return s.refused(ctx, caller, "", req.Identifier, err)
	}
	span.SetAttributes(tracer.String(tracer.AttrTrustLevel, string(level)))

	now := s.clock(ctx)
	existing, err := s.store.FindByIdentifier(ctx, req.Identifier)
	if errors.Is(err, sentinel.ErrNotFound) {
		span.SetAttributes(tracer.String(tracer.AttrPath, string(models.PathCreated)))
		return s.createPatient(ctx, caller, level, req.Identifier, preference, now)
	}
	if err != nil {
		return fmt.Errorf("find patient: %w", err)
	}

	path, reset, err := s.nextIssue(level, existing, now, req.ForceNewCode)
	if err != nil {
		return s.refused(ctx, caller, level, req.Identifier, err)
	}
	span.SetAttributes(tracer.String(tracer.AttrPath, string(path)))
	return s.reissue(ctx, caller, level, existing, preference, path, reset, now)
}

// nextIssue decides how an existing patient gets a new code, or why it must not.
func (s *Service) nextIssue(level models.TrustLevel, p *models.Patient, now time.Time, force bool) (models.IssuePath, bool, error) {
	if level == models.TrustStaff {
		return models.PathStaffOverride, true, nil
	}
	if codes.IsExpired(p, now) || p.IsMatched() {
		return models.PathExpiredReset, true, nil
	}
	if p.RetryCount >= s.cfg.MaxRetries {
		return "", false, dErrors.New(dErrors.CodeMaxRetryExceeded,
			"maximum number of code requests reached; please contact support")
	}
	if p.HasOutstandingCode() && !force {
		return "", false, dErrors.New(dErrors.CodeValidCodeExists,
			"a valid code has already been sent; use it or request a new one explicitly")
	}
	return models.PathAnonymousRetry, false, nil
}

func (s *Service) createPatient(ctx context.Context, caller models.Caller, level models.TrustLevel, identifier string, preference models.NotificationPreference, now time.Time) error {
	demographics, err := s.lookupDemographics(ctx, identifier)
	if err != nil {
		return err
	}

	patient := &models.Patient{
		ID:                     uuid.New(),
		Identifier:             identifier,
		NotificationPreference: preference,
		CreatedAt:              now,
	}
	issued, err := s.lifecycle.IssueOrReissue(patient, demographics, now, true)
	if err != nil {
		return fmt.Errorf("issue code: %w", err)
	}
	if err := s.deliverable(ctx, caller, level, issued); err != nil {
		return err
	}
	if err := s.store.Create(ctx, issued); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return s.dispatch(ctx, caller, level, issued, models.PathCreated)
}

func (s *Service) reissue(ctx context.Context, caller models.Caller, level models.TrustLevel, existing *models.Patient, preference models.NotificationPreference, path models.IssuePath, reset bool, now time.Time) error {
	demographics, err := s.lookupDemographics(ctx, existing.Identifier)
	if err != nil {
		return err
	}

	issued, err := s.lifecycle.IssueOrReissue(existing, demographics, now, reset)
	if err != nil {
		return fmt.Errorf("issue code: %w", err)
	}
	if path == models.PathAnonymousRetry {
		issued.RetryCount++
	}
	issued.NotificationPreference = preference
	if err := s.deliverable(ctx, caller, level, issued); err != nil {
		return err
	}
	if err := s.store.Update(ctx, issued); err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return s.dispatch(ctx, caller, level, issued, path)
}

// deliverable refuses a code that could never reach the patient, before anything is written.
func (s *Service) deliverable(ctx context.Context, caller models.Caller, level models.TrustLevel, issued *models.Patient) error {
	if _, _, err := notification.Resolve(issued); err != nil {
		s.emitAudit(ctx, caller, level, models.AuditRefused, issued.Identifier, "no_contact_channel")
		return fmt.Errorf("route code notification: %w", err)
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, caller models.Caller, level models.TrustLevel, issued *models.Patient, path models.IssuePath) error {
	if s.metrics != nil {
		s.metrics.IncrementCodesIssued(path)
	}
	s.emitAudit(ctx, caller, level, models.AuditCodeIssued, issued.Identifier, string(path))

	if err := s.notifier.SendCodeNotification(ctx, issued); err != nil {
		return fmt.Errorf("send code notification: %w", err)
	}
	s.logger.InfoContext(ctx, "validation code issued",
		"path", string(path),
		"trust_level", string(level),
		"retry_count", issued.RetryCount,
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

// refused records a business refusal. Errors without a domain code pass through untouched.
func (s *Service) refused(ctx context.Context, caller models.Caller, level models.TrustLevel, identifier string, err error) error {
	code := dErrors.CodeOf(err)
	if code == "" {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncrementRefusals(string(code))
	}
	s.emitAudit(ctx, caller, level, models.AuditRefused, identifier, string(code))
	return err
}
