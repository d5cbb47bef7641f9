package service

import (
	"context"
	"errors"
	"fmt"

	"optout/internal/verification/codes"
	"optout/internal/verification/gate"
	"optout/internal/verification/models"
	dErrors "optout/pkg/domain-errors"
	"optout/pkg/platform/sentinel"
)

// ResetRetries zeroes the retry budget without issuing a code. Admin role required.
func (s *Service) ResetRetries(ctx context.Context, caller models.Caller, identifier string) error {
	return s.faults.Translate(ctx, "reset_retries", s.resetRetries(ctx, caller, identifier))
}

func (s *Service) resetRetries(ctx context.Context, caller models.Caller, identifier string) error {
	if err := identifierRules.Validate(identifier); err != nil {
		return err
	}
	if err := gate.RequireRole(caller, s.cfg.AdminRoles); err != nil {
		return err
	}

	patient, err := s.findExisting(ctx, identifier)
	if err != nil {
		return err
	}
	if patient.RetryCount == 0 {
		return nil
	}

	patient.RetryCount = 0
	patient.UpdatedAt = s.clock(ctx)
	if err := s.store.Update(ctx, patient); err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncrementRetriesResets()
	}
	s.emitAudit(ctx, caller, models.TrustStaff, models.AuditRetriesReset, identifier, "")
	return nil
}

// GetStatus returns the staff view of a patient's verification state.
func (s *Service) GetStatus(ctx context.Context, caller models.Caller, identifier string) (*models.Status, error) {
	status, err := s.getStatus(ctx, caller, identifier)
	if err != nil {
		return nil, s.faults.Translate(ctx, "get_status", err)
	}
	return status, nil
}

func (s *Service) getStatus(ctx context.Context, caller models.Caller, identifier string) (*models.Status, error) {
	if err := identifierRules.Validate(identifier); err != nil {
		return nil, err
	}
	if err := gate.RequireRole(caller, s.cfg.WorkflowRoles); err != nil {
		return nil, err
	}

	patient, err := s.findExisting(ctx, identifier)
	if err != nil {
		return nil, err
	}

	active := codes.IsActive(patient, s.clock(ctx))
	return &models.Status{
		Identifier:             patient.Identifier,
		RetryCount:             patient.RetryCount,
		MaxRetries:             s.cfg.MaxRetries,
		RetriesExhausted:       patient.RetryCount >= s.cfg.MaxRetries,
		ActiveCode:             active,
		CodeExpiresOn:          patient.ValidationCodeExpiresOn,
		MatchedOn:              patient.ValidationCodeMatchedOn,
		NotificationPreference: patient.NotificationPreference,
		UpdatedAt:              patient.UpdatedAt,
	}, nil
}

func (s *Service) findExisting(ctx context.Context, identifier string) (*models.Patient, error) {
	patient, err := s.store.FindByIdentifier(ctx, identifier)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "patient not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find patient: %w", err)
	}
	return patient, nil
}
