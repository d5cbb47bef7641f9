package service

import (
	"context"
	"time"

	"go.uber.org/mock/gomock"

	"optout/internal/verification/models"
	dErrors "optout/pkg/domain-errors"
	"optout/pkg/platform/faults"
	"optout/pkg/platform/sentinel"
)

func (s *ServiceSuite) TestResetRetries() {
	s.Run("anonymous caller", func() {
		err := s.service.ResetRetries(s.ctx, s.anonymous, identifier)
		s.assertKindCode(err, faults.KindValidation, dErrors.CodeUnauthorized)
	})

	s.Run("agent without admin role", func() {
		err := s.service.ResetRetries(s.ctx, s.agent, identifier)
		s.assertKindCode(err, faults.KindValidation, dErrors.CodeForbidden)
	})

	s.Run("unknown patient", func() {
		s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(nil, sentinel.ErrNotFound)
		err := s.service.ResetRetries(s.ctx, s.supervisor, identifier)
		s.assertKindCode(err, faults.KindValidation, dErrors.CodeNotFound)
	})

	s.Run("supervisor resets budget without issuing a code", func() {
		existing, _ := s.withCode(s.now.Add(-time.Minute), maxRetries)
		expiresBefore := *existing.ValidationCodeExpiresOn
		s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)
		var updated *models.Patient
		s.store.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, p *models.Patient) error {
			updated = p.Clone()
			return nil
		})

		s.Require().NoError(s.service.ResetRetries(s.ctx, s.supervisor, identifier))
		s.Zero(updated.RetryCount)
		s.Equal(expiresBefore, *updated.ValidationCodeExpiresOn)
		s.Len(s.auditStore.ListByAction(models.AuditRetriesReset), 1)
	})

	s.Run("nothing to reset", func() {
		existing, _ := s.withCode(s.now.Add(-time.Minute), 0)
		s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)
		s.NoError(s.service.ResetRetries(s.ctx, s.supervisor, identifier))
	})

	s.Run("malformed identifier", func() {
		err := s.service.ResetRetries(s.ctx, s.supervisor, "12")
		s.assertKindCode(err, faults.KindValidation, dErrors.CodeInvalidInput)
	})
}

func (s *ServiceSuite) TestGetStatus() {
	s.Run("anonymous caller", func() {
		_, err := s.service.GetStatus(s.ctx, s.anonymous, identifier)
		s.assertKindCode(err, faults.KindValidation, dErrors.CodeUnauthorized)
	})

	s.Run("agent reads status", func() {
		existing, _ := s.withCode(s.now.Add(-time.Minute), maxRetries)
		s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)

		status, err := s.service.GetStatus(s.ctx, s.agent, identifier)
		s.Require().NoError(err)
		s.Equal(identifier, status.Identifier)
		s.Equal(maxRetries, status.RetryCount)
		s.Equal(maxRetries, status.MaxRetries)
		s.True(status.RetriesExhausted)
		s.True(status.ActiveCode)
		s.Nil(status.MatchedOn)
	})
}
