package service

import (
	"context"
	"time"

	"go.uber.org/mock/gomock"

	"optout/internal/verification/models"
	"optout/internal/verification/store"
	dErrors "optout/pkg/domain-errors"
	"optout/pkg/platform/faults"
	"optout/pkg/platform/sentinel"
	"optout/pkg/validation"
)

func (s *ServiceSuite) verifyRequest(code string) *models.VerifyCodeRequest {
	return &models.VerifyCodeRequest{Identifier: identifier, Code: code}
}

func (s *ServiceSuite) TestVerifyCodeMatch() {
	existing, code := s.withCode(s.now.Add(-time.Minute), 0)
	existing.VerifyFailures = 1
	s.expectGate(s.anonymous, models.TrustAnonymous)
	s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)
	var updated *models.Patient
	s.store.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, p *models.Patient) error {
		updated = p.Clone()
		return nil
	})

	result, err := s.service.VerifyCode(s.ctx, s.anonymous, s.verifyRequest(code))
	s.Require().NoError(err)
	s.Require().NotNil(updated.ValidationCodeMatchedOn)
	s.Equal(s.now, *updated.ValidationCodeMatchedOn)
	s.Zero(updated.VerifyFailures)
	s.True(updated.HasOutstandingCode(), "code stays until a decision consumes it")
	s.Len(s.auditStore.ListByAction(models.AuditCodeMatched), 1)

	s.Require().NotEmpty(result.DecisionToken)
	s.True(s.lifecycle.MatchesDecisionToken(updated, result.DecisionToken))
	s.NotContains(string(updated.DecisionTokenHash), result.DecisionToken)
}

func (s *ServiceSuite) TestVerifyCodeAgainRotatesDecisionToken() {
	existing, code := s.withCode(s.now.Add(-time.Minute), 0)
	matched := s.now.Add(-10 * time.Second)
	existing.ValidationCodeMatchedOn = &matched
	earlier, err := s.lifecycle.IssueDecisionToken(existing)
	s.Require().NoError(err)

	s.expectGate(s.anonymous, models.TrustAnonymous)
	s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)
	var updated *models.Patient
	s.store.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, p *models.Patient) error {
		updated = p.Clone()
		return nil
	})

	result, err := s.service.VerifyCode(s.ctx, s.anonymous, s.verifyRequest(code))
	s.Require().NoError(err)
	s.Equal(matched, *updated.ValidationCodeMatchedOn, "first match time kept")
	s.False(s.lifecycle.MatchesDecisionToken(updated, earlier))
	s.True(s.lifecycle.MatchesDecisionToken(updated, result.DecisionToken))
	s.Empty(s.auditStore.ListByAction(models.AuditCodeMatched), "only the first match is audited")
}

func (s *ServiceSuite) TestVerifyCodeMismatchCountsFailures() {
	existing, _ := s.withCode(s.now.Add(-time.Minute), 0)
	s.expectGate(s.anonymous, models.TrustAnonymous)
	s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)
	var updated *models.Patient
	s.store.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, p *models.Patient) error {
		updated = p.Clone()
		return nil
	})

	result, err := s.service.VerifyCode(s.ctx, s.anonymous, s.verifyRequest("999999"))
	s.assertKindCode(err, faults.KindValidation, dErrors.CodeCodeMismatch)
	s.Nil(result)
	s.Equal(1, updated.VerifyFailures)
	s.True(updated.HasOutstandingCode())
}

func (s *ServiceSuite) TestVerifyCodeInvalidatedAfterMaxAttempts() {
	existing, _ := s.withCode(s.now.Add(-time.Minute), 0)
	existing.VerifyFailures = 2
	s.expectGate(s.anonymous, models.TrustAnonymous)
	s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)
	var updated *models.Patient
	s.store.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, p *models.Patient) error {
		updated = p.Clone()
		return nil
	})

	_, err := s.service.VerifyCode(s.ctx, s.anonymous, s.verifyRequest("999999"))
	s.assertKindCode(err, faults.KindValidation, dErrors.CodeCodeMismatch)
	s.False(updated.HasOutstandingCode())
	s.Equal(3, updated.VerifyFailures)
	s.Require().NotNil(updated.ValidationCodeExpiresOn, "the code window survives invalidation")
	s.Equal(existing.ValidationCodeExpiresOn, updated.ValidationCodeExpiresOn)
}

func (s *ServiceSuite) TestVerifyCodeExpired() {
	existing, code := s.withCode(s.now.Add(-codeTTL), 0)
	s.expectGate(s.anonymous, models.TrustAnonymous)
	s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)

	_, err := s.service.VerifyCode(s.ctx, s.anonymous, s.verifyRequest(code))
	s.assertKindCode(err, faults.KindValidation, dErrors.CodeCodeExpired)
}

func (s *ServiceSuite) TestVerifyCodeUnknownPatientLooksLikeMismatch() {
	s.expectGate(s.anonymous, models.TrustAnonymous)
	s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(nil, sentinel.ErrNotFound)

	_, err := s.service.VerifyCode(s.ctx, s.anonymous, s.verifyRequest("123456"))
	s.assertKindCode(err, faults.KindValidation, dErrors.CodeCodeMismatch)
}

func (s *ServiceSuite) TestVerifyCodeRejectsMalformedCode() {
	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		_, err := s.service.VerifyCode(s.ctx, s.anonymous, s.verifyRequest(code))
		s.assertKindCode(err, faults.KindValidation, dErrors.CodeInvalidInput)
	}
}

func (s *ServiceSuite) TestVerifyCodeGateRefusalIsRecorded() {
	s.gate.EXPECT().ResolveTrustLevel(gomock.Any(), s.anonymous).
		Return(models.TrustLevel(""), dErrors.New(dErrors.CodeInvalidCaptcha, "captcha failed"))

	_, err := s.service.VerifyCode(s.ctx, s.anonymous, s.verifyRequest("123456"))
	s.assertKindCode(err, faults.KindValidation, dErrors.CodeInvalidCaptcha)

	refused := s.auditStore.ListByAction(models.AuditRefused)
	s.Require().Len(refused, 1)
	s.Equal(string(dErrors.CodeInvalidCaptcha), refused[0].Reason)
}

// workflowOnMemoryStore rebuilds the service over the in-memory store so a sequence of
// calls sees its own writes. It returns a function yielding the last code sent.
func (s *ServiceSuite) workflowOnMemoryStore() func() string {
	var err error
	s.service, err = New(store.NewInMemory(), s.lookup, s.notifier, s.gate, s.lifecycle, s.service.cfg,
		WithLogger(s.service.logger),
		WithClock(s.service.clock),
	)
	s.Require().NoError(err)

	s.gate.EXPECT().ResolveTrustLevel(gomock.Any(), s.anonymous).Return(models.TrustAnonymous, nil).AnyTimes()
	s.lookup.EXPECT().Lookup(gomock.Any(), identifier).Return(s.demographics(), nil).AnyTimes()
	var sent string
	s.notifier.EXPECT().SendCodeNotification(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, p *models.Patient) error {
		sent = p.ValidationCode
		return nil
	}).AnyTimes()
	return func() string { return sent }
}

func (s *ServiceSuite) TestExhaustedRetriesSurviveCodeInvalidation() {
	s.workflowOnMemoryStore()

	s.Require().NoError(s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false)))
	for range maxRetries {
		s.Require().NoError(s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(true)))
	}
	err := s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(true))
	s.assertKindCode(err, faults.KindValidation, dErrors.CodeMaxRetryExceeded)

	for range 3 {
		_, err := s.service.VerifyCode(s.ctx, s.anonymous, s.verifyRequest("000000"))
		s.assertKindCode(err, faults.KindValidation, dErrors.CodeCodeMismatch)
	}

	for _, force := range []bool{true, false} {
		err := s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(force))
		s.assertKindCode(err, faults.KindValidation, dErrors.CodeMaxRetryExceeded)
	}

	s.now = s.now.Add(codeTTL)
	s.Require().NoError(s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false)),
		"the budget resets once the invalidated code's window lapses")
}

func (s *ServiceSuite) TestInvalidatedCodeReplacementCountsAgainstBudget() {
	lastSent := s.workflowOnMemoryStore()

	s.Require().NoError(s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false)))
	first := lastSent()
	for range 3 {
		_, err := s.service.VerifyCode(s.ctx, s.anonymous, s.verifyRequest("000000"))
		s.Require().Error(err)
	}
	_, err := s.service.VerifyCode(s.ctx, s.anonymous, s.verifyRequest(first))
	s.assertKindCode(err, faults.KindValidation, dErrors.CodeCodeMismatch)

	s.Require().NoError(s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false)))
	status, err := s.service.GetStatus(s.ctx, s.agent, identifier)
	s.Require().NoError(err)
	s.Equal(1, status.RetryCount)
	s.True(status.ActiveCode)

	result, err := s.service.VerifyCode(s.ctx, s.anonymous, s.verifyRequest(lastSent()))
	s.Require().NoError(err)
	s.NotEmpty(result.DecisionToken)
}

func (s *ServiceSuite) TestRecordWithoutReachableChannelWritesNothing() {
	s.Run("new patient", func() {
		s.expectGate(s.anonymous, models.TrustAnonymous)
		s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(nil, sentinel.ErrNotFound)
		s.lookup.EXPECT().Lookup(gomock.Any(), identifier).Return(&models.Demographics{GivenName: "Ada", Email: "ada@example.org"}, nil)
		// No Create or SendCodeNotification expectations: either call fails the test.

		err := s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false))
		s.assertKindCode(err, faults.KindDependencyValidation, "")
	})

	s.Run("reissue", func() {
		existing, _ := s.withCode(s.now.Add(-time.Hour), 2)
		before := existing.Clone()
		s.expectGate(s.agent, models.TrustStaff)
		s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)
		s.lookup.EXPECT().Lookup(gomock.Any(), identifier).Return(&models.Demographics{GivenName: "Ada", Phone: "+447700900001"}, nil)

		err := s.service.RecordPatientInformation(s.ctx, s.agent, &models.RecordPatientInformationRequest{
			Identifier: identifier, NotificationPreference: "email",
		})
		s.assertKindCode(err, faults.KindDependencyValidation, "")
		s.Equal(before, existing)
	})

	reasons := make([]string, 0, 2)
	for _, e := range s.auditStore.ListByAction(models.AuditRefused) {
		reasons = append(reasons, e.Reason)
	}
	s.Equal([]string{"no_contact_channel", "no_contact_channel"}, reasons)
}

func (s *ServiceSuite) TestRecordRequiresExplicitPreference() {
	for _, pref := range []string{"", "  "} {
		err := s.service.RecordPatientInformation(s.ctx, s.anonymous, &models.RecordPatientInformationRequest{
			Identifier: identifier, NotificationPreference: pref,
		})
		s.assertKindCode(err, faults.KindValidation, dErrors.CodeInvalidInput)
		s.Contains(validation.FieldErrors(err), "notification_preference")
	}
}
