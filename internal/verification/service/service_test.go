package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Lookup,Notifier,TrustGate,AuditPublisher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"optout/internal/audit"
	"optout/internal/verification/codes"
	"optout/internal/verification/models"
	"optout/internal/verification/service/mocks"
	dErrors "optout/pkg/domain-errors"
	"optout/pkg/platform/faults"
	"optout/pkg/platform/sentinel"
	"optout/pkg/testutil"
)

const (
	identifier = "1234567890"
	maxRetries = 3
	codeTTL    = 15 * time.Minute
)

// sequenceGenerator hands out 100001, 100002, ... so consecutive codes differ.
type sequenceGenerator struct {
	n int
}

func (g *sequenceGenerator) Generate() (string, error) {
	g.n++
	return fmt.Sprintf("%06d", 100000+g.n), nil
}

type ServiceSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	store      *mocks.MockStore
	lookup     *mocks.MockLookup
	notifier   *mocks.MockNotifier
	gate       *mocks.MockTrustGate
	auditStore *audit.InMemoryStore
	lifecycle  *codes.Lifecycle
	service    *Service
	now        time.Time
	ctx        context.Context

	anonymous  models.Caller
	agent      models.Caller
	supervisor models.Caller
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.lookup = mocks.NewMockLookup(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.gate = mocks.NewMockTrustGate(s.ctrl)
	s.auditStore = audit.NewInMemoryStore()
	s.lifecycle = codes.NewLifecycle(&sequenceGenerator{}, codes.BcryptHasher{Cost: bcrypt.MinCost}, codeTTL)
	s.now = time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	s.ctx = context.Background()

	s.anonymous = models.AnonymousCaller("captcha-token", "203.0.113.5")
	s.agent = models.StaffCaller("agent-7", []string{"opt_out_agent"})
	s.supervisor = models.StaffCaller("super-1", []string{"opt_out_supervisor"})

	var err error
	s.service, err = New(s.store, s.lookup, s.notifier, s.gate, s.lifecycle,
		Config{
			MaxRetries:        maxRetries,
			MaxVerifyAttempts: 3,
			CodeLength:        6,
			WorkflowRoles:     []string{"opt_out_agent", "opt_out_supervisor"},
			AdminRoles:        []string{"opt_out_supervisor"},
		},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(audit.NewPublisher(s.auditStore)),
		WithClock(func(context.Context) time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) demographics() *models.Demographics {
	return &models.Demographics{GivenName: "Ada", FamilyName: "Lovelace", Phone: "+447700900001"}
}

// withCode returns a stored patient whose code was issued at issuedAt.
func (s *ServiceSuite) withCode(issuedAt time.Time, retryCount int) (*models.Patient, string) {
	p := testutil.NewPatientBuilder().WithIdentifier(identifier).WithRetryCount(retryCount).Build()
	issued, err := s.lifecycle.IssueOrReissue(p, nil, issuedAt, false)
	s.Require().NoError(err)
	code := issued.ValidationCode
	issued.ValidationCode = ""
	return issued, code
}

func (s *ServiceSuite) expectGate(caller models.Caller, level models.TrustLevel) {
	s.gate.EXPECT().ResolveTrustLevel(gomock.Any(), caller).Return(level, nil)
}

func (s *ServiceSuite) request(force bool) *models.RecordPatientInformationRequest {
	return &models.RecordPatientInformationRequest{Identifier: identifier, NotificationPreference: "sms", ForceNewCode: force}
}

func (s *ServiceSuite) assertKindCode(err error, kind faults.Kind, code dErrors.Code) {
	s.Require().Error(err)
	s.True(faults.IsKind(err, kind), "expected %s, got %v", kind, err)
	if code != "" {
		s.True(dErrors.HasCode(err, code), "expected code %s, got %v", code, err)
	}
}

func (s *ServiceSuite) TestNewRequiresCollaborators() {
	_, err := New(nil, s.lookup, s.notifier, s.gate, s.lifecycle, Config{MaxRetries: 1, MaxVerifyAttempts: 1, CodeLength: 6})
	s.Error(err)
	_, err = New(s.store, s.lookup, s.notifier, s.gate, s.lifecycle, Config{})
	s.Error(err)
}

func (s *ServiceSuite) TestRecordRejectsMalformedInputWithoutSideEffects() {
	for _, id := range []string{"", "123", "12345678901", "12345abcde", " 123456789", "１２３４５６７８９０"} {
		s.Run(fmt.Sprintf("identifier %q", id), func() {
			err := s.service.RecordPatientInformation(s.ctx, s.anonymous, &models.RecordPatientInformationRequest{Identifier: id})
			s.assertKindCode(err, faults.KindValidation, dErrors.CodeInvalidInput)
		})
	}

	s.Run("unknown notification preference", func() {
		err := s.service.RecordPatientInformation(s.ctx, s.anonymous, &models.RecordPatientInformationRequest{
			Identifier: identifier, NotificationPreference: "fax",
		})
		s.assertKindCode(err, faults.KindValidation, dErrors.CodeInvalidInput)
	})

	s.Run("nil request", func() {
		err := s.service.RecordPatientInformation(s.ctx, s.anonymous, nil)
		s.assertKindCode(err, faults.KindValidation, dErrors.CodeInvalidInput)
	})
	// No EXPECT calls were registered, so any collaborator call would fail the test.
}

func (s *ServiceSuite) TestRecordGateFailures() {
	s.Run("authenticated without workflow role", func() {
		s.gate.EXPECT().ResolveTrustLevel(gomock.Any(), gomock.Any()).
			Return(models.TrustLevel(""), dErrors.New(dErrors.CodeUnauthorized, "no role"))
		err := s.service.RecordPatientInformation(s.ctx, models.StaffCaller("x", nil), s.request(false))
		s.assertKindCode(err, faults.KindValidation, dErrors.CodeUnauthorized)
		s.Len(s.auditStore.ListByAction(models.AuditRefused), 1)
	})

	s.Run("captcha rejected", func() {
		s.gate.EXPECT().ResolveTrustLevel(gomock.Any(), gomock.Any()).
			Return(models.TrustLevel(""), dErrors.New(dErrors.CodeInvalidCaptcha, "captcha failed"))
		err := s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false))
		s.assertKindCode(err, faults.KindValidation, dErrors.CodeInvalidCaptcha)
	})

	s.Run("captcha provider down", func() {
		s.gate.EXPECT().ResolveTrustLevel(gomock.Any(), gomock.Any()).
			Return(models.TrustLevel(""), fmt.Errorf("validate captcha: %w", sentinel.ErrUnavailable))
		err := s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false))
		s.assertKindCode(err, faults.KindDependency, "")
	})
}

func (s *ServiceSuite) TestRecordUnknownIdentifierCreatesPatient() {
	s.expectGate(s.anonymous, models.TrustAnonymous)
	s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(nil, sentinel.ErrNotFound)
	s.lookup.EXPECT().Lookup(gomock.Any(), identifier).Return(s.demographics(), nil).Times(1)

	var created *models.Patient
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, p *models.Patient) error {
		created = p.Clone()
		return nil
	}).Times(1)
	s.notifier.EXPECT().SendCodeNotification(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, p *models.Patient) error {
		s.NotEmpty(p.ValidationCode, "notifier receives the plaintext code")
		return nil
	}).Times(1)

	err := s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false))
	s.Require().NoError(err)

	s.Require().NotNil(created)
	s.Equal(identifier, created.Identifier)
	s.Zero(created.RetryCount)
	s.Equal(s.now.Add(codeTTL), *created.ValidationCodeExpiresOn)
	s.False(codes.IsExpired(created, s.now))
	s.Nil(created.ValidationCodeMatchedOn)
	s.Equal("Ada", created.Demographics.GivenName)
	s.Equal(models.NotificationSMS, created.NotificationPreference)
	s.Equal(s.now, created.CreatedAt)

	issued := s.auditStore.ListByAction(models.AuditCodeIssued)
	s.Require().Len(issued, 1)
	s.Equal(string(models.PathCreated), issued[0].Reason)
	s.Equal("self", issued[0].Actor)
	s.NotContains(issued[0].Identifier, "1234567")
}

func (s *ServiceSuite) TestRecordActiveCodeRefusedForAnonymous() {
	existing, _ := s.withCode(s.now.Add(-time.Minute), 1)
	s.expectGate(s.anonymous, models.TrustAnonymous)
	s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)

	err := s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false))
	s.assertKindCode(err, faults.KindValidation, dErrors.CodeValidCodeExists)
}

func (s *ServiceSuite) TestRecordRetryBudgetSpent() {
	for _, force := range []bool{false, true} {
		s.Run(fmt.Sprintf("force=%t", force), func() {
			existing, _ := s.withCode(s.now.Add(-time.Minute), maxRetries)
			before := existing.Clone()
			s.expectGate(s.anonymous, models.TrustAnonymous)
			s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)

			err := s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(force))
			s.assertKindCode(err, faults.KindValidation, dErrors.CodeMaxRetryExceeded)
			s.Equal(before, existing, "stored row unchanged")
		})
	}
}

func (s *ServiceSuite) TestRecordStaffAlwaysReissuesWithReset() {
	states := map[string]func() *models.Patient{
		"active code, budget spent": func() *models.Patient {
			p, _ := s.withCode(s.now.Add(-time.Minute), maxRetries)
			return p
		},
		"expired code": func() *models.Patient {
			p, _ := s.withCode(s.now.Add(-time.Hour), 2)
			return p
		},
		"matched code": func() *models.Patient {
			p, _ := s.withCode(s.now.Add(-time.Minute), 1)
			matched := s.now.Add(-30 * time.Second)
			p.ValidationCodeMatchedOn = &matched
			return p
		},
	}
	for name, build := range states {
		s.Run(name, func() {
			existing := build()
			s.expectGate(s.agent, models.TrustStaff)
			s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)
			s.lookup.EXPECT().Lookup(gomock.Any(), identifier).Return(s.demographics(), nil)
			var updated *models.Patient
			s.store.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, p *models.Patient) error {
				updated = p.Clone()
				return nil
			})
			s.notifier.EXPECT().SendCodeNotification(gomock.Any(), gomock.Any()).Return(nil)

			s.Require().NoError(s.service.RecordPatientInformation(s.ctx, s.agent, s.request(false)))
			s.Zero(updated.RetryCount)
			s.Equal(s.now.Add(codeTTL), *updated.ValidationCodeExpiresOn)
			s.Nil(updated.ValidationCodeMatchedOn)
		})
	}
}

func (s *ServiceSuite) TestRecordExpiredCodeReissuesWithReset() {
	existing, _ := s.withCode(s.now.Add(-codeTTL), 2)
	s.expectGate(s.anonymous, models.TrustAnonymous)
	s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)
	s.lookup.EXPECT().Lookup(gomock.Any(), identifier).Return(s.demographics(), nil)
	var updated *models.Patient
	s.store.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, p *models.Patient) error {
		updated = p.Clone()
		return nil
	})
	s.notifier.EXPECT().SendCodeNotification(gomock.Any(), gomock.Any()).Return(nil)

	s.Require().NoError(s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false)))
	s.Zero(updated.RetryCount)
	s.False(codes.IsExpired(updated, s.now))
	s.Equal("Ada", updated.Demographics.GivenName, "demographics refreshed on reissue")
}

func (s *ServiceSuite) TestRecordAnonymousForcedRetryCountsAndReplacesCode() {
	existing, oldCode := s.withCode(s.now.Add(-time.Minute), 1)
	s.expectGate(s.anonymous, models.TrustAnonymous)
	s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)
	s.lookup.EXPECT().Lookup(gomock.Any(), identifier).Return(s.demographics(), nil)
	var updated *models.Patient
	s.store.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, p *models.Patient) error {
		updated = p.Clone()
		return nil
	})
	var sentCode string
	s.notifier.EXPECT().SendCodeNotification(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, p *models.Patient) error {
		sentCode = p.ValidationCode
		return nil
	})

	s.Require().NoError(s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(true)))
	s.Equal(2, updated.RetryCount)
	s.True(s.lifecycle.Matches(updated, sentCode))
	s.False(s.lifecycle.Matches(updated, oldCode), "only the newest code is valid")
	s.Equal(1, existing.RetryCount, "input row not mutated")

	issued := s.auditStore.ListByAction(models.AuditCodeIssued)
	s.Require().Len(issued, 1)
	s.Equal(string(models.PathAnonymousRetry), issued[0].Reason)
}

func (s *ServiceSuite) TestRecordDependencyFailures() {
	s.Run("lookup unavailable", func() {
		s.expectGate(s.anonymous, models.TrustAnonymous)
		s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(nil, sentinel.ErrNotFound)
		s.lookup.EXPECT().Lookup(gomock.Any(), identifier).Return(nil, sentinel.ErrUnavailable)

		err := s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false))
		s.assertKindCode(err, faults.KindDependency, "")
	})

	s.Run("concurrent create loses the race", func() {
		s.expectGate(s.anonymous, models.TrustAnonymous)
		s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(nil, sentinel.ErrNotFound)
		s.lookup.EXPECT().Lookup(gomock.Any(), identifier).Return(s.demographics(), nil)
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(fmt.Errorf("create: %w", sentinel.ErrConflict))

		err := s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false))
		s.assertKindCode(err, faults.KindDependencyValidation, "")
	})

	s.Run("stale version on reissue", func() {
		existing, _ := s.withCode(s.now.Add(-time.Hour), 0)
		s.expectGate(s.agent, models.TrustStaff)
		s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)
		s.lookup.EXPECT().Lookup(gomock.Any(), identifier).Return(s.demographics(), nil)
		s.store.EXPECT().Update(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict)

		err := s.service.RecordPatientInformation(s.ctx, s.agent, s.request(false))
		s.assertKindCode(err, faults.KindDependencyValidation, "")
	})

	s.Run("store read failure", func() {
		s.expectGate(s.anonymous, models.TrustAnonymous)
		s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(nil, fmt.Errorf("query: %w", sentinel.ErrUnavailable))

		err := s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false))
		s.assertKindCode(err, faults.KindDependency, "")
	})

	s.Run("notifier down", func() {
		s.expectGate(s.anonymous, models.TrustAnonymous)
		s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(nil, sentinel.ErrNotFound)
		s.lookup.EXPECT().Lookup(gomock.Any(), identifier).Return(s.demographics(), nil)
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.notifier.EXPECT().SendCodeNotification(gomock.Any(), gomock.Any()).Return(fmt.Errorf("sms: %w", sentinel.ErrUnavailable))

		err := s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false))
		s.assertKindCode(err, faults.KindDependency, "")
	})
}

func (s *ServiceSuite) TestAuditFailureDoesNotFailWorkflow() {
	auditor := mocks.NewMockAuditPublisher(s.ctrl)
	s.service.auditor = auditor
	existing, _ := s.withCode(s.now.Add(-time.Minute), 0)

	s.expectGate(s.anonymous, models.TrustAnonymous)
	s.store.EXPECT().FindByIdentifier(gomock.Any(), identifier).Return(existing, nil)
	auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(fmt.Errorf("sink down"))

	err := s.service.RecordPatientInformation(s.ctx, s.anonymous, s.request(false))
	s.assertKindCode(err, faults.KindValidation, dErrors.CodeValidCodeExists)
}
