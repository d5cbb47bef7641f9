package codes

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"optout/internal/verification/models"
	strutil "optout/pkg/string"
)

type fixedGenerator struct {
	code string
	err  error
}

func (g fixedGenerator) Generate() (string, error) { return g.code, g.err }

type LifecycleSuite struct {
	suite.Suite
	now       time.Time
	lifecycle *Lifecycle
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) SetupTest() {
	s.now = time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	s.lifecycle = NewLifecycle(fixedGenerator{code: "482913"}, BcryptHasher{Cost: bcrypt.MinCost}, 15*time.Minute)
}

func (s *LifecycleSuite) TestIsExpired() {
	at := func(d time.Duration) *models.Patient {
		exp := s.now.Add(d)
		return &models.Patient{ValidationCodeHash: []byte("h"), ValidationCodeExpiresOn: &exp}
	}

	s.True(IsExpired(nil, s.now))
	s.True(IsExpired(&models.Patient{}, s.now), "never issued")
	s.True(IsExpired(at(0), s.now), "expiry equal to now is expired")
	s.True(IsExpired(at(-time.Second), s.now))
	s.False(IsExpired(at(time.Second), s.now))

	invalidated := at(time.Second)
	invalidated.InvalidateCode()
	s.False(IsExpired(invalidated, s.now), "invalidation keeps the window open")
	s.False(IsActive(invalidated, s.now))
	s.True(IsActive(at(time.Second), s.now))

	retired := at(time.Second)
	retired.ClearCode()
	s.True(IsExpired(retired, s.now))
}

func (s *LifecycleSuite) TestDecisionToken() {
	p := &models.Patient{}
	s.False(s.lifecycle.MatchesDecisionToken(p, ""))

	first, err := s.lifecycle.IssueDecisionToken(p)
	s.Require().NoError(err)
	s.Len(first, 43)
	s.True(s.lifecycle.MatchesDecisionToken(p, first))
	s.False(s.lifecycle.MatchesDecisionToken(p, ""))
	s.NotContains(string(p.DecisionTokenHash), first)

	second, err := s.lifecycle.IssueDecisionToken(p)
	s.Require().NoError(err)
	s.NotEqual(first, second)
	s.False(s.lifecycle.MatchesDecisionToken(p, first), "rotation retires the earlier token")
	s.True(s.lifecycle.MatchesDecisionToken(p, second))

	next, err := s.lifecycle.IssueOrReissue(p, nil, s.now, false)
	s.Require().NoError(err)
	s.False(s.lifecycle.MatchesDecisionToken(next, second), "a new code retires the token")
}

func (s *LifecycleSuite) TestIssueSetsCodeAndExpiry() {
	matched := s.now.Add(-time.Hour)
	original := &models.Patient{Identifier: "1234567890", RetryCount: 2, VerifyFailures: 3, ValidationCodeMatchedOn: &matched}
	snapshot := &models.Demographics{GivenName: "Ada", Phone: "+447700900001"}

	next, err := s.lifecycle.IssueOrReissue(original, snapshot, s.now, false)
	s.Require().NoError(err)

	s.Equal("482913", next.ValidationCode)
	s.Equal(s.now.Add(15*time.Minute), *next.ValidationCodeExpiresOn)
	s.Nil(next.ValidationCodeMatchedOn)
	s.Equal(2, next.RetryCount, "retry count untouched without reset")
	s.Zero(next.VerifyFailures)
	s.Equal("Ada", next.Demographics.GivenName)
	s.True(s.lifecycle.Matches(next, "482913"))
	s.False(s.lifecycle.Matches(next, "000000"))

	// Invariant: the input record is never mutated.
	s.Empty(original.ValidationCode)
	s.NotNil(original.ValidationCodeMatchedOn)
	s.Empty(original.Demographics.GivenName)
}

func (s *LifecycleSuite) TestIssueWithResetZeroesRetries() {
	next, err := s.lifecycle.IssueOrReissue(&models.Patient{RetryCount: 3}, nil, s.now, true)
	s.Require().NoError(err)
	s.Zero(next.RetryCount)
}

func (s *LifecycleSuite) TestIssueKeepsDemographicsWithoutSnapshot() {
	p := &models.Patient{Demographics: models.Demographics{FamilyName: "Lovelace"}}
	next, err := s.lifecycle.IssueOrReissue(p, nil, s.now, true)
	s.Require().NoError(err)
	s.Equal("Lovelace", next.Demographics.FamilyName)
}

func (s *LifecycleSuite) TestIssuePropagatesGeneratorFailure() {
	l := NewLifecycle(fixedGenerator{err: errors.New("entropy")}, BcryptHasher{Cost: bcrypt.MinCost}, time.Minute)
	_, err := l.IssueOrReissue(&models.Patient{}, nil, s.now, true)
	s.Error(err)
}

func (s *LifecycleSuite) TestStoredHashIsNotPlaintext() {
	next, err := s.lifecycle.IssueOrReissue(&models.Patient{}, nil, s.now, true)
	s.Require().NoError(err)
	s.NotContains(string(next.ValidationCodeHash), "482913")
}

func TestDigitGenerator(t *testing.T) {
	g := DigitGenerator{Length: 8}
	seen := map[string]bool{}
	for range 50 {
		code, err := g.Generate()
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != 8 || !strutil.IsDigits(code) {
			t.Fatalf("unexpected code %q", code)
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Fatalf("codes are not varied enough: %d distinct of 50", len(seen))
	}

	if _, err := (DigitGenerator{}).Generate(); err == nil {
		t.Fatal("expected error for zero length")
	}
}
