//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"optout/internal/verification/store"
	"optout/pkg/platform/sentinel"
	"optout/pkg/platform/tx"
	"optout/pkg/testutil"
	"optout/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Reset(context.Background()))
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	expires := time.Now().UTC().Add(15 * time.Minute).Truncate(time.Microsecond)
	p := testutil.NewPatientBuilder().WithCode([]byte("$2a$hash"), expires).WithRetryCount(2).Build()
	p.ValidationCode = "482913"

	s.Require().NoError(s.store.Create(ctx, p))

	found, err := s.store.FindByIdentifier(ctx, p.Identifier)
	s.Require().NoError(err)
	s.Equal(p.ID, found.ID)
	s.Equal(p.Demographics.GivenName, found.Demographics.GivenName)
	s.Equal(p.Demographics.DateOfBirth.Format(time.DateOnly), found.Demographics.DateOfBirth.Format(time.DateOnly))
	s.Equal([]byte("$2a$hash"), found.ValidationCodeHash)
	s.True(expires.Equal(*found.ValidationCodeExpiresOn))
	s.Nil(found.ValidationCodeMatchedOn)
	s.Equal(2, found.RetryCount)
	s.Empty(found.ValidationCode)
	s.EqualValues(1, found.Version)
}

func (s *PostgresStoreSuite) TestInvalidatedCodeKeepsWindowAndDecisionToken() {
	ctx := context.Background()
	expires := time.Now().UTC().Add(15 * time.Minute).Truncate(time.Microsecond)
	p := testutil.NewPatientBuilder().WithCode([]byte("$2a$hash"), expires).Build()
	p.DecisionTokenHash = []byte("$2a$token")
	s.Require().NoError(s.store.Create(ctx, p))

	found, err := s.store.FindByIdentifier(ctx, p.Identifier)
	s.Require().NoError(err)
	s.Equal([]byte("$2a$token"), found.DecisionTokenHash)

	found.InvalidateCode()
	s.Require().NoError(s.store.Update(ctx, found))

	again, err := s.store.FindByIdentifier(ctx, p.Identifier)
	s.Require().NoError(err)
	s.Empty(again.ValidationCodeHash)
	s.Empty(again.DecisionTokenHash)
	s.Require().NotNil(again.ValidationCodeExpiresOn)
	s.True(expires.Equal(*again.ValidationCodeExpiresOn))
}

func (s *PostgresStoreSuite) TestFindUnknown() {
	_, err := s.store.FindByIdentifier(context.Background(), "0000000000")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDuplicateIdentifierIsConflict() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, testutil.NewPatientBuilder().Build()))
	err := s.store.Create(ctx, testutil.NewPatientBuilder().Build())
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestStaleVersionIsConflict() {
	ctx := context.Background()
	p := testutil.NewPatientBuilder().Build()
	s.Require().NoError(s.store.Create(ctx, p))

	first, err := s.store.FindByIdentifier(ctx, p.Identifier)
	s.Require().NoError(err)
	second, err := s.store.FindByIdentifier(ctx, p.Identifier)
	s.Require().NoError(err)

	first.RetryCount = 1
	s.Require().NoError(s.store.Update(ctx, first))
	s.EqualValues(2, first.Version)

	second.RetryCount = 3
	s.ErrorIs(s.store.Update(ctx, second), sentinel.ErrConflict)

	unknown := testutil.NewPatientBuilder().Build()
	unknown.ID = uuid.New()
	s.ErrorIs(s.store.Update(ctx, unknown), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestConcurrentCreateSingleWinner() {
	ctx := context.Background()
	result := testutil.RunConcurrent(10, func(int) error {
		return s.store.Create(ctx, testutil.NewPatientBuilder().WithIdentifier("5555555555").Build())
	})
	s.EqualValues(1, result.Successes)
	s.EqualValues(9, result.Conflicts)
}

func (s *PostgresStoreSuite) TestWritesJoinContextTransaction() {
	ctx := context.Background()
	p := testutil.NewPatientBuilder().Build()
	rollback := errors.New("rollback")

	err := tx.Run(ctx, s.postgres.DB, func(ctx context.Context) error {
		if err := s.store.Create(ctx, p); err != nil {
			return err
		}
		return rollback
	})
	s.ErrorIs(err, rollback)

	_, err = s.store.FindByIdentifier(ctx, p.Identifier)
	s.ErrorIs(err, sentinel.ErrNotFound)

	var count int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients`).Scan(&count))
	s.Zero(count)
}
