//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"optout/internal/consent/models"
	"optout/internal/consent/store"
	patientstore "optout/internal/verification/store"
	"optout/pkg/platform/sentinel"
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

func (s *PostgresStoreSuite) decision(choice models.Choice, at time.Time) *models.Decision {
	return &models.Decision{
		ID:                uuid.New(),
		PatientIdentifier: testutil.TestIdentifiers.Patient1,
		Choice:            choice,
		Channel:           models.ChannelPublic,
		RecordedBy:        "self",
		RecordedAt:        at,
	}
}

func (s *PostgresStoreSuite) TestUpsertReplacesDecision() {
	ctx := context.Background()
	s.Require().NoError(patientstore.NewPostgres(s.postgres.DB).Create(ctx, testutil.NewPatientBuilder().Build()))

	now := time.Now().UTC().Truncate(time.Microsecond)
	first := s.decision(models.ChoiceOptOut, now)
	s.Require().NoError(s.store.Upsert(ctx, first))

	second := s.decision(models.ChoiceOptIn, now.Add(time.Minute))
	s.Require().NoError(s.store.Upsert(ctx, second))
	s.Equal(first.ID, second.ID)

	found, err := s.store.FindByIdentifier(ctx, testutil.TestIdentifiers.Patient1)
	s.Require().NoError(err)
	s.Equal(models.ChoiceOptIn, found.Choice)
	s.True(now.Add(time.Minute).Equal(found.RecordedAt))
}

func (s *PostgresStoreSuite) TestUpsertWithoutPatientIsConflict() {
	err := s.store.Upsert(context.Background(), s.decision(models.ChoiceOptOut, time.Now().UTC()))
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestFindUnknown() {
	_, err := s.store.FindByIdentifier(context.Background(), testutil.TestIdentifiers.Patient2)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
