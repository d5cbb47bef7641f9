package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optout/internal/consent/models"
	"optout/pkg/platform/sentinel"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	st := NewInMemory()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := st.FindByIdentifier(ctx, "1234567890")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	first := &models.Decision{ID: uuid.New(), PatientIdentifier: "1234567890", Choice: models.ChoiceOptOut, Channel: models.ChannelPublic, RecordedBy: "self", RecordedAt: now}
	require.NoError(t, st.Upsert(ctx, first))

	second := &models.Decision{ID: uuid.New(), PatientIdentifier: "1234567890", Choice: models.ChoiceOptIn, Channel: models.ChannelStaff, RecordedBy: "agent-1", RecordedAt: now.Add(time.Hour)}
	require.NoError(t, st.Upsert(ctx, second))
	assert.Equal(t, first.ID, second.ID, "replacing keeps the original id")

	got, err := st.FindByIdentifier(ctx, "1234567890")
	require.NoError(t, err)
	assert.Equal(t, models.ChoiceOptIn, got.Choice)
	assert.Equal(t, "agent-1", got.RecordedBy)

	got.Choice = models.ChoiceOptOut
	again, err := st.FindByIdentifier(ctx, "1234567890")
	require.NoError(t, err)
	assert.Equal(t, models.ChoiceOptIn, again.Choice, "returned values are copies")
}
