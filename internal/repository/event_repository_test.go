package repository

import (
	"context"
	"testing"

	"billing-service/internal/model"
	"billing-service/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimEventOnlyOnce(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewEventRepository(db, testutil.Logger())
	ctx := context.Background()

	inserted, err := claimEvent(db.WithContext(ctx), ProviderStripe, "pi_1", "payment_intent.succeeded")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = claimEvent(db.WithContext(ctx), ProviderStripe, "pi_1", "payment.confirmed")
	require.NoError(t, err)
	assert.False(t, inserted)

	inserted, err = claimEvent(db.WithContext(ctx), "relay", "pi_1", "payment.confirmed")
	require.NoError(t, err)
	assert.True(t, inserted, "references are unique per provider")

	exists, err := repo.EventExists(ctx, ProviderStripe, "pi_1")
	require.NoError(t, err)
	assert.True(t, exists)

	var stored model.ProcessedEvent
	require.NoError(t, db.Where("provider = ? AND reference = ?", ProviderStripe, "pi_1").First(&stored).Error)
	assert.Equal(t, "payment_intent.succeeded", stored.EventType, "first claim wins")
}
