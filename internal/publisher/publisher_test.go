package publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"billing-service/internal/reconcile"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublishing(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	out := reconcile.Outcome{
		GatewayReference: "pi_42",
		MembershipID:     7,
		Currency:         "PLN",
		Allocations:      []reconcile.Allocation{{ParticipationID: 3, Amount: 12000}},
		BalanceCredit:    500,
	}

	msg, err := newPublishing(out, "stripe", now)
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "pi_42", msg.CorrelationId)
	_, err = uuid.Parse(msg.MessageId)
	assert.NoError(t, err)

	var body ReconciledMessage
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, ReconciledMessage{
		GatewayReference: "pi_42",
		MembershipID:     7,
		Currency:         "PLN",
		Allocations:      []reconcile.Allocation{{ParticipationID: 3, Amount: 12000}},
		BalanceCredit:    500,
		Source:           "stripe",
		ReconciledAt:     now,
	}, body)
}

func TestPublisherSkipsDuplicates(t *testing.T) {
	p := &Publisher{}
	assert.NoError(t, p.Reconciled(context.Background(), reconcile.Outcome{Duplicate: true}, "stripe"))
}
