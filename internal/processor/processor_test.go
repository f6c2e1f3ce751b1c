package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"billing-service/internal/reconcile"
	"billing-service/internal/testutil"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ackRecorder struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *ackRecorder) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type fakeEngine struct {
	out  reconcile.Outcome
	err  error
	seen []reconcile.Event
}

func (f *fakeEngine) ReconcileOnce(ctx context.Context, ev reconcile.Event) (reconcile.Outcome, error) {
	f.seen = append(f.seen, ev)
	return f.out, f.err
}

type fakeNotifier struct {
	sent []reconcile.Outcome
}

func (f *fakeNotifier) Reconciled(ctx context.Context, out reconcile.Outcome, source string) error {
	f.sent = append(f.sent, out)
	return nil
}

type fakeBalances struct {
	invalidated []uint
}

func (f *fakeBalances) Invalidate(membershipID uint) {
	f.invalidated = append(f.invalidated, membershipID)
}

func incoming(ack *ackRecorder) IncomingEvent {
	return IncomingEvent{
		Payload: PaymentMessage{
			EventID:          "evt_1",
			ParticipationIDs: []uint{4, 5},
			MembershipID:     2,
			Amount:           9000,
			Currency:         "pln",
			GatewayReference: "pi_9",
		},
		Delivery: amqp091.Delivery{Acknowledger: ack, DeliveryTag: 1},
	}
}

func TestHandleEventAcksOnSuccess(t *testing.T) {
	ack := &ackRecorder{}
	engine := &fakeEngine{out: reconcile.Outcome{GatewayReference: "pi_9", MembershipID: 2, BalanceCredit: 500}}
	notifier := &fakeNotifier{}
	balances := &fakeBalances{}

	handleEvent(context.Background(), engine, notifier, balances, incoming(ack), testutil.Logger())

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
	require.Len(t, engine.seen, 1)
	assert.Equal(t, reconcile.Event{
		TotalAmount:      9000,
		Currency:         "PLN",
		Targets:          []uint{4, 5},
		MembershipID:     2,
		GatewayReference: "pi_9",
		EventType:        EventTypeConfirmed,
	}, engine.seen[0])
	assert.Len(t, notifier.sent, 1)
	assert.Equal(t, []uint{2}, balances.invalidated)
}

func TestHandleEventAcksDuplicatesWithoutNotifying(t *testing.T) {
	ack := &ackRecorder{}
	notifier := &fakeNotifier{}
	balances := &fakeBalances{}

	handleEvent(context.Background(), &fakeEngine{out: reconcile.Outcome{Duplicate: true, MembershipID: 2}}, notifier, balances, incoming(ack), testutil.Logger())

	assert.True(t, ack.acked)
	assert.Empty(t, notifier.sent)
	assert.Empty(t, balances.invalidated)
}

func TestHandleEventNackMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		requeue bool
	}{
		{"invalid", reconcile.ErrInvalidEvent, false},
		{"lookup", reconcile.ErrParticipationLookup, true},
		{"persistence", reconcile.ErrPersistence, true},
		{"unknown", errors.New("boom"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack := &ackRecorder{}
			notifier := &fakeNotifier{}

			handleEvent(context.Background(), &fakeEngine{err: tc.err}, notifier, nil, incoming(ack), testutil.Logger())

			assert.False(t, ack.acked)
			assert.True(t, ack.nacked)
			assert.Equal(t, tc.requeue, ack.requeue)
			assert.Empty(t, notifier.sent)
		})
	}
}

func TestProcessorPoolDrainsChannel(t *testing.T) {
	updates := make(chan IncomingEvent, 3)
	acks := []*ackRecorder{{}, {}, {}}
	for _, a := range acks {
		updates <- incoming(a)
	}
	close(updates)

	wg := StartProcessorPool(context.Background(), &lockedEngine{}, &lockedNotifier{}, nil, updates, 2, testutil.Logger())

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor pool did not stop")
	}

	for _, a := range acks {
		assert.True(t, a.acked)
	}
}

func TestPaymentMessageReferenceFallback(t *testing.T) {
	m := PaymentMessage{EventID: "evt_7"}
	assert.Equal(t, "evt_7", m.Reference())

	m.GatewayReference = "pi_7"
	assert.Equal(t, "pi_7", m.Reference())
}

func TestPaymentMessageValidate(t *testing.T) {
	m := incoming(&ackRecorder{}).Payload
	assert.NoError(t, m.Validate())

	m.ParticipationIDs = nil
	assert.ErrorIs(t, m.Validate(), reconcile.ErrInvalidEvent)
}
