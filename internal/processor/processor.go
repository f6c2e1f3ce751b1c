package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"billing-service/internal/money"
	"billing-service/internal/reconcile"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	dbTimeout = 10 * time.Second

	SourceRelay = "relay"

	// EventTypeConfirmed is the routing key relayed payments are published with.
	EventTypeConfirmed = "payment.confirmed"
)

// PaymentMessage is a confirmed payment relayed over RabbitMQ by another service
type PaymentMessage struct {
	EventID          string `json:"event_id"`
	ParticipationIDs []uint `json:"participation_ids"`
	MembershipID     uint   `json:"membership_id"`
	Amount           int64  `json:"amount"` // minor units
	Currency         string `json:"currency"`
	GatewayReference string `json:"gateway_reference"`
}

// Reference returns the idempotency token (gateway reference, else event id)
func (m *PaymentMessage) Reference() string {
	if m.GatewayReference != "" {
		return m.GatewayReference
	}
	return m.EventID
}

// Event converts the message into an engine event
func (m *PaymentMessage) Event() reconcile.Event {
	return reconcile.Event{
		TotalAmount:      m.Amount,
		Currency:         money.NormalizeCurrency(m.Currency),
		Targets:          m.ParticipationIDs,
		MembershipID:     m.MembershipID,
		GatewayReference: m.Reference(),
		EventType:        EventTypeConfirmed,
	}
}

type IncomingEvent struct {
	Payload  PaymentMessage
	Delivery amqp091.Delivery
}

type Reconciler interface {
	ReconcileOnce(ctx context.Context, ev reconcile.Event) (reconcile.Outcome, error)
}

type Notifier interface {
	Reconciled(ctx context.Context, out reconcile.Outcome, source string) error
}

// BalanceInvalidator is told which membership received a balance credit.
type BalanceInvalidator interface {
	Invalidate(membershipID uint)
}

// StartProcessorPool starts workers reconciling incoming events one at a time.
// The returned WaitGroup is done once every worker has drained and stopped.
func StartProcessorPool(
	ctx context.Context,
	engine Reconciler,
	notifier Notifier,
	balances BalanceInvalidator,
	updates <-chan IncomingEvent,
	workers int,
	log *logrus.Logger,
) *sync.WaitGroup {
	log.Infof("Starting processor pool with %d workers", workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(ctx, id, engine, notifier, balances, updates, log)
		}(i)
	}
	return &wg
}

func runWorker(
	ctx context.Context,
	id int,
	engine Reconciler,
	notifier Notifier,
	balances BalanceInvalidator,
	updates <-chan IncomingEvent,
	log *logrus.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			// Each event is its own transaction; a cancelled parent must not
			// abort one mid-flight.
			handleEvent(context.WithoutCancel(ctx), engine, notifier, balances, upd, log.WithField("worker_id", id))
		}
	}
}

// handleEvent reconciles one relayed event and settles its delivery:
// Ack on success or duplicate, Nack without requeue on invalid input,
// Nack with requeue on transient failures.
func handleEvent(
	ctx context.Context,
	engine Reconciler,
	notifier Notifier,
	balances BalanceInvalidator,
	upd IncomingEvent,
	log logrus.FieldLogger,
) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	log = log.WithFields(logrus.Fields{
		"event_id":          upd.Payload.EventID,
		"gateway_reference": upd.Payload.Reference(),
	})

	out, err := engine.ReconcileOnce(ctx, upd.Payload.Event())
	if err != nil {
		requeue := reconcile.Transient(err)
		log.WithError(err).WithField("requeue", requeue).Error("failed to reconcile relayed payment")
		if nackErr := upd.Delivery.Nack(false, requeue); nackErr != nil {
			log.WithError(nackErr).Warn("failed to nack message")
		}
		return
	}

	if !out.Duplicate {
		if out.BalanceCredit > 0 && balances != nil {
			balances.Invalidate(out.MembershipID)
		}
		if err := notifier.Reconciled(ctx, out, SourceRelay); err != nil {
			log.WithError(err).Warn("failed to publish reconciliation notice")
		}
	}

	if err := upd.Delivery.Ack(false); err != nil {
		log.WithError(err).Warn("failed to ack message")
		return
	}

	log.WithFields(logrus.Fields{
		"duplicate":      out.Duplicate,
		"allocations":    len(out.Allocations),
		"balance_credit": out.BalanceCredit,
	}).Debug("relayed payment processed")
}

// Validate rejects messages the engine could never accept.
func (m *PaymentMessage) Validate() error {
	if err := m.Event().Validate(); err != nil {
		return fmt.Errorf("message %q: %w", m.EventID, err)
	}
	return nil
}
