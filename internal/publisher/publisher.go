package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"billing-service/internal/config"
	"billing-service/internal/reconcile"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	RoutingKeyReconciled = "payment.reconciled"

	publishTimeout = 5 * time.Second
)

// ReconciledMessage is published after a reconciliation commits.
type ReconciledMessage struct {
	GatewayReference string                 `json:"gateway_reference"`
	MembershipID     uint                   `json:"membership_id"`
	Currency         string                 `json:"currency"`
	Allocations      []reconcile.Allocation `json:"allocations"`
	BalanceCredit    int64                  `json:"balance_credit"`
	Source           string                 `json:"source"`
	ReconciledAt     time.Time              `json:"reconciled_at"`
}

// Publisher sends ledger notifications to a topic exchange.
type Publisher struct {
	cfg config.RabbitConfig
	log *logrus.Logger

	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
}

func New(cfg config.RabbitConfig, log *logrus.Logger) (*Publisher, error) {
	p := &Publisher{cfg: cfg, log: log}
	if err := p.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.cfg.AMQPURL())
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch

	p.log.WithFields(logrus.Fields{
		"host":     p.cfg.Host,
		"exchange": p.cfg.Exchange,
	}).Info("publisher connected to RabbitMQ")

	return nil
}

// Reconciled publishes out. Duplicate outcomes are not published.
func (p *Publisher) Reconciled(ctx context.Context, out reconcile.Outcome, source string) error {
	if out.Duplicate {
		return nil
	}

	msg, err := newPublishing(out, source, time.Now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.channel.IsClosed() {
		if p.conn != nil {
			p.conn.Close()
		}
		if err := p.connect(); err != nil {
			return err
		}
	}

	if err := p.channel.PublishWithContext(ctx,
		p.cfg.Exchange,
		RoutingKeyReconciled,
		false, // mandatory
		false, // immediate
		msg,
	); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	return nil
}

func newPublishing(out reconcile.Outcome, source string, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(ReconciledMessage{
		GatewayReference: out.GatewayReference,
		MembershipID:     out.MembershipID,
		Currency:         out.Currency,
		Allocations:      out.Allocations,
		BalanceCredit:    out.BalanceCredit,
		Source:           source,
		ReconciledAt:     now.UTC(),
	})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: out.GatewayReference,
		Timestamp:     now,
		Body:          body,
	}, nil
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.log.Info("publisher closed")
}
