package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"billing-service/internal/config"
	"billing-service/internal/processor"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	RoutingKeyConfirmed = processor.EventTypeConfirmed
	RoutingKeyRejected  = "payment.rejected"

	consumerTag          = "billing-service"
	reconnectDelay       = 2 * time.Second
	maxReconnectDelay    = time.Minute
	maxReconnectAttempts = 10
	consumerTimeout      = 30 * time.Second
)

type Consumer struct {
	cfg     config.RabbitConfig
	log     *logrus.Logger
	updates chan<- processor.IncomingEvent

	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.RabbitConfig, log *logrus.Logger, updates chan<- processor.IncomingEvent) (*Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		cfg:     cfg,
		log:     log,
		updates: updates,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := c.connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return c, nil
}

func (c *Consumer) connect() error {
	conn, err := amqp.Dial(c.cfg.AMQPURL())
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch, c.cfg); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"host":     c.cfg.Host,
		"exchange": c.cfg.Exchange,
		"queue":    c.cfg.Queue,
	}).Info("consumer connected to RabbitMQ")

	// Monitor connection for errors
	go c.monitorConnection()

	return nil
}

// declareTopology binds the payment queue to the billing exchange. Messages
// nacked without requeue are dead-lettered to RoutingKeyRejected.
func declareTopology(ch *amqp.Channel, cfg config.RabbitConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	rejected := cfg.Queue + ".rejected"
	if _, err := ch.QueueDeclare(rejected, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare rejected queue: %w", err)
	}
	if err := ch.QueueBind(rejected, RoutingKeyRejected, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind rejected queue: %w", err)
	}

	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    cfg.Exchange,
			"x-dead-letter-routing-key": RoutingKeyRejected,
		},
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, RoutingKeyConfirmed, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	return nil
}

func (c *Consumer) monitorConnection() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return
	}

	notifyClose := conn.NotifyClose(make(chan *amqp.Error))

	select {
	case err := <-notifyClose:
		if err != nil {
			c.log.WithError(err).Error("RabbitMQ connection closed unexpectedly")
			c.reconnect()
		}
	case <-c.ctx.Done():
		return
	}
}

func (c *Consumer) reconnect() {
	c.mu.Lock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		c.log.WithField("attempt", attempt).Info("attempting to reconnect to RabbitMQ")

		if err := c.connect(); err == nil {
			c.log.Info("successfully reconnected to RabbitMQ")
			// Restart consuming in a new goroutine
			go func() {
				if err := c.Start(c.ctx); err != nil && c.ctx.Err() == nil {
					c.log.WithError(err).Error("failed to restart consumer after reconnect")
				}
			}()
			return
		}

		delay := min(reconnectDelay<<(attempt-1), maxReconnectDelay)
		c.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("reconnection failed, retrying")

		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}
	}

	c.log.Error("max reconnection attempts reached, giving up")
}

func (c *Consumer) Start(ctx context.Context) error {
	c.mu.RLock()
	channel := c.channel
	c.mu.RUnlock()

	if channel == nil {
		return fmt.Errorf("channel is not initialized")
	}

	msgs, err := channel.Consume(
		c.cfg.Queue,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.log.WithField("workers", c.cfg.Workers).Info("starting consumer workers")

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, msgs, i)
	}

	<-ctx.Done()
	c.log.Info("stopping consumer workers")
	c.wg.Wait()

	return nil
}

func (c *Consumer) worker(ctx context.Context, msgs <-chan amqp.Delivery, workerID int) {
	defer c.wg.Done()

	c.log.WithField("worker_id", workerID).Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			c.log.WithField("worker_id", workerID).Debug("worker stopped")
			return

		case msg, ok := <-msgs:
			if !ok {
				c.log.WithField("worker_id", workerID).Warn("message channel closed")
				return
			}

			c.processMessage(ctx, msg, workerID)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg amqp.Delivery, workerID int) {
	ctx, cancel := context.WithTimeout(ctx, consumerTimeout)
	defer cancel()

	payload, err := decodeMessage(msg.Body)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"worker_id": workerID,
			"error":     err,
			"body":      string(msg.Body),
		}).Error("rejecting relayed payment message")

		// Reject and don't requeue malformed messages
		_ = msg.Nack(false, false)
		return
	}

	select {
	case c.updates <- processor.IncomingEvent{
		Payload:  payload,
		Delivery: msg,
	}:
		c.log.WithFields(logrus.Fields{
			"worker_id":         workerID,
			"event_id":          payload.EventID,
			"gateway_reference": payload.Reference(),
		}).Debug("message sent to processor")
	case <-ctx.Done():
		c.log.WithField("worker_id", workerID).Warn("context cancelled while sending message")
		_ = msg.Nack(false, true) // Requeue
		return
	}
}

// decodeMessage strictly decodes and validates a relayed payment message
func decodeMessage(body []byte) (processor.PaymentMessage, error) {
	var payload processor.PaymentMessage

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return payload, err
	}
	return payload, nil
}

func (c *Consumer) Close() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.log.Info("consumer closed")
}
