package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"checkout-service/config"
	"checkout-service/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// publisher is the part of *amqp.Channel used for publishing.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Cfg     config.Config

	mu  sync.Mutex
	pub publisher
	log *slog.Logger
}

func NewRabbitMQ(cfg config.Config, log *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &RabbitMQ{
		Conn:    conn,
		Channel: ch,
		Cfg:     cfg,
		pub:     ch,
		log:     log,
	}, nil
}

func (r *RabbitMQ) deadLetterExchange() string {
	return r.Cfg.RabbitMQ.DeadLetterQueue + "_exchange"
}

// SetupQueues declares the order exchange, the order queue and its dead
// letter queue. Declarations are idempotent.
func (r *RabbitMQ) SetupQueues() error {
	q := r.Cfg.RabbitMQ

	if err := r.Channel.ExchangeDeclare(r.deadLetterExchange(), "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}
	if _, err := r.Channel.QueueDeclare(q.DeadLetterQueue, true, false, false, false,
		amqp.Table{"x-queue-type": "classic"}); err != nil {
		return fmt.Errorf("declare dead letter queue: %w", err)
	}
	if err := r.Channel.QueueBind(q.DeadLetterQueue, q.DeadLetterQueue, r.deadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}

	if err := r.Channel.ExchangeDeclare(q.OrderExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare order exchange: %w", err)
	}
	if _, err := r.Channel.QueueDeclare(q.OrderQueue, true, false, false, false,
		amqp.Table{
			"x-max-priority":            q.MaxPriority,
			"x-dead-letter-exchange":    r.deadLetterExchange(),
			"x-dead-letter-routing-key": q.DeadLetterQueue,
		}); err != nil {
		return fmt.Errorf("declare order queue: %w", err)
	}
	if err := r.Channel.QueueBind(q.OrderQueue, "order.*", q.OrderExchange, false, nil); err != nil {
		return fmt.Errorf("bind order queue: %w", err)
	}
	return nil
}

// priorityOf ranks events for the order queue; paid orders jump the line.
func priorityOf(eventType string) uint8 {
	switch eventType {
	case models.EventOrderPaid:
		return 5
	default:
		return 1
	}
}

// PublishOrderEvent sends ev as persistent JSON routed by its type.
func (r *RabbitMQ) PublishOrderEvent(ctx context.Context, ev models.OrderEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		MessageId:    ev.EventID,
		Type:         ev.Type,
		Body:         body,
		Priority:     priorityOf(ev.Type),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.pub.PublishWithContext(ctx, r.Cfg.RabbitMQ.OrderExchange, ev.Type, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (r *RabbitMQ) Name() string { return "rabbitmq:" + r.Cfg.RabbitMQ.OrderExchange }

func (r *RabbitMQ) Handle(ctx context.Context, ev models.OrderEvent) error {
	return r.PublishOrderEvent(ctx, ev)
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil && r.log != nil {
			r.log.Warn("close rabbitmq channel", "err", err)
		}
	}
	if r.Conn != nil {
		if err := r.Conn.Close(); err != nil && r.log != nil {
			r.log.Warn("close rabbitmq connection", "err", err)
		}
	}
}
