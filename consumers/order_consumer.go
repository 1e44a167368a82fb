package consumers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"checkout-service/config"
	"checkout-service/gateway"
	"checkout-service/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	templateAdminOrderPaid    = "ADMIN_ORDER_PAID"
	templateCustomerOrderPaid = "CUSTOMER_PAYMENT_CONFIRMED"
)

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkout_consumer_messages_total",
	Help: "Order queue messages by event type and outcome",
}, []string{"type", "outcome"})

// Notifier sends transactional email through the fulfillment service.
type Notifier interface {
	SendEmailNotification(ctx context.Context, req gateway.EmailRequest) error
}

// Deduper remembers which (scope, id) pairs were already handled.
type Deduper interface {
	Seen(ctx context.Context, scope, id string) (bool, error)
	Mark(ctx context.Context, scope, id string) error
}

type consumer interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

type OrderConsumer struct {
	notifier   Notifier
	dedupe     Deduper
	adminEmail string
	queue      string
	dlq        string
	timeout    time.Duration
	log        *slog.Logger
}

func NewOrderConsumer(cfg config.Config, notifier Notifier, dedupe Deduper, log *slog.Logger) *OrderConsumer {
	return &OrderConsumer{
		notifier:   notifier,
		dedupe:     dedupe,
		adminEmail: cfg.Checkout.AdminEmail,
		queue:      cfg.RabbitMQ.OrderQueue,
		dlq:        cfg.RabbitMQ.DeadLetterQueue,
		timeout:    30 * time.Second,
		log:        log,
	}
}

// Start consumes the order queue and its dead letter queue until ctx ends
// or the channel closes.
func (c *OrderConsumer) Start(ctx context.Context, ch consumer) error {
	msgs, err := ch.Consume(c.queue, "checkout-service", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	go c.loop(ctx, msgs, c.processOrderMessage)

	dlqMsgs, err := ch.Consume(c.dlq, "checkout-service-dlq", false, false, false, false, nil)
	if err != nil {
		c.log.Warn("dead letter consumer not registered", "queue", c.dlq, "err", err)
		return nil
	}
	go c.loop(ctx, dlqMsgs, c.processDeadLetterMessage)
	return nil
}

func (c *OrderConsumer) loop(ctx context.Context, msgs <-chan amqp.Delivery, handle func(context.Context, amqp.Delivery)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			handle(ctx, msg)
		}
	}
}

func (c *OrderConsumer) processOrderMessage(ctx context.Context, msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("recovered from panic in message processing", "panic", r, "message_id", msg.MessageId)
			c.nack(msg)
			messagesTotal.WithLabelValues(msg.Type, "panic").Inc()
		}
	}()

	var ev models.OrderEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil || ev.EventID == "" {
		c.log.Warn("invalid message format", "message_id", msg.MessageId, "err", err)
		c.nack(msg)
		messagesTotal.WithLabelValues(msg.Type, "invalid").Inc()
		return
	}
	log := c.log.With("event_id", ev.EventID, "type", ev.Type, "order_id", ev.OrderID)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var err error
	switch ev.Type {
	case models.EventOrderPaid:
		err = c.handleOrderPaid(ctx, ev, log)
	default:
		log.Info("ignoring unknown event type")
	}
	if err != nil {
		log.Error("order event failed, dead-lettering", "err", err)
		c.nack(msg)
		messagesTotal.WithLabelValues(ev.Type, "failed").Inc()
		return
	}
	if err := msg.Ack(false); err != nil {
		log.Warn("ack failed", "err", err)
	}
	messagesTotal.WithLabelValues(ev.Type, "ok").Inc()
}

func (c *OrderConsumer) processDeadLetterMessage(_ context.Context, msg amqp.Delivery) {
	c.log.Warn("received dead letter", "message_id", msg.MessageId, "type", msg.Type, "body", string(msg.Body))
	messagesTotal.WithLabelValues(msg.Type, "dead_letter").Inc()
	if err := msg.Ack(false); err != nil {
		c.log.Warn("ack dead letter failed", "err", err)
	}
}

func (c *OrderConsumer) nack(msg amqp.Delivery) {
	if err := msg.Nack(false, false); err != nil {
		c.log.Warn("nack failed", "message_id", msg.MessageId, "err", err)
	}
}

// handleOrderPaid notifies the admin and, when an address is known, the
// customer. Each recipient is deduplicated separately so a redelivery
// after a partial failure does not mail twice.
func (c *OrderConsumer) handleOrderPaid(ctx context.Context, ev models.OrderEvent, log *slog.Logger) error {
	if ev.Order == nil {
		return fmt.Errorf("event %s carries no order", ev.EventID)
	}
	o := ev.Order
	data := map[string]any{
		"customerName":    ev.Customer.Name,
		"totalAmount":     o.Total.StringFixed(2),
		"shippingAddress": o.ShippingAddress,
	}

	log.Info("sending admin notification for paid order")
	if err := c.sendOnce(ctx, "email:admin", ev.EventID, gateway.EmailRequest{
		OrderID:        o.ID,
		RecipientEmail: c.adminEmail,
		RecipientName:  "Admin",
		Subject:        "New paid order " + o.ID,
		TemplateType:   templateAdminOrderPaid,
		TemplateData:   data,
	}); err != nil {
		return fmt.Errorf("admin notification: %w", err)
	}

	if ev.Customer.Email == "" {
		log.Info("no customer email, skipping confirmation")
		return nil
	}
	log.Info("sending customer payment confirmation", "recipient", ev.Customer.Email)
	if err := c.sendOnce(ctx, "email:customer", ev.EventID, gateway.EmailRequest{
		OrderID:        o.ID,
		RecipientEmail: ev.Customer.Email,
		RecipientName:  ev.Customer.Name,
		Subject:        "Payment received for order " + o.ID,
		TemplateType:   templateCustomerOrderPaid,
		TemplateData:   data,
	}); err != nil {
		return fmt.Errorf("customer notification: %w", err)
	}
	return nil
}

func (c *OrderConsumer) sendOnce(ctx context.Context, scope, id string, req gateway.EmailRequest) error {
	if c.dedupe != nil {
		seen, err := c.dedupe.Seen(ctx, scope, id)
		if err != nil {
			c.log.Warn("dedupe unavailable, sending anyway", "scope", scope, "err", err)
		} else if seen {
			c.log.Info("notification already sent", "scope", scope, "event_id", id)
			return nil
		}
	}
	if err := c.notifier.SendEmailNotification(ctx, req); err != nil {
		return err
	}
	// marked only once delivered, so a crash before here resends
	if c.dedupe != nil {
		if err := c.dedupe.Mark(ctx, scope, id); err != nil {
			c.log.Warn("record sent notification failed", "scope", scope, "event_id", id, "err", err)
		}
	}
	return nil
}
