package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"checkout-service/models"
)

// Handler consumes order events. Handlers must tolerate redelivery.
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev models.OrderEvent) error
}

type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, ev models.OrderEvent) error
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Handle(ctx context.Context, ev models.OrderEvent) error { return h.Fn(ctx, ev) }

// Outbox is the durable side of dispatch: events are written inside the
// business transaction and marked sent once every handler accepted them.
type Outbox interface {
	MarkSent(ctx context.Context, eventID string) error
	Pending(ctx context.Context, olderThan time.Duration, limit int) ([]models.OrderEvent, error)
}

// Dispatcher delivers committed events to the registered handlers.
// Register all handlers before the first Dispatch.
type Dispatcher struct {
	handlers []Handler
	outbox   Outbox
	timeout  time.Duration
	log      *slog.Logger
}

func NewDispatcher(outbox Outbox, log *slog.Logger) *Dispatcher {
	return &Dispatcher{outbox: outbox, timeout: 10 * time.Second, log: log}
}

func (d *Dispatcher) Register(h Handler) {
	d.handlers = append(d.handlers, h)
}

// Dispatch must only be called after the transaction that produced evs has
// committed. It is detached from ctx cancellation so a client hanging up
// does not abort delivery; undelivered events stay pending for the Relay.
func (d *Dispatcher) Dispatch(ctx context.Context, evs ...models.OrderEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	for _, ev := range evs {
		if err := d.deliver(ctx, ev); err != nil {
			d.log.Error("event delivery failed, left for relay", "event_id", ev.EventID, "type", ev.Type, "order_id", ev.OrderID, "err", err)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev models.OrderEvent) error {
	var errs []error
	for _, h := range d.handlers {
		if err := h.Handle(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Name(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if d.outbox == nil {
		return nil
	}
	if err := d.outbox.MarkSent(ctx, ev.EventID); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	d.log.Info("event dispatched", "event_id", ev.EventID, "type", ev.Type, "order_id", ev.OrderID)
	return nil
}
