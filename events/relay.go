package events

import (
	"context"
	"log/slog"
	"time"
)

// Relay periodically re-dispatches outbox events that were committed but
// never marked sent, e.g. because the process died right after commit.
type Relay struct {
	dispatcher *Dispatcher
	outbox     Outbox
	interval   time.Duration
	minAge     time.Duration
	batch      int
	log        *slog.Logger
}

func NewRelay(d *Dispatcher, outbox Outbox, interval, minAge time.Duration, batch int, log *slog.Logger) *Relay {
	if batch <= 0 {
		batch = 50
	}
	return &Relay{dispatcher: d, outbox: outbox, interval: interval, minAge: minAge, batch: batch, log: log}
}

func (r *Relay) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := r.Flush(ctx); err != nil {
				r.log.Error("outbox relay failed", "err", err)
			} else if n > 0 {
				r.log.Info("outbox relay redelivered events", "count", n)
			}
		}
	}
}

// Flush re-dispatches one batch and returns how many events it attempted.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	pending, err := r.outbox.Pending(ctx, r.minAge, r.batch)
	if err != nil {
		return 0, err
	}
	for _, ev := range pending {
		if err := r.dispatcher.deliver(ctx, ev); err != nil {
			r.log.Warn("outbox event still undeliverable", "event_id", ev.EventID, "err", err)
		}
	}
	return len(pending), nil
}
