package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"checkout-service/models"
)

type OutboxRepo struct{ q querier }

func (r *OutboxRepo) Add(ctx context.Context, ev models.OrderEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
INSERT INTO outbox (event_id, event_type, order_id, payload, created_at)
VALUES (?,?,?,?,?)`, ev.EventID, ev.Type, ev.OrderID, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *OutboxRepo) MarkSent(ctx context.Context, eventID string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE outbox SET sent_at = ? WHERE event_id = ? AND sent_at IS NULL`, time.Now().UTC(), eventID)
	return err
}

// Pending returns unsent events created at least olderThan ago, oldest first.
func (r *OutboxRepo) Pending(ctx context.Context, olderThan time.Duration, limit int) ([]models.OrderEvent, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT payload FROM outbox
WHERE sent_at IS NULL AND created_at <= ?
ORDER BY id
LIMIT ?`, time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}
	defer rows.Close()

	var out []models.OrderEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev models.OrderEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode outbox event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
