package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/apperrors"
	"checkout-service/models"
)

type CallbackRepo struct{ q querier }

func (r *CallbackRepo) Exists(ctx context.Context, reference string) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx, `SELECT 1 FROM payment_callback_log WHERE callback_reference = ?`, reference).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check callback %s: %w", reference, err)
	}
	return true, nil
}

// Create appends to the callback log. A concurrent insert of the same
// reference loses on the unique key and is reported as a duplicate.
func (r *CallbackRepo) Create(ctx context.Context, cb *models.PaymentCallback) error {
	res, err := r.q.ExecContext(ctx, `
INSERT INTO payment_callback_log (order_id, callback_reference, callback_type, payload, processed_at)
VALUES (?,?,?,?,?)`, cb.OrderID, cb.Reference, string(cb.Type), cb.Payload, cb.ProcessedAt)
	if isDuplicate(err) {
		return apperrors.Duplicate("Callback already processed: %s", cb.Reference)
	}
	if err != nil {
		return fmt.Errorf("insert callback: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		cb.ID = id
	}
	return nil
}
