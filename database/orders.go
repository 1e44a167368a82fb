package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-service/apperrors"
	"checkout-service/models"
)

const orderColumns = `id, cart_id, user_id, guest_email, guest_name, guest_phone, status,
	subtotal, shipping_fee, total, shipping_address, payment_url, payment_reference,
	version, created_at, updated_at, paid_at, shipped_at, completed_at`

type OrderRepo struct{ q querier }

// Create inserts the order and its items. Call it inside a transaction.
func (r *OrderRepo) Create(ctx context.Context, o *models.Order) error {
	var guestEmail, guestName, guestPhone string
	if o.Guest != nil {
		guestEmail, guestName, guestPhone = o.Guest.Email, o.Guest.Name, o.Guest.Phone
	}
	var userID sql.NullInt64
	if o.UserID != nil {
		userID = sql.NullInt64{Int64: *o.UserID, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, `
INSERT INTO orders (`+orderColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.CartID, userID, nullString(guestEmail), nullString(guestName), nullString(guestPhone), string(o.Status),
		o.Subtotal, o.ShippingFee, o.Total, o.ShippingAddress, nullString(o.PaymentURL), nullString(o.PaymentReference),
		o.Version, o.CreatedAt, o.UpdatedAt, nullTime(o.PaidAt), nullTime(o.ShippedAt), nullTime(o.CompletedAt))
	if isDuplicate(err) {
		return apperrors.BusinessRule("An order has already been created from this cart")
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range o.Items {
		if _, err := r.q.ExecContext(ctx, `
INSERT INTO order_items (order_id, product_id, product_name, unit_price, quantity)
VALUES (?,?,?,?,?)`, o.ID, it.ProductID, it.ProductName, it.UnitPrice, it.Quantity); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *OrderRepo) Get(ctx context.Context, id string) (*models.Order, error) {
	return r.get(ctx, id, "")
}

func (r *OrderRepo) GetForUpdate(ctx context.Context, id string) (*models.Order, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *OrderRepo) get(ctx context.Context, id, lock string) (*models.Order, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`+lock, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Order", "id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	if o.Items, err = r.items(ctx, id); err != nil {
		return nil, err
	}
	return o, nil
}

// Update writes the mutable order fields when the stored version still
// matches o.Version, then advances o.Version.
func (r *OrderRepo) Update(ctx context.Context, o *models.Order) error {
	res, err := r.q.ExecContext(ctx, `
UPDATE orders
SET status = ?, subtotal = ?, shipping_fee = ?, total = ?, shipping_address = ?,
    payment_url = ?, payment_reference = ?, paid_at = ?, shipped_at = ?, completed_at = ?,
    updated_at = ?, version = version + 1
WHERE id = ? AND version = ?`,
		string(o.Status), o.Subtotal, o.ShippingFee, o.Total, o.ShippingAddress,
		nullString(o.PaymentURL), nullString(o.PaymentReference), nullTime(o.PaidAt), nullTime(o.ShippedAt), nullTime(o.CompletedAt),
		o.UpdatedAt, o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := r.q.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, o.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("Order", "id", o.ID)
		}
		return apperrors.Conflict("Order %s was modified concurrently, please retry", o.ID)
	}
	o.Version++
	return nil
}

func (r *OrderRepo) ExistsByCartID(ctx context.Context, cartID int64) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE cart_id = ? LIMIT 1`, cartID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check order for cart %d: %w", cartID, err)
	}
	return true, nil
}

func (r *OrderRepo) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Order, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT `+orderColumns+` FROM orders
WHERE user_id = ?
ORDER BY created_at DESC
LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, o := range orders {
		if o.Items, err = r.items(ctx, o.ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *OrderRepo) items(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT id, product_id, product_name, unit_price, quantity
FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.UnitPrice, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                                 models.Order
		status                            string
		userID                            sql.NullInt64
		guestEmail, guestName, guestPhone sql.NullString
		paymentURL, paymentRef            sql.NullString
		paidAt, shippedAt, completedAt    sql.NullTime
		createdAt, updatedAt              time.Time
	)
	if err := row.Scan(&o.ID, &o.CartID, &userID, &guestEmail, &guestName, &guestPhone, &status,
		&o.Subtotal, &o.ShippingFee, &o.Total, &o.ShippingAddress, &paymentURL, &paymentRef,
		&o.Version, &createdAt, &updatedAt, &paidAt, &shippedAt, &completedAt); err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	if userID.Valid {
		id := userID.Int64
		o.UserID = &id
	}
	if guestEmail.Valid {
		o.Guest = &models.GuestInfo{Email: guestEmail.String, Name: guestName.String, Phone: guestPhone.String}
	}
	o.PaymentURL = paymentURL.String
	o.PaymentReference = paymentRef.String
	o.CreatedAt = createdAt.UTC()
	o.UpdatedAt = updatedAt.UTC()
	o.PaidAt = timePtr(paidAt)
	o.ShippedAt = timePtr(shippedAt)
	o.CompletedAt = timePtr(completedAt)
	return &o, nil
}
