package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/apperrors"
	"checkout-service/models"
)

// CartRepo reads carts owned by the cart service. The only write is the
// checked-out flag set by checkout.
type CartRepo struct{ q querier }

func (r *CartRepo) Get(ctx context.Context, id int64) (*models.Cart, error) {
	var (
		c         models.Cart
		userID    sql.NullInt64
		sessionID sql.NullString
		status    string
	)
	err := r.q.QueryRowContext(ctx, `SELECT id, user_id, session_id, status FROM carts WHERE id = ?`, id).
		Scan(&c.ID, &userID, &sessionID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Cart", "id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get cart %d: %w", id, err)
	}
	if userID.Valid {
		uid := userID.Int64
		c.UserID = &uid
	}
	c.SessionID = sessionID.String
	c.Status = models.CartStatus(status)

	rows, err := r.q.QueryContext(ctx, `
SELECT product_id, product_name, price, quantity
FROM cart_items WHERE cart_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it models.CartItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Price, &it.Quantity); err != nil {
			return nil, err
		}
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}

func (r *CartRepo) MarkCheckedOut(ctx context.Context, id int64) error {
	if _, err := r.q.ExecContext(ctx, `UPDATE carts SET status = ? WHERE id = ?`, string(models.CartCheckedOut), id); err != nil {
		return fmt.Errorf("check out cart %d: %w", id, err)
	}
	return nil
}

type UserRepo struct{ q querier }

func (r *UserRepo) Get(ctx context.Context, id int64) (*models.User, error) {
	var (
		u     models.User
		phone sql.NullString
	)
	err := r.q.QueryRowContext(ctx, `SELECT id, email, name, phone FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Name, &phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("User", "id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	u.Phone = phone.String
	return &u, nil
}
