package services

import (
	"context"
	"log/slog"

	"checkout-service/models"
)

const (
	maxPageSize = 100
	maxPage     = 10000
)

type OrderService struct {
	store Store
	log   *slog.Logger
}

func NewOrderService(store Store, log *slog.Logger) *OrderService {
	return &OrderService{store: store, log: log}
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.store.Orders().Get(ctx, id)
}

// ListUserOrders returns one page (1-based) of a user's orders, newest first.
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, page, size int) ([]*models.Order, error) {
	if size < 1 || size > maxPageSize {
		size = 20
	}
	// keeps (page-1)*size far from overflowing into a negative offset
	page = min(max(page, 1), maxPage)
	return s.store.Orders().ListByUser(ctx, userID, size, (page-1)*size)
}

func (s *OrderService) CancelOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.transition(ctx, id, "cancel", (*models.Order).MarkAsCancelled)
}

func (s *OrderService) ShipOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.transition(ctx, id, "ship", (*models.Order).MarkAsShipped)
}

func (s *OrderService) CompleteOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.transition(ctx, id, "complete", (*models.Order).MarkAsCompleted)
}

func (s *OrderService) transition(ctx context.Context, id, op string, fn func(*models.Order) error) (*models.Order, error) {
	var out *models.Order
	err := s.store.WithinTx(ctx, func(tx Store) error {
		o, err := tx.Orders().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
		if err := tx.Orders().Update(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("order transitioned", "op", op, "order_id", out.ID, "status", out.Status)
	return out, nil
}
