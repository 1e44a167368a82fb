package services

import (
	"context"

	"checkout-service/gateway"
	"checkout-service/models"
)

type OrderRepository interface {
	Create(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	// GetForUpdate locks the order row until the enclosing transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.Order, error)
	// Update persists o if its Version still matches the stored one and bumps it.
	Update(ctx context.Context, o *models.Order) error
	ExistsByCartID(ctx context.Context, cartID int64) (bool, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Order, error)
}

type CartRepository interface {
	Get(ctx context.Context, id int64) (*models.Cart, error)
	MarkCheckedOut(ctx context.Context, id int64) error
}

type UserRepository interface {
	Get(ctx context.Context, id int64) (*models.User, error)
}

type CallbackRepository interface {
	Exists(ctx context.Context, reference string) (bool, error)
	Create(ctx context.Context, cb *models.PaymentCallback) error
}

type OutboxRepository interface {
	Add(ctx context.Context, ev models.OrderEvent) error
}

// Store is the unit of work. Repositories obtained from the tx passed to
// WithinTx share its transaction; fn returning an error rolls everything back.
type Store interface {
	Orders() OrderRepository
	Carts() CartRepository
	Users() UserRepository
	Callbacks() CallbackRepository
	Outbox() OutboxRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// FulfillmentGateway never fails outright: unavailability surfaces as an
// unsuccessful result.
type FulfillmentGateway interface {
	QuoteShipping(ctx context.Context, req gateway.ShippingQuoteRequest) gateway.ShippingQuoteResult
	InitiatePayment(ctx context.Context, req gateway.PaymentRequest) gateway.PaymentResult
}

type SnapGateway interface {
	CreateTransaction(ctx context.Context, req gateway.SnapRequest) (gateway.SnapResult, error)
}

// Locker serialises work on a key across instances.
type Locker interface {
	// TryLock returns a token identifying this acquisition.
	TryLock(ctx context.Context, key string) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, evs ...models.OrderEvent)
}
