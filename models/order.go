package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"checkout-service/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusDraft          OrderStatus = "DRAFT"
	StatusCreated        OrderStatus = "CREATED"
	StatusPaymentPending OrderStatus = "PAYMENT_PENDING"
	StatusPaid           OrderStatus = "PAID"
	StatusPaymentFailed  OrderStatus = "PAYMENT_FAILED"
	StatusShipped        OrderStatus = "SHIPPED"
	StatusCompleted      OrderStatus = "COMPLETED"
	StatusCancelled      OrderStatus = "CANCELLED"
)

func (s OrderStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// ErrInvalidTransition is wrapped by every failed lifecycle operation.
var ErrInvalidTransition = errors.New("invalid order status transition")

var (
	payableStatuses     = []OrderStatus{StatusDraft, StatusCreated, StatusPaymentFailed}
	cancellableStatuses = []OrderStatus{StatusDraft, StatusCreated, StatusPaymentPending, StatusPaymentFailed}
	paidStatuses        = []OrderStatus{StatusPaid, StatusShipped, StatusCompleted}
)

// now is swapped in tests.
var now = func() time.Time { return time.Now().UTC() }

type GuestInfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type Order struct {
	ID               string          `json:"id"`
	CartID           int64           `json:"cart_id"`
	UserID           *int64          `json:"user_id,omitempty"`
	Guest            *GuestInfo      `json:"guest,omitempty"`
	Status           OrderStatus     `json:"status"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	ShippingFee      decimal.Decimal `json:"shipping_fee"`
	Total            decimal.Decimal `json:"total"`
	ShippingAddress  string          `json:"shipping_address"`
	PaymentURL       string          `json:"payment_url,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	Items            []OrderItem     `json:"items"`
	Version          int             `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	ShippedAt        *time.Time      `json:"shipped_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// OrderItem is a cart line frozen at checkout time.
type OrderItem struct {
	ID          int64           `json:"id,omitempty"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// NewOrderID returns an identifier of the form ORDER-XXXXXXXX.
func NewOrderID() string {
	return "ORDER-" + strings.ToUpper(uuid.NewString()[:8])
}

// NewOrder builds a DRAFT order with computed totals. Exactly one of userID
// and guest must be set.
func NewOrder(cartID int64, userID *int64, guest *GuestInfo, address string, fee decimal.Decimal, items []OrderItem) (*Order, error) {
	switch {
	case userID == nil && guest == nil:
		return nil, apperrors.BusinessRule("order must belong to a user or a guest")
	case userID != nil && guest != nil:
		return nil, apperrors.BusinessRule("order cannot belong to both a user and a guest")
	case guest != nil && (strings.TrimSpace(guest.Email) == "" || strings.TrimSpace(guest.Name) == ""):
		return nil, apperrors.BusinessRule("Guest email and name are required")
	case len(items) == 0:
		return nil, apperrors.BusinessRule("Cart is empty")
	}
	ts := now()
	o := &Order{
		ID:              NewOrderID(),
		CartID:          cartID,
		UserID:          userID,
		Guest:           guest,
		Status:          StatusDraft,
		ShippingFee:     fee,
		ShippingAddress: address,
		Items:           slices.Clone(items),
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	o.CalculateTotals()
	return o, nil
}

// CalculateTotals recomputes Subtotal from the line items and Total from
// Subtotal and ShippingFee.
func (o *Order) CalculateTotals() {
	sub := decimal.Zero
	for _, it := range o.Items {
		sub = sub.Add(it.LineTotal())
	}
	o.Subtotal = sub
	o.Total = sub.Add(o.ShippingFee)
}

func (o *Order) IsGuest() bool { return o.Guest != nil }

func (o *Order) IsPaid() bool { return slices.Contains(paidStatuses, o.Status) }

func (o *Order) CanBeConfirmed() bool { return o.Status == StatusPaymentPending }

func (o *Order) CanInitiatePayment() bool { return slices.Contains(payableStatuses, o.Status) }

func (o *Order) CanBeCancelled() bool { return slices.Contains(cancellableStatuses, o.Status) }

func (o *Order) MarkAsCreated() error {
	return o.transition(StatusCreated, StatusDraft)
}

func (o *Order) MarkAsPaymentPending(url, reference string) error {
	if err := o.transition(StatusPaymentPending, payableStatuses...); err != nil {
		return err
	}
	o.PaymentURL = url
	o.PaymentReference = reference
	return nil
}

// MarkAsPaid is the direct confirmation path and requires PAYMENT_PENDING.
func (o *Order) MarkAsPaid() error {
	if err := o.transition(StatusPaid, StatusPaymentPending); err != nil {
		return err
	}
	o.stampPaid()
	return nil
}

// MarkAsSettled is the gateway notification path: any open, unpaid order
// can settle, since notifications may arrive before the local state caught up.
func (o *Order) MarkAsSettled() error {
	if err := o.transition(StatusPaid, StatusDraft, StatusCreated, StatusPaymentPending, StatusPaymentFailed); err != nil {
		return err
	}
	o.stampPaid()
	return nil
}

func (o *Order) MarkAsPaymentFailed() error {
	return o.transition(StatusPaymentFailed, StatusDraft, StatusCreated, StatusPaymentPending, StatusPaymentFailed)
}

func (o *Order) MarkAsCancelled() error {
	return o.transition(StatusCancelled, cancellableStatuses...)
}

func (o *Order) MarkAsShipped() error {
	if err := o.transition(StatusShipped, StatusPaid); err != nil {
		return err
	}
	ts := o.UpdatedAt
	o.ShippedAt = &ts
	return nil
}

func (o *Order) MarkAsCompleted() error {
	if err := o.transition(StatusCompleted, StatusShipped); err != nil {
		return err
	}
	ts := o.UpdatedAt
	o.CompletedAt = &ts
	return nil
}

func (o *Order) stampPaid() {
	ts := o.UpdatedAt
	o.PaidAt = &ts
}

func (o *Order) transition(to OrderStatus, from ...OrderStatus) error {
	if !slices.Contains(from, o.Status) {
		return apperrors.Violation(fmt.Errorf("%w: order %s cannot move from %s to %s", ErrInvalidTransition, o.ID, o.Status, to))
	}
	o.Status = to
	o.UpdatedAt = now()
	return nil
}

// Clone returns a deep copy suitable for handing to event consumers.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	if o.UserID != nil {
		id := *o.UserID
		c.UserID = &id
	}
	if o.Guest != nil {
		g := *o.Guest
		c.Guest = &g
	}
	c.PaidAt = cloneTime(o.PaidAt)
	c.ShippedAt = cloneTime(o.ShippedAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
