package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"checkout-service/apperrors"
	"checkout-service/config"
	"checkout-service/gateway"
	"checkout-service/models"

	"github.com/shopspring/decimal"
)

type CheckoutSettings struct {
	DefaultShippingFee decimal.Decimal
	Currency           string
	Courier            string
	DefaultWeightKg    float64
	CallbackBaseURL    string
	ReturnBaseURL      string
}

func SettingsFromConfig(cfg config.Config) CheckoutSettings {
	return CheckoutSettings{
		DefaultShippingFee: cfg.DefaultShippingFee(),
		Currency:           cfg.Checkout.Currency,
		Courier:            cfg.Checkout.Courier,
		DefaultWeightKg:    cfg.Checkout.DefaultWeightKg,
		CallbackBaseURL:    strings.TrimRight(cfg.Checkout.CallbackBaseURL, "/"),
		ReturnBaseURL:      strings.TrimRight(cfg.Checkout.ReturnBaseURL, "/"),
	}
}

type CheckoutRequest struct {
	CartID          int64   `json:"cart_id" binding:"required"`
	UserID          *int64  `json:"user_id,omitempty"`
	ShippingAddress string  `json:"shipping_address" binding:"required"`
	GuestEmail      string  `json:"guest_email,omitempty"`
	GuestName       string  `json:"guest_name,omitempty"`
	GuestPhone      string  `json:"guest_phone,omitempty"`
	OriginCity      string  `json:"origin_city,omitempty"`
	DestinationCity string  `json:"destination_city,omitempty"`
	WeightInKg      float64 `json:"weight_in_kg,omitempty"`
	BypassShipping  bool    `json:"bypass_shipping,omitempty"`
	BypassPayment   bool    `json:"bypass_payment,omitempty"`
}

type CheckoutResult struct {
	OrderID          string             `json:"order_id"`
	Status           models.OrderStatus `json:"status"`
	Subtotal         decimal.Decimal    `json:"subtotal"`
	ShippingFee      decimal.Decimal    `json:"shipping_fee"`
	Total            decimal.Decimal    `json:"total_amount"`
	PaymentURL       string             `json:"payment_url,omitempty"`
	PaymentReference string             `json:"payment_reference,omitempty"`
	// PaymentRetryRequired is set when the order exists but payment could not be initiated.
	PaymentRetryRequired bool   `json:"payment_retry_required"`
	Message              string `json:"message"`
}

func newCheckoutResult(o *models.Order, msg string) *CheckoutResult {
	return &CheckoutResult{
		OrderID:          o.ID,
		Status:           o.Status,
		Subtotal:         o.Subtotal,
		ShippingFee:      o.ShippingFee,
		Total:            o.Total,
		PaymentURL:       o.PaymentURL,
		PaymentReference: o.PaymentReference,
		Message:          msg,
	}
}

// CheckoutService turns carts into orders and starts payment for them.
type CheckoutService struct {
	store    Store
	gateway  FulfillmentGateway
	settings CheckoutSettings
	log      *slog.Logger
}

func NewCheckoutService(store Store, gw FulfillmentGateway, settings CheckoutSettings, log *slog.Logger) *CheckoutService {
	return &CheckoutService{store: store, gateway: gw, settings: settings, log: log}
}

func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	s.log.Info("starting checkout", "cart_id", req.CartID, "user_id", req.UserID)

	cart, err := s.store.Carts().Get(ctx, req.CartID)
	if err != nil {
		return nil, err
	}
	customer, guest, err := s.validate(ctx, req, cart)
	if err != nil {
		return nil, err
	}

	fee := s.shippingFee(ctx, req)
	order, err := models.NewOrder(cart.ID, req.UserID, guest, req.ShippingAddress, fee, cart.OrderItems())
	if err != nil {
		return nil, err
	}
	if err := s.store.WithinTx(ctx, func(tx Store) error {
		return tx.Orders().Create(ctx, order)
	}); err != nil {
		return nil, err
	}
	s.log.Info("order created", "order_id", order.ID, "total", order.Total.String())

	// The order is committed; a client disconnect must not strand it
	// between the payment call and recording its outcome.
	ctx = context.WithoutCancel(ctx)

	if req.BypassPayment {
		s.log.Info("bypassing payment initiation", "order_id", order.ID)
		o, err := s.finalize(ctx, order.ID, true, func(o *models.Order) error { return o.MarkAsCreated() })
		if err != nil {
			return s.retryRequired(ctx, order, err), nil
		}
		return newCheckoutResult(o, "Order created successfully. Payment bypassed for testing."), nil
	}

	res := s.gateway.InitiatePayment(ctx, s.paymentRequest(order, customer))
	if !res.Success {
		s.log.Warn("payment initiation failed", "order_id", order.ID, "err", res.ErrorMessage)
		o, err := s.finalize(ctx, order.ID, false, func(o *models.Order) error { return o.MarkAsCreated() })
		if err != nil {
			return s.retryRequired(ctx, order, err), nil
		}
		out := newCheckoutResult(o, "Order created but payment initiation failed. Please retry payment.")
		out.PaymentRetryRequired = true
		return out, nil
	}

	o, err := s.finalize(ctx, order.ID, true, func(o *models.Order) error {
		return o.MarkAsPaymentPending(res.PaymentURL, res.PaymentReference)
	})
	if err != nil {
		return s.retryRequired(ctx, order, fmt.Errorf("record payment %s: %w", res.PaymentReference, err)), nil
	}
	s.log.Info("checkout completed", "order_id", o.ID, "payment_url", o.PaymentURL)
	return newCheckoutResult(o, "Order created successfully. Please complete payment."), nil
}

// RetryPayment starts payment again for an order whose earlier attempt failed.
// The order's stored items and customer are used; the cart is not re-read.
func (s *CheckoutService) RetryPayment(ctx context.Context, orderID string) (*CheckoutResult, error) {
	s.log.Info("retrying payment", "order_id", orderID)

	order, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IsPaid() {
		return nil, apperrors.BusinessRule("Order is already paid")
	}
	if !order.CanInitiatePayment() {
		return nil, apperrors.BusinessRule("Payment cannot be initiated for order in status: %s", order.Status)
	}
	customer, err := resolveCustomer(ctx, s.store.Users(), order)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	res := s.gateway.InitiatePayment(ctx, s.paymentRequest(order, customer))
	if !res.Success {
		return nil, apperrors.Unavailable("Payment service", fmt.Errorf("initiate payment: %s", res.ErrorMessage))
	}
	o, err := s.finalize(ctx, orderID, true, func(o *models.Order) error {
		return o.MarkAsPaymentPending(res.PaymentURL, res.PaymentReference)
	})
	if err != nil {
		return nil, err
	}
	return newCheckoutResult(o, "Payment initiated successfully."), nil
}

// retryRequired reports a committed order whose payment outcome could not
// be recorded. The order keeps a payable status, so RetryPayment recovers it.
func (s *CheckoutService) retryRequired(ctx context.Context, order *models.Order, cause error) *CheckoutResult {
	s.log.Error("recording payment outcome failed", "order_id", order.ID, "err", cause)
	if o, err := s.store.Orders().Get(ctx, order.ID); err == nil {
		order = o
	}
	out := newCheckoutResult(order, "Order created but payment could not be recorded. Please retry payment.")
	out.PaymentRetryRequired = true
	return out
}

// finalize applies the payment outcome to the locked order and, when
// checkoutCart is set, marks the source cart checked out in the same transaction.
func (s *CheckoutService) finalize(ctx context.Context, orderID string, checkoutCart bool, mutate func(*models.Order) error) (*models.Order, error) {
	var out *models.Order
	err := s.store.WithinTx(ctx, func(tx Store) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.IsPaid() {
			// a settlement notification got here first
			s.log.Warn("order already paid, keeping status", "order_id", o.ID, "status", o.Status)
		} else {
			if err := mutate(o); err != nil {
				return err
			}
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
		}
		if checkoutCart {
			if err := tx.Carts().MarkCheckedOut(ctx, o.CartID); err != nil {
				return fmt.Errorf("mark cart %d checked out: %w", o.CartID, err)
			}
		}
		out = o
		return nil
	})
	return out, err
}

func (s *CheckoutService) validate(ctx context.Context, req CheckoutRequest, cart *models.Cart) (models.Customer, *models.GuestInfo, error) {
	var (
		customer models.Customer
		guest    *models.GuestInfo
	)
	if req.UserID != nil {
		user, err := s.store.Users().Get(ctx, *req.UserID)
		if err != nil {
			return customer, nil, err
		}
		if !cart.BelongsTo(user.ID) {
			return customer, nil, apperrors.BusinessRule("Cart does not belong to the specified user")
		}
		customer = user.Customer()
	} else {
		if cart.SessionID == "" || cart.UserID != nil {
			return customer, nil, apperrors.BusinessRule("Invalid guest cart")
		}
		if strings.TrimSpace(req.GuestEmail) == "" {
			return customer, nil, apperrors.BusinessRule("Guest email is required for checkout")
		}
		if strings.TrimSpace(req.GuestName) == "" {
			return customer, nil, apperrors.BusinessRule("Guest name is required for checkout")
		}
		guest = &models.GuestInfo{
			Email: strings.TrimSpace(req.GuestEmail),
			Name:  strings.TrimSpace(req.GuestName),
			Phone: strings.TrimSpace(req.GuestPhone),
		}
		customer = guest.Customer()
	}

	if !cart.IsActive() {
		return customer, nil, apperrors.BusinessRule("Cart has already been checked out")
	}
	if cart.IsEmpty() {
		return customer, nil, apperrors.BusinessRule("Cannot checkout an empty cart")
	}
	// Fast path only; the unique cart_id constraint is the real guard.
	exists, err := s.store.Orders().ExistsByCartID(ctx, cart.ID)
	if err != nil {
		return customer, nil, err
	}
	if exists {
		return customer, nil, apperrors.BusinessRule("An order has already been created from this cart")
	}
	return customer, guest, nil
}

// shippingFee never fails: any missing input or quote failure yields the default fee.
func (s *CheckoutService) shippingFee(ctx context.Context, req CheckoutRequest) decimal.Decimal {
	if req.BypassShipping {
		s.log.Info("bypassing shipping service, using default shipping fee")
		return s.settings.DefaultShippingFee
	}
	if req.OriginCity == "" || req.DestinationCity == "" {
		s.log.Warn("origin/destination cities not provided, using default shipping fee")
		return s.settings.DefaultShippingFee
	}
	weight := req.WeightInKg
	if weight <= 0 {
		weight = s.settings.DefaultWeightKg
	}
	res := s.gateway.QuoteShipping(ctx, gateway.ShippingQuoteRequest{
		OriginCity:      req.OriginCity,
		DestinationCity: req.DestinationCity,
		WeightInKg:      weight,
		CourierCode:     s.settings.Courier,
	})
	if !res.Success || res.Price.IsNegative() {
		s.log.Warn("shipping quote unavailable, using default shipping fee", "err", res.ErrorMessage)
		return s.settings.DefaultShippingFee
	}
	s.log.Info("shipping fee calculated", "fee", res.Price.String())
	return res.Price
}

func (s *CheckoutService) paymentRequest(o *models.Order, c models.Customer) gateway.PaymentRequest {
	items := make([]gateway.PaymentItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, gateway.PaymentItem{
			ProductID:   fmt.Sprint(it.ProductID),
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
		})
	}
	return gateway.PaymentRequest{
		OrderID:       o.ID,
		Amount:        o.Total,
		Currency:      s.settings.Currency,
		CustomerEmail: c.Email,
		CustomerName:  c.Name,
		Description:   "Payment for order " + o.ID,
		Items:         items,
		CallbackURL:   fmt.Sprintf("%s/api/orders/%s/payment-confirmed", s.settings.CallbackBaseURL, o.ID),
		ReturnURL:     fmt.Sprintf("%s/orders/%s", s.settings.ReturnBaseURL, o.ID),
	}
}

func resolveCustomer(ctx context.Context, users UserRepository, o *models.Order) (models.Customer, error) {
	if o.Guest != nil {
		return o.Guest.Customer(), nil
	}
	if o.UserID == nil {
		return models.Customer{}, apperrors.BusinessRule("order %s has no owner", o.ID)
	}
	u, err := users.Get(ctx, *o.UserID)
	if err != nil {
		return models.Customer{}, err
	}
	return u.Customer(), nil
}
