package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"checkout-service/apperrors"
	"checkout-service/gateway"
	"checkout-service/models"
)

type PaymentConfirmation struct {
	PaymentReference  string `json:"payment_reference"`
	CallbackReference string `json:"callback_reference" binding:"required"`
	Status            string `json:"status"`
	Payload           string `json:"payload"`
}

// Notification is a gateway push notification.
type Notification struct {
	OrderID           string
	TransactionID     string
	TransactionStatus string
	FraudStatus       string
	Payload           string
}

type SnapPayment struct {
	OrderID     string `json:"order_id"`
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
	GrossAmount int64  `json:"gross_amount"`
}

type effect int

const (
	noChange effect = iota
	changed
	becamePaid
)

type PaymentOption func(*PaymentService)

// WithLocker adds a short-lived distributed lock per callback reference so
// concurrent deliveries of the same notification fail fast.
func WithLocker(l Locker) PaymentOption {
	return func(s *PaymentService) { s.locker = l }
}

// WithSnap enables direct Snap transactions; finishURL is where the gateway
// sends the customer afterwards.
func WithSnap(g SnapGateway, finishURL string) PaymentOption {
	return func(s *PaymentService) {
		s.snap = g
		s.finishURL = finishURL
	}
}

// PaymentService reconciles payment confirmations and gateway notifications
// with the order lifecycle. Every processed notification is logged under a
// unique callback reference in the same transaction as the order update.
type PaymentService struct {
	store      Store
	dispatcher EventDispatcher
	locker     Locker
	snap       SnapGateway
	finishURL  string
	log        *slog.Logger
}

func NewPaymentService(store Store, dispatcher EventDispatcher, log *slog.Logger, opts ...PaymentOption) *PaymentService {
	s := &PaymentService{store: store, dispatcher: dispatcher, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PaymentService) ConfirmPayment(ctx context.Context, orderID string, req PaymentConfirmation) (*models.Order, error) {
	return s.apply(ctx, orderID, req.CallbackReference, models.CallbackPaymentSuccess, req.Payload, func(o *models.Order) (effect, error) {
		if !o.CanBeConfirmed() {
			return noChange, apperrors.BusinessRule("Order cannot be confirmed in status: %s", o.Status)
		}
		if req.PaymentReference != o.PaymentReference {
			return noChange, apperrors.BusinessRule("Payment reference mismatch")
		}
		if err := o.MarkAsPaid(); err != nil {
			return noChange, err
		}
		return becamePaid, nil
	})
}

func (s *PaymentService) MarkPaymentFailed(ctx context.Context, orderID string, req PaymentConfirmation) (*models.Order, error) {
	return s.apply(ctx, orderID, req.CallbackReference, models.CallbackPaymentFailed, req.Payload, func(o *models.Order) (effect, error) {
		if o.IsPaid() {
			return noChange, apperrors.BusinessRule("Cannot mark a paid order as failed")
		}
		if req.PaymentReference != "" && req.PaymentReference != o.PaymentReference {
			return noChange, apperrors.BusinessRule("Payment reference mismatch")
		}
		if err := o.MarkAsPaymentFailed(); err != nil {
			return noChange, err
		}
		return changed, nil
	})
}

// HandleNotification applies a gateway notification. Logical mismatches
// (unknown status, transition not applicable) are logged and the
// notification is still recorded, so the gateway gets its acknowledgement.
// Only duplicates and unknown orders are returned as errors.
func (s *PaymentService) HandleNotification(ctx context.Context, n Notification) (*models.Order, error) {
	ref := models.NotificationReference(n.TransactionID, n.TransactionStatus)
	log := s.log.With("order_id", n.OrderID, "transaction_id", n.TransactionID, "transaction_status", n.TransactionStatus)

	return s.apply(ctx, n.OrderID, ref, models.CallbackMidtransNotification, n.Payload, func(o *models.Order) (effect, error) {
		switch status := models.ParseTransactionStatus(n.TransactionStatus); status {
		case models.TxCapture:
			if n.FraudStatus != models.FraudAccept {
				log.Warn("capture not accepted by fraud check", "fraud_status", n.FraudStatus)
				return noChange, nil
			}
			return settle(o, log), nil
		case models.TxSettlement:
			return settle(o, log), nil
		case models.TxPending:
			if o.Status == models.StatusPaymentPending {
				return noChange, nil
			}
			if !o.CanInitiatePayment() {
				log.Warn("pending notification ignored", "status", o.Status)
				return noChange, nil
			}
			if err := o.MarkAsPaymentPending(o.PaymentURL, o.PaymentReference); err != nil {
				return noChange, err
			}
			return changed, nil
		case models.TxDeny, models.TxExpire, models.TxCancel:
			if !o.CanBeCancelled() {
				log.Warn("cancel notification ignored", "status", o.Status)
				return noChange, nil
			}
			if err := o.MarkAsCancelled(); err != nil {
				return noChange, err
			}
			return changed, nil
		case models.TxUnknown:
			log.Warn("unknown transaction status")
			return noChange, nil
		default:
			log.Warn("unhandled transaction status", "parsed", status.String())
			return noChange, nil
		}
	})
}

func settle(o *models.Order, log *slog.Logger) effect {
	if o.IsPaid() {
		log.Info("order already paid", "status", o.Status)
		return noChange
	}
	if err := o.MarkAsSettled(); err != nil {
		log.Warn("settlement not applicable", "status", o.Status, "err", err)
		return noChange
	}
	return becamePaid
}

// apply runs mutate on the locked order and records the callback in one
// transaction. The order-paid event goes to the outbox inside that
// transaction and is dispatched only after commit.
func (s *PaymentService) apply(ctx context.Context, orderID, ref string, typ models.CallbackType, payload string, mutate func(*models.Order) (effect, error)) (*models.Order, error) {
	if ref == "" {
		return nil, apperrors.BusinessRule("Callback reference is required")
	}
	if s.locker != nil {
		key := "payment-callback:" + ref
		token, ok, err := s.locker.TryLock(ctx, key)
		switch {
		case err != nil:
			s.log.Warn("callback lock unavailable, relying on database", "reference", ref, "err", err)
		case !ok:
			return nil, apperrors.Duplicate("Callback is already being processed: %s", ref)
		default:
			defer func() {
				if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					s.log.Warn("release callback lock", "reference", ref, "err", err)
				}
			}()
		}
	}

	var (
		out *models.Order
		evs []models.OrderEvent
	)
	err := s.store.WithinTx(ctx, func(tx Store) error {
		evs = nil
		exists, err := tx.Callbacks().Exists(ctx, ref)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.Duplicate("Callback already processed: %s", ref)
		}
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		eff, err := mutate(o)
		if err != nil {
			return err
		}
		if eff != noChange {
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
		}
		if err := tx.Callbacks().Create(ctx, &models.PaymentCallback{
			OrderID:     o.ID,
			Reference:   ref,
			Type:        typ,
			Payload:     payload,
			ProcessedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if eff == becamePaid {
			customer, err := resolveCustomer(ctx, tx.Users(), o)
			if err != nil {
				s.log.Warn("customer lookup failed for paid event", "order_id", o.ID, "err", err)
			}
			ev := models.NewOrderPaidEvent(o, customer)
			if err := tx.Outbox().Add(ctx, ev); err != nil {
				return err
			}
			evs = append(evs, ev)
		}
		out = o
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			s.log.Info("duplicate payment callback ignored", "order_id", orderID, "reference", ref)
		}
		return nil, err
	}
	s.log.Info("payment callback processed", "order_id", out.ID, "reference", ref, "type", typ, "status", out.Status)

	if len(evs) > 0 {
		s.dispatcher.Dispatch(ctx, evs...)
	}
	return out, nil
}

// CreateSnapPayment opens a Snap transaction for a payable order and moves
// it to PAYMENT_PENDING with the redirect URL and token.
func (s *PaymentService) CreateSnapPayment(ctx context.Context, orderID string) (*SnapPayment, error) {
	if s.snap == nil {
		return nil, apperrors.Unavailable("Midtrans", errors.New("snap gateway not configured"))
	}
	o, err := s.store.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.CanInitiatePayment() {
		return nil, apperrors.BusinessRule("Payment cannot be initiated for order in status: %s", o.Status)
	}
	customer, err := resolveCustomer(ctx, s.store.Users(), o)
	if err != nil {
		return nil, err
	}

	// once Midtrans holds the transaction its token must be stored
	ctx = context.WithoutCancel(ctx)
	req := gateway.NewSnapRequest(o, customer, s.finishURL)
	res, err := s.snap.CreateTransaction(ctx, req)
	if err != nil {
		return nil, apperrors.Unavailable("Midtrans", err)
	}

	err = s.store.WithinTx(ctx, func(tx Store) error {
		locked, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := locked.MarkAsPaymentPending(res.RedirectURL, res.Token); err != nil {
			return err
		}
		return tx.Orders().Update(ctx, locked)
	})
	if err != nil {
		return nil, err
	}
	return &SnapPayment{
		OrderID:     o.ID,
		Token:       res.Token,
		RedirectURL: res.RedirectURL,
		GrossAmount: req.TransactionDetails.GrossAmount,
	}, nil
}
