package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"checkout-service/apperrors"
	"checkout-service/logging"
	"checkout-service/models"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
)

const maxNotificationBytes = 64 << 10

type PaymentUseCase interface {
	ConfirmPayment(ctx context.Context, orderID string, req services.PaymentConfirmation) (*models.Order, error)
	MarkPaymentFailed(ctx context.Context, orderID string, req services.PaymentConfirmation) (*models.Order, error)
	HandleNotification(ctx context.Context, n services.Notification) (*models.Order, error)
	CreateSnapPayment(ctx context.Context, orderID string) (*services.SnapPayment, error)
}

type PaymentController struct {
	payments PaymentUseCase
}

func NewPaymentController(payments PaymentUseCase) *PaymentController {
	return &PaymentController{payments: payments}
}

func (h *PaymentController) PaymentConfirmed(c *gin.Context) {
	defer recordOperation(c, "payment_confirmed")
	h.callback(c, h.payments.ConfirmPayment, "Payment confirmed")
}

func (h *PaymentController) PaymentFailed(c *gin.Context) {
	defer recordOperation(c, "payment_failed")
	h.callback(c, h.payments.MarkPaymentFailed, "Payment failure recorded")
}

func (h *PaymentController) callback(c *gin.Context, fn func(context.Context, string, services.PaymentConfirmation) (*models.Order, error), msg string) {
	var req services.PaymentConfirmation
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := fn(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, o.Response(), msg)
}

func (h *PaymentController) CreateSnapPayment(c *gin.Context) {
	defer recordOperation(c, "snap_payment")

	res, err := h.payments.CreateSnapPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, res, "Payment token created")
}

// notificationBody holds the fields of a gateway notification that drive
// reconciliation. Everything else is kept only in the raw payload.
type notificationBody struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
}

// Notification acknowledges gateway notifications. Duplicates and unknown
// orders are reported distinctly; logical mismatches are acknowledged so
// the gateway stops redelivering. Infrastructure failures return 500 and
// are left to the gateway's retry.
func (h *PaymentController) Notification(c *gin.Context) {
	defer recordOperation(c, "notification")
	log := logging.From(c)

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationBytes))
	if err != nil {
		badRequest(c, err)
		return
	}
	var body notificationBody
	if err := json.Unmarshal(raw, &body); err != nil || body.OrderID == "" || body.TransactionID == "" {
		log.Warn("unusable payment notification", "err", err, "order_id", body.OrderID)
		success(c, http.StatusOK, "OK", "Notification ignored")
		return
	}

	_, err = h.payments.HandleNotification(c.Request.Context(), services.Notification{
		OrderID:           body.OrderID,
		TransactionID:     body.TransactionID,
		TransactionStatus: body.TransactionStatus,
		FraudStatus:       body.FraudStatus,
		Payload:           string(raw),
	})
	if err != nil {
		if apperrors.KindOf(err) != apperrors.BusinessRuleKind {
			respondError(c, err)
			return
		}
		log.Warn("payment notification not applied", "order_id", body.OrderID, "err", err)
	}
	success(c, http.StatusOK, "OK", "Notification processed")
}

// SnapFinish is where the gateway redirects the browser after payment.
func (h *PaymentController) SnapFinish(c *gin.Context) {
	status := c.Query("transaction_status")
	logging.From(c).Info("snap finish redirect", "order_id", c.Query("order_id"), "transaction_status", status)
	success(c, http.StatusOK, status, "Payment completed. Status: "+status)
}
