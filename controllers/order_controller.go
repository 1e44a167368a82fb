package controllers

import (
	"context"
	"net/http"
	"strconv"

	"checkout-service/apperrors"
	"checkout-service/middlewares"
	"checkout-service/models"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
)

type CheckoutUseCase interface {
	Checkout(ctx context.Context, req services.CheckoutRequest) (*services.CheckoutResult, error)
	RetryPayment(ctx context.Context, orderID string) (*services.CheckoutResult, error)
}

type OrderUseCase interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID int64, page, size int) ([]*models.Order, error)
	CancelOrder(ctx context.Context, id string) (*models.Order, error)
	ShipOrder(ctx context.Context, id string) (*models.Order, error)
	CompleteOrder(ctx context.Context, id string) (*models.Order, error)
}

type OrderController struct {
	checkout CheckoutUseCase
	orders   OrderUseCase
}

func NewOrderController(checkout CheckoutUseCase, orders OrderUseCase) *OrderController {
	return &OrderController{checkout: checkout, orders: orders}
}

// Checkout converts a cart into an order. A bearer token makes it a user
// checkout; a user_id in the body without a token is refused.
func (h *OrderController) Checkout(c *gin.Context) {
	defer recordOperation(c, "checkout")

	var req services.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if uid, ok := middlewares.UserID(c); ok {
		req.UserID = &uid
	} else if req.UserID != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authentication required for user checkout"})
		return
	}

	res, err := h.checkout.Checkout(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusCreated, res, "Checkout processed")
}

func (h *OrderController) RetryPayment(c *gin.Context) {
	defer recordOperation(c, "retry_payment")

	if _, err := h.owned(c); err != nil {
		respondError(c, err)
		return
	}
	res, err := h.checkout.RetryPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, res, "Payment initiated")
}

func (h *OrderController) GetOrderDetails(c *gin.Context) {
	o, err := h.owned(c)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, o.Response(), "Order retrieved")
}

func (h *OrderController) GetUserOrders(c *gin.Context) {
	uid, ok := middlewares.UserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "User not authenticated"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	orders, err := h.orders.ListUserOrders(c.Request.Context(), uid, page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]models.OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.Response())
	}
	success(c, http.StatusOK, out, "Orders retrieved")
}

func (h *OrderController) CancelOrder(c *gin.Context) {
	defer recordOperation(c, "cancel")

	if _, err := h.owned(c); err != nil {
		respondError(c, err)
		return
	}
	o, err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, o.Response(), "Order cancelled")
}

func (h *OrderController) ShipOrder(c *gin.Context) {
	defer recordOperation(c, "ship")
	h.lifecycle(c, h.orders.ShipOrder, "Order shipped")
}

func (h *OrderController) CompleteOrder(c *gin.Context) {
	defer recordOperation(c, "complete")
	h.lifecycle(c, h.orders.CompleteOrder, "Order completed")
}

func (h *OrderController) lifecycle(c *gin.Context, fn func(context.Context, string) (*models.Order, error), msg string) {
	o, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, o.Response(), msg)
}

// owned loads the order in the path. Orders of registered users are only
// visible to that user; other users get a not-found.
func (h *OrderController) owned(c *gin.Context) (*models.Order, error) {
	id := c.Param("id")
	o, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if o.UserID == nil {
		return o, nil
	}
	if uid, ok := middlewares.UserID(c); ok && uid == *o.UserID {
		return o, nil
	}
	return nil, apperrors.NotFound("Order", "id", id)
}
