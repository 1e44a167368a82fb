package controllers

import (
	"checkout-service/middlewares"

	"github.com/gin-gonic/gin"
)

// Register mounts the API routes on r.
func Register(r gin.IRouter, orders *OrderController, payments *PaymentController, jwtSecret, serviceKey string) {
	api := r.Group("/api")

	public := api.Group("")
	public.Use(middlewares.OptionalAuth(jwtSecret))
	{
		public.POST("/checkout", orders.Checkout)
		public.POST("/orders/:id/retry-payment", orders.RetryPayment)
		public.GET("/orders/:id", orders.GetOrderDetails)
		public.POST("/orders/:id/cancel", orders.CancelOrder)
	}

	authGroup := api.Group("")
	authGroup.Use(middlewares.AuthMiddleware(jwtSecret))
	{
		authGroup.GET("/orders", orders.GetUserOrders)
	}

	internal := api.Group("/orders")
	internal.Use(middlewares.ServiceKey(serviceKey))
	{
		internal.POST("/:id/payment-confirmed", payments.PaymentConfirmed)
		internal.POST("/:id/payment-failed", payments.PaymentFailed)
		internal.POST("/:id/ship", orders.ShipOrder)
		internal.POST("/:id/complete", orders.CompleteOrder)
	}

	pay := api.Group("/payments")
	{
		pay.POST("/snap/:id", payments.CreateSnapPayment)
		pay.POST("/callback", payments.Notification)
		pay.GET("/callback/finish", payments.SnapFinish)
	}
}
