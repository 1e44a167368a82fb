package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderResponse struct {
	ID               string            `json:"id"`
	UserID           *int64            `json:"user_id,omitempty"`
	GuestEmail       string            `json:"guest_email,omitempty"`
	Status           OrderStatus       `json:"status"`
	Subtotal         decimal.Decimal   `json:"subtotal"`
	ShippingFee      decimal.Decimal   `json:"shipping_fee"`
	Total            decimal.Decimal   `json:"total"`
	ShippingAddress  string            `json:"shipping_address"`
	PaymentURL       string            `json:"payment_url,omitempty"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	PaidAt           *time.Time        `json:"paid_at,omitempty"`
	Items            []OrderItemDetail `json:"items"`
}

type OrderItemDetail struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

func (o *Order) Response() OrderResponse {
	resp := OrderResponse{
		ID:               o.ID,
		UserID:           o.UserID,
		Status:           o.Status,
		Subtotal:         o.Subtotal,
		ShippingFee:      o.ShippingFee,
		Total:            o.Total,
		ShippingAddress:  o.ShippingAddress,
		PaymentURL:       o.PaymentURL,
		PaymentReference: o.PaymentReference,
		CreatedAt:        o.CreatedAt,
		PaidAt:           o.PaidAt,
		Items:            make([]OrderItemDetail, 0, len(o.Items)),
	}
	if o.Guest != nil {
		resp.GuestEmail = o.Guest.Email
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, OrderItemDetail{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.UnitPrice,
			Subtotal:    it.LineTotal(),
		})
	}
	return resp
}
