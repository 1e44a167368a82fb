package models

import (
	"time"

	"github.com/google/uuid"
)

const EventOrderPaid = "order.paid"

type OrderEvent struct {
	EventID  string    `json:"event_id"`
	Type     string    `json:"type"`
	OrderID  string    `json:"order_id"`
	Order    *Order    `json:"order"`
	Customer Customer  `json:"customer"`
	Occurred time.Time `json:"occurred"`
}

func NewOrderPaidEvent(o *Order, c Customer) OrderEvent {
	return OrderEvent{
		EventID:  uuid.NewString(),
		Type:     EventOrderPaid,
		OrderID:  o.ID,
		Order:    o.Clone(),
		Customer: c,
		Occurred: now(),
	}
}
