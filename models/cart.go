package models

import "github.com/shopspring/decimal"

type CartStatus string

const (
	CartActive     CartStatus = "ACTIVE"
	CartCheckedOut CartStatus = "CHECKED_OUT"
)

// Cart is owned by the cart service; checkout only reads it and flips its status.
type Cart struct {
	ID        int64      `json:"id"`
	UserID    *int64     `json:"user_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Status    CartStatus `json:"status"`
	Items     []CartItem `json:"items"`
}

type CartItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

func (c *Cart) IsActive() bool { return c.Status == CartActive }

func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

// BelongsTo reports whether the cart is owned by userID.
func (c *Cart) BelongsTo(userID int64) bool {
	return c.UserID != nil && *c.UserID == userID
}

// OrderItems copies the cart lines by value.
func (c *Cart) OrderItems() []OrderItem {
	items := make([]OrderItem, 0, len(c.Items))
	for _, ci := range c.Items {
		items = append(items, OrderItem{
			ProductID:   ci.ProductID,
			ProductName: ci.ProductName,
			UnitPrice:   ci.Price,
			Quantity:    ci.Quantity,
		})
	}
	return items
}
