package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type ShippingQuoteRequest struct {
	OriginCity      string  `json:"originCity"`
	DestinationCity string  `json:"destinationCity"`
	WeightInKg      float64 `json:"weightInKg"`
	CourierCode     string  `json:"courierCode"`
}

type ShippingQuoteResult struct {
	CourierCode       string          `json:"courierCode,omitempty"`
	CourierName       string          `json:"courierName,omitempty"`
	ServiceType       string          `json:"serviceType,omitempty"`
	Price             decimal.Decimal `json:"price"`
	EstimatedDelivery string          `json:"estimatedDelivery,omitempty"`
	Success           bool            `json:"success"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
}

type PaymentItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
}

type PaymentRequest struct {
	OrderID       string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CustomerEmail string          `json:"customerEmail"`
	CustomerName  string          `json:"customerName"`
	Description   string          `json:"description"`
	Items         []PaymentItem   `json:"items"`
	CallbackURL   string          `json:"callbackUrl"`
	ReturnURL     string          `json:"returnUrl"`
}

type PaymentResult struct {
	Success          bool   `json:"success"`
	PaymentReference string `json:"paymentReference"`
	PaymentURL       string `json:"paymentUrl"`
	Status           string `json:"status"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
}

type EmailRequest struct {
	OrderID        string         `json:"orderId"`
	RecipientEmail string         `json:"recipientEmail"`
	RecipientName  string         `json:"recipientName"`
	Subject        string         `json:"subject"`
	TemplateType   string         `json:"templateType"`
	TemplateData   map[string]any `json:"templateData,omitempty"`
}

// StatusError is a non-2xx response from a remote API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Temporary reports whether the request is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == 429
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }

func (e *decodeError) Unwrap() error { return e.err }
