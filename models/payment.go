package models

import "time"

type CallbackType string

const (
	CallbackPaymentSuccess       CallbackType = "PAYMENT_SUCCESS"
	CallbackPaymentFailed        CallbackType = "PAYMENT_FAILED"
	CallbackMidtransNotification CallbackType = "MIDTRANS_NOTIFICATION"
)

// PaymentCallback is the append-only log of processed payment notifications.
// Reference is unique across all callbacks ever received.
type PaymentCallback struct {
	ID          int64        `json:"id"`
	OrderID     string       `json:"order_id"`
	Reference   string       `json:"callback_reference"`
	Type        CallbackType `json:"callback_type"`
	Payload     string       `json:"payload"`
	ProcessedAt time.Time    `json:"processed_at"`
}

// TransactionStatus is the closed set of gateway transaction states.
type TransactionStatus int

const (
	TxUnknown TransactionStatus = iota
	TxCapture
	TxSettlement
	TxPending
	TxDeny
	TxExpire
	TxCancel
)

var txStatusNames = map[string]TransactionStatus{
	"capture":    TxCapture,
	"settlement": TxSettlement,
	"pending":    TxPending,
	"deny":       TxDeny,
	"expire":     TxExpire,
	"cancel":     TxCancel,
}

// FraudAccept is the fraud status that lets a capture settle the order.
const FraudAccept = "accept"

func ParseTransactionStatus(s string) TransactionStatus {
	if st, ok := txStatusNames[s]; ok {
		return st
	}
	return TxUnknown
}

func (s TransactionStatus) String() string {
	for name, st := range txStatusNames {
		if st == s {
			return name
		}
	}
	return "unknown"
}

// NotificationReference is the idempotency key of a gateway notification.
// One transaction may be processed once per distinct status.
func NotificationReference(transactionID, transactionStatus string) string {
	return transactionID + "_" + transactionStatus
}
