package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"checkout-service/config"
	"checkout-service/models"
)

const (
	snapSandboxURL    = "https://app.sandbox.midtrans.com/snap/v1/transactions"
	snapProductionURL = "https://app.midtrans.com/snap/v1/transactions"
)

var enabledPayments = []string{"gopay", "shopeepay", "qris", "other_qris"}

// SnapConfig holds the payment gateway credentials. It is passed to the
// client at construction time.
type SnapConfig struct {
	ServerKey    string
	IsProduction bool
	// BaseURL overrides the sandbox/production endpoint.
	BaseURL string
	Timeout time.Duration
}

type SnapRequest struct {
	TransactionDetails SnapTransaction `json:"transaction_details"`
	ItemDetails        []SnapItem      `json:"item_details"`
	CustomerDetails    SnapCustomer    `json:"customer_details"`
	EnabledPayments    []string        `json:"enabled_payments"`
	Callbacks          SnapCallbacks   `json:"callbacks"`
}

type SnapTransaction struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type SnapItem struct {
	ID       string `json:"id"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	Name     string `json:"name"`
}

type SnapCustomer struct {
	FirstName       string       `json:"first_name"`
	Email           string       `json:"email"`
	Phone           string       `json:"phone,omitempty"`
	ShippingAddress *SnapAddress `json:"shipping_address,omitempty"`
}

type SnapAddress struct {
	Address string `json:"address"`
}

type SnapCallbacks struct {
	Finish  string `json:"finish"`
	Error   string `json:"error"`
	Pending string `json:"pending"`
}

type SnapResult struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// NewSnapRequest describes an order as a Snap transaction. A non-zero
// shipping fee is sent as its own line so the items add up to the gross amount.
func NewSnapRequest(o *models.Order, c models.Customer, finishURL string) SnapRequest {
	items := make([]SnapItem, 0, len(o.Items)+1)
	for _, it := range o.Items {
		items = append(items, SnapItem{
			ID:       fmt.Sprint(it.ProductID),
			Price:    it.UnitPrice.IntPart(),
			Quantity: it.Quantity,
			Name:     truncate(it.ProductName, 50),
		})
	}
	if o.ShippingFee.IsPositive() {
		items = append(items, SnapItem{ID: "SHIPPING", Price: o.ShippingFee.IntPart(), Quantity: 1, Name: "Shipping Fee"})
	}
	req := SnapRequest{
		TransactionDetails: SnapTransaction{OrderID: o.ID, GrossAmount: o.Total.IntPart()},
		ItemDetails:        items,
		CustomerDetails:    SnapCustomer{FirstName: c.Name, Email: c.Email, Phone: c.Phone},
		EnabledPayments:    enabledPayments,
		Callbacks:          SnapCallbacks{Finish: finishURL, Error: finishURL, Pending: finishURL},
	}
	if o.ShippingAddress != "" {
		req.CustomerDetails.ShippingAddress = &SnapAddress{Address: o.ShippingAddress}
	}
	return req
}

type SnapClient struct {
	url       string
	serverKey string
	http      *http.Client
	policy    *policy
}

func NewSnapClient(cfg SnapConfig, resilience config.GatewayConfig, httpClient *http.Client, log *slog.Logger) *SnapClient {
	url := cfg.BaseURL
	if url == "" {
		url = snapSandboxURL
		if cfg.IsProduction {
			url = snapProductionURL
		}
	}
	if cfg.Timeout > 0 {
		resilience.Timeout = cfg.Timeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &SnapClient{
		url:       url,
		serverKey: cfg.ServerKey,
		http:      httpClient,
		policy:    newPolicy("midtrans_snap", resilience, log),
	}
}

func (s *SnapClient) CreateTransaction(ctx context.Context, req SnapRequest) (SnapResult, error) {
	if s.serverKey == "" {
		return SnapResult{}, errors.New("midtrans server key not configured")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return SnapResult{}, err
	}
	var res SnapResult
	err = s.policy.do(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")
		httpReq.SetBasicAuth(s.serverKey, "")
		res = SnapResult{}
		return doJSON(s.http, httpReq, &res)
	})
	if err != nil {
		return SnapResult{}, fmt.Errorf("create snap transaction %s: %w", req.TransactionDetails.OrderID, err)
	}
	if res.Token == "" {
		return SnapResult{}, fmt.Errorf("create snap transaction %s: empty token", req.TransactionDetails.OrderID)
	}
	return res, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
