package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"checkout-service/config"
)

const serviceKeyHeader = "X-SERVICE-KEY"

// Client talks to the fulfillment service. Shipping quotes and payment
// initiation never return an error: when retries are exhausted or the
// breaker is open they return an unsuccessful fallback result.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	shipping     *policy
	payment      *policy
	notification *policy
	log          *slog.Logger
}

func NewClient(cfg config.GatewayConfig, httpClient *http.Client, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		http:         httpClient,
		shipping:     newPolicy("fulfillment_shipping", cfg, log),
		payment:      newPolicy("fulfillment_payment", cfg, log),
		notification: newPolicy("fulfillment_notification", cfg, log),
		log:          log,
	}
}

func (c *Client) QuoteShipping(ctx context.Context, req ShippingQuoteRequest) ShippingQuoteResult {
	var res ShippingQuoteResult
	err := c.shipping.do(ctx, func(ctx context.Context) error {
		res = ShippingQuoteResult{}
		return c.postJSON(ctx, "/api/shipping/quote", req, &res)
	})
	if err != nil {
		c.log.Warn("shipping quote fallback", "err", err)
		return ShippingQuoteResult{Success: false, ErrorMessage: "Shipping service temporarily unavailable: " + err.Error()}
	}
	return res
}

func (c *Client) InitiatePayment(ctx context.Context, req PaymentRequest) PaymentResult {
	var res PaymentResult
	err := c.payment.do(ctx, func(ctx context.Context) error {
		res = PaymentResult{}
		return c.postJSON(ctx, "/api/payments/initiate", req, &res)
	})
	if err != nil {
		c.log.Warn("payment initiation fallback", "order_id", req.OrderID, "err", err)
		return PaymentResult{Success: false, Status: "FAILED", ErrorMessage: "Payment service temporarily unavailable: " + err.Error()}
	}
	return res
}

func (c *Client) SendEmailNotification(ctx context.Context, req EmailRequest) error {
	err := c.notification.do(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/notifications/email", req, nil)
	})
	if err != nil {
		return fmt.Errorf("send email to %s: %w", req.RecipientEmail, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(serviceKeyHeader, c.apiKey)
	}
	return doJSON(c.http, req, out)
}

func doJSON(hc *http.Client, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}
