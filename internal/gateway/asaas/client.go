// Package asaas implements gateway.Client against the Asaas REST API.
package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tvloop/billing/internal/config"
	"github.com/tvloop/billing/internal/gateway"
	"github.com/tvloop/billing/internal/observability/metrics"
)

const dateLayout = "2006-01-02"

type client struct {
	http    *retryablehttp.Client
	baseURL string
	apiKey  string
	log     *zap.Logger
	metrics *metrics.BillingMetrics
}

// New builds an Asaas client from configuration. Retries cover transport
// failures and 5xx responses only; 4xx responses are handed back to the
// caller as rejections.
func New(cfg config.GatewayConfig, log *zap.Logger) gateway.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil

	return &client{
		http:    rc,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		log:     log.Named("gateway.asaas"),
		metrics: metrics.Billing(),
	}
}

// envelope carries the fields Asaas repeats across resources. A successful
// subscription call answers with object == "subscription"; anything else
// with a populated errors list is a refusal.
type envelope struct {
	Object  string     `json:"object"`
	ID      string     `json:"id"`
	Deleted bool       `json:"deleted"`
	Errors  []apiError `json:"errors"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type subscriptionBody struct {
	envelope
	Customer    string  `json:"customer"`
	Status      string  `json:"status"`
	Value       float64 `json:"value"`
	NextDueDate string  `json:"nextDueDate"`
}

type paymentBody struct {
	ID      string  `json:"id"`
	Value   float64 `json:"value"`
	Status  string  `json:"status"`
	DueDate string  `json:"dueDate"`
}

type listBody[T any] struct {
	envelope
	Data       []T  `json:"data"`
	TotalCount int  `json:"totalCount"`
	HasMore    bool `json:"hasMore"`
}

func (c *client) GetSubscription(ctx context.Context, id string) (*gateway.Subscription, error) {
	var body subscriptionBody
	if err := c.do(ctx, "get_subscription", http.MethodGet, "/subscriptions/"+id, nil, &body); err != nil {
		return nil, err
	}
	return body.toSubscription()
}

func (c *client) GetPayments(ctx context.Context, subscriptionID string) ([]gateway.Payment, error) {
	var body listBody[paymentBody]
	path := "/subscriptions/" + subscriptionID + "/payments"
	if err := c.do(ctx, "get_payments", http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	if err := body.refusal(); err != nil {
		return nil, err
	}

	payments := make([]gateway.Payment, 0, len(body.Data))
	for _, p := range body.Data {
		due, err := parseDate(p.DueDate)
		if err != nil {
			return nil, fmt.Errorf("payment %s: %w", p.ID, err)
		}
		payments = append(payments, gateway.Payment{
			ID:      p.ID,
			Value:   decimal.NewFromFloat(p.Value),
			Status:  gateway.PaymentStatus(p.Status),
			DueDate: due,
		})
	}
	return payments, nil
}

func (c *client) DeletePayment(ctx context.Context, paymentID string) (bool, error) {
	var body envelope
	if err := c.do(ctx, "delete_payment", http.MethodDelete, "/payments/"+paymentID, nil, &body); err != nil {
		return false, err
	}
	if err := body.refusal(); err != nil {
		return false, err
	}
	return body.Deleted, nil
}

func (c *client) UpdateSubscription(ctx context.Context, id string, req gateway.UpdateSubscriptionRequest) (*gateway.Subscription, error) {
	// Open charges are never rewritten here: a downgrade keeps the current
	// invoice at the old value, and an upgrade deletes its pending charges
	// before this call.
	payload := map[string]any{
		"billingType":       req.BillingType,
		"value":             req.Value.InexactFloat64(),
		"nextDueDate":       req.NextDueDate.Format(dateLayout),
		"description":       req.Description,
		"externalReference": req.ExternalReference,
	}
	var body subscriptionBody
	if err := c.do(ctx, "update_subscription", http.MethodPut, "/subscriptions/"+id, payload, &body); err != nil {
		return nil, err
	}
	return body.toSubscription()
}

func (c *client) CreateSubscription(ctx context.Context, req gateway.CreateSubscriptionRequest) (*gateway.Subscription, error) {
	payload := map[string]any{
		"customer":          req.CustomerID,
		"billingType":       req.BillingType,
		"value":             req.Value.InexactFloat64(),
		"nextDueDate":       req.NextDueDate.Format(dateLayout),
		"cycle":             req.Cycle,
		"description":       req.Description,
		"externalReference": req.ExternalReference,
	}
	if req.CreditCardToken != "" {
		payload["creditCardToken"] = req.CreditCardToken
	}
	var body subscriptionBody
	if err := c.do(ctx, "create_subscription", http.MethodPost, "/subscriptions", payload, &body); err != nil {
		return nil, err
	}
	return body.toSubscription()
}

func (c *client) DeleteSubscription(ctx context.Context, id string) (bool, error) {
	var body envelope
	if err := c.do(ctx, "delete_subscription", http.MethodDelete, "/subscriptions/"+id, nil, &body); err != nil {
		return false, err
	}
	if err := body.refusal(); err != nil {
		return false, err
	}
	return body.Deleted, nil
}

func (c *client) CreateCustomer(ctx context.Context, req gateway.CustomerRequest) (string, error) {
	payload := map[string]any{
		"name":        req.Name,
		"cpfCnpj":     req.Document,
		"email":       req.Email,
		"mobilePhone": req.Mobile,
	}
	var body envelope
	if err := c.do(ctx, "create_customer", http.MethodPost, "/customers", payload, &body); err != nil {
		return "", err
	}
	if err := body.refusal(); err != nil {
		return "", err
	}
	return body.ID, nil
}

func (c *client) FindCustomer(ctx context.Context, req gateway.CustomerRequest) (string, error) {
	var body listBody[envelope]
	path := "/customers?cpfCnpj=" + url.QueryEscape(req.Document)
	if err := c.do(ctx, "find_customer", http.MethodGet, path, nil, &body); err != nil {
		return "", err
	}
	if err := body.refusal(); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", nil
	}
	return body.Data[0].ID, nil
}

func (c *client) DeleteCustomer(ctx context.Context, id string) error {
	var body envelope
	if err := c.do(ctx, "delete_customer", http.MethodDelete, "/customers/"+id, nil, &body); err != nil {
		return err
	}
	return body.refusal()
}

type cardTokenBody struct {
	envelope
	CreditCardToken  string `json:"creditCardToken"`
	CreditCardBrand  string `json:"creditCardBrand"`
	CreditCardNumber string `json:"creditCardNumber"`
}

func (c *client) TokenizeCard(ctx context.Context, req gateway.TokenizeCardRequest) (*gateway.CardToken, error) {
	payload := map[string]any{
		"customer": req.CustomerID,
		"creditCard": map[string]string{
			"holderName":  req.Card.HolderName,
			"number":      req.Card.Number,
			"expiryMonth": req.Card.ExpiryMonth,
			"expiryYear":  req.Card.ExpiryYear,
			"ccv":         req.Card.CCV,
		},
		"remoteIp": req.RemoteIP,
	}
	var body cardTokenBody
	if err := c.do(ctx, "tokenize_card", http.MethodPost, "/creditCard/tokenize", payload, &body); err != nil {
		return nil, err
	}
	if err := body.refusal(); err != nil {
		return nil, err
	}
	if body.CreditCardToken == "" {
		return nil, &gateway.RejectionError{Description: "card could not be tokenized"}
	}
	return &gateway.CardToken{
		Token:  body.CreditCardToken,
		Brand:  body.CreditCardBrand,
		Number: body.CreditCardNumber,
	}, nil
}

func (c *client) UpdateSubscriptionCard(ctx context.Context, subscriptionID, cardToken, remoteIP string) error {
	payload := map[string]any{
		"creditCardToken": cardToken,
		"remoteIp":        remoteIP,
	}
	var body subscriptionBody
	if err := c.do(ctx, "update_subscription_card", http.MethodPut, "/subscriptions/"+subscriptionID+"/creditCard", payload, &body); err != nil {
		return err
	}
	return body.refusal()
}

func (c *client) do(ctx context.Context, op, method, path string, payload, out any) error {
	start := time.Now()
	defer func() {
		c.metrics.ObserveGateway(op, time.Since(start))
	}()

	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access_token", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("gateway unreachable",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return fmt.Errorf("%s %s: %w", method, path, gateway.ErrUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, gateway.ErrUnavailable)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, gateway.ErrUnavailable)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		if env, ok := out.(interface{ refusal() error }); ok {
			if err := env.refusal(); err != nil {
				return err
			}
		}
		return &gateway.RejectionError{Description: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return nil
}

// refusal reports the first provider error, if any.
func (e *envelope) refusal() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return &gateway.RejectionError{Description: e.Errors[0].Description}
}

func (b *subscriptionBody) toSubscription() (*gateway.Subscription, error) {
	if err := b.refusal(); err != nil {
		return nil, err
	}
	if b.Object != "subscription" {
		return nil, &gateway.RejectionError{Description: "unexpected response object: " + b.Object}
	}
	due, err := parseDate(b.NextDueDate)
	if err != nil {
		return nil, err
	}
	return &gateway.Subscription{
		ID:          b.ID,
		CustomerID:  b.Customer,
		Status:      b.Status,
		Value:       decimal.NewFromFloat(b.Value),
		NextDueDate: due,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, errors.New("invalid gateway date: " + s)
	}
	return t, nil
}
