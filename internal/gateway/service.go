/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"billing-ledger-go/internal/models"
	"billing-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Client is the payment gateway contract. Implementations must be safe for
// concurrent use. Tests substitute a mock.
type Client interface {
	CreatePaymentIntent(ctx context.Context, params IntentParams) (*models.PaymentIntent, error)
	CreateSubscription(ctx context.Context, params SubscribeParams) (*models.GatewaySubscription, error)
	CancelSubscription(ctx context.Context, gatewaySubscriptionId string) error
	GetPayment(ctx context.Context, gatewayRef string) (*models.GatewayPayment, error)
	GetSubscription(ctx context.Context, gatewaySubscriptionId string) (*models.GatewaySubscription, error)
}

// IntentParams describes a payment intent creation request.
type IntentParams struct {
	Amount         decimal.Decimal
	Currency       string
	Method         string
	ReferenceId    string // our payment id, echoed back by the gateway
	IdempotencyKey string
}

// SubscribeParams describes a gateway subscription creation request.
type SubscribeParams struct {
	UserRef        string
	PlanRef        string
	Method         string
	IdempotencyKey string
}

// RetryPolicy makes the retry behavior explicit and deterministic in tests:
// attempts with exponential backoff capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Backoff returns the delay before the given retry (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Service talks to the gateway's REST API.
type Service struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   RetryPolicy
}

var _ Client = (*Service)(nil)

func NewService(cfg models.GatewayConfig) (*Service, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL cannot be empty")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("gateway max attempts must be positive, got %d", cfg.MaxAttempts)
	}

	httpClient, err := createCustomHttpClient(cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	return &Service{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  httpClient,
		retry: RetryPolicy{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		},
	}, nil
}

func createCustomHttpClient(timeout time.Duration) (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

func (s *Service) CreatePaymentIntent(ctx context.Context, params IntentParams) (*models.PaymentIntent, error) {
	body := map[string]string{
		"amount":       params.Amount.String(),
		"currency":     params.Currency,
		"method":       params.Method,
		"reference_id": params.ReferenceId,
	}

	var resp struct {
		Id           string `json:"id"`
		ClientSecret string `json:"client_secret"`
		Status       string `json:"status"`
		Amount       string `json:"amount"`
		Currency     string `json:"currency"`
	}
	if err := s.do(ctx, http.MethodPost, "/v1/payment_intents", params.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(resp.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid intent amount %q: %w", resp.Amount, err)
	}
	return &models.PaymentIntent{
		Id:           resp.Id,
		ClientSecret: resp.ClientSecret,
		Status:       resp.Status,
		Amount:       amount,
		Currency:     resp.Currency,
	}, nil
}

func (s *Service) CreateSubscription(ctx context.Context, params SubscribeParams) (*models.GatewaySubscription, error) {
	body := map[string]string{
		"user_ref": params.UserRef,
		"plan_ref": params.PlanRef,
		"method":   params.Method,
	}

	var resp gatewaySubscriptionResponse
	if err := s.do(ctx, http.MethodPost, "/v1/subscriptions", params.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	return resp.toModel()
}

func (s *Service) CancelSubscription(ctx context.Context, gatewaySubscriptionId string) error {
	path := "/v1/subscriptions/" + url.PathEscape(gatewaySubscriptionId) + "/cancel"
	return s.do(ctx, http.MethodPost, path, "", nil, nil)
}

func (s *Service) GetPayment(ctx context.Context, gatewayRef string) (*models.GatewayPayment, error) {
	var resp struct {
		Ref       string    `json:"id"`
		Amount    string    `json:"amount"`
		Fee       string    `json:"fee"`
		Currency  string    `json:"currency"`
		Status    string    `json:"status"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := s.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(gatewayRef), "", nil, &resp); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(resp.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway amount %q: %w", resp.Amount, err)
	}
	fee := decimal.Zero
	if resp.Fee != "" {
		fee, err = decimal.NewFromString(resp.Fee)
		if err != nil {
			return nil, fmt.Errorf("invalid gateway fee %q: %w", resp.Fee, err)
		}
	}
	return &models.GatewayPayment{
		Ref:       resp.Ref,
		Amount:    amount,
		Fee:       fee,
		Currency:  resp.Currency,
		Status:    resp.Status,
		CreatedAt: resp.CreatedAt,
	}, nil
}

func (s *Service) GetSubscription(ctx context.Context, gatewaySubscriptionId string) (*models.GatewaySubscription, error) {
	var resp gatewaySubscriptionResponse
	if err := s.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(gatewaySubscriptionId), "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.toModel()
}

type gatewaySubscriptionResponse struct {
	Id              string    `json:"id"`
	Status          string    `json:"status"`
	PeriodStart     time.Time `json:"current_period_start"`
	PeriodEnd       time.Time `json:"current_period_end"`
	PlanRef         string    `json:"plan_ref"`
	FirstPaymentRef string    `json:"first_payment_ref"`
}

func (r gatewaySubscriptionResponse) toModel() (*models.GatewaySubscription, error) {
	if r.Id == "" {
		return nil, fmt.Errorf("%w: gateway returned subscription without id", store.ErrGateway)
	}
	return &models.GatewaySubscription{
		Id:              r.Id,
		Status:          r.Status,
		PeriodStart:     r.PeriodStart,
		PeriodEnd:       r.PeriodEnd,
		PlanRef:         r.PlanRef,
		FirstPaymentRef: r.FirstPaymentRef,
	}, nil
}

// do performs one API call with the configured retry policy. 4xx responses
// are not retried; network errors and 5xx responses are, up to MaxAttempts.
func (s *Service) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := s.retry.Backoff(attempt - 1)
			zap.L().Warn("Retrying gateway request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", store.ErrGateway, ctx.Err())
			}
		}

		retryable, err := s.doOnce(ctx, method, path, idempotencyKey, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}

	return fmt.Errorf("%w: exhausted %d attempts: %v", store.ErrGateway, s.retry.MaxAttempts, lastErr)
}

func (s *Service) doOnce(ctx context.Context, method, path, idempotencyKey string, payload []byte, out any) (retryable bool, err error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("%w: %v", store.ErrGateway, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			zap.L().Warn("Failed to close response body", zap.Error(cerr))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("%w: gateway has no record at %s", store.ErrNotFound, path)
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("%w: gateway returned %d", store.ErrGateway, resp.StatusCode)
	case resp.StatusCode >= 400:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("%w: gateway rejected request (%d): %s", store.ErrGateway, resp.StatusCode, detail)
	}

	if out == nil {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("%w: failed to decode response: %v", store.ErrGateway, err)
	}
	return false, nil
}
