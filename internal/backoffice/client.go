package backoffice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

const maxErrorBody = 4 << 10

// errDecode marks a 2xx response whose body could not be decoded.
var errDecode = errors.New("decode response")

// StatusError is returned when the back-office API answers with a non-2xx
// status. Message carries the API's own "message" or "error" field if any.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backoffice api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backoffice api returned status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the back-office REST API. It serves as the product
// catalog source, the customer catalog source and the order sink.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

func NewClient(baseURL string, client *http.Client, breaker BreakerSettings, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		breaker:    newBreaker("backoffice-api", breaker, logger),
		logger:     logger,
	}
}

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := execute(c.breaker, func() ([]domain.Product, error) {
		var out []domain.Product
		err := c.do(ctx, http.MethodGet, "/products", nil, &out)
		return out, err
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	c.logger.Debug("products fetched", "count", len(products))
	return products, nil
}

func (c *Client) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	customers, err := execute(c.breaker, func() ([]domain.Customer, error) {
		var out []domain.Customer
		err := c.do(ctx, http.MethodGet, "/customers", nil, &out)
		return out, err
	})
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}

	c.logger.Debug("customers fetched", "count", len(customers))
	return customers, nil
}

// CreateOrder posts the order once. The API gives no idempotency guarantee,
// so nothing here retries.
func (c *Client) CreateOrder(ctx context.Context, payload domain.OrderPayload) (domain.OrderConfirmation, error) {
	confirmation, err := execute(c.breaker, func() (domain.OrderConfirmation, error) {
		var out domain.OrderConfirmation
		err := c.do(ctx, http.MethodPost, "/orders/", payload, &out)
		return out, err
	})
	if err != nil {
		return domain.OrderConfirmation{}, fmt.Errorf("create order: %w", err)
	}

	c.logger.Info("order created", "customer_id", payload.CustomerID, "lines", len(payload.Products))
	return confirmation, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return newStatusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", errDecode, err)
	}

	return nil
}

func newStatusError(resp *http.Response) *StatusError {
	statusErr := &StatusError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return statusErr
	}

	var apiErr struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &apiErr); err == nil {
		statusErr.Message = apiErr.Message
		if statusErr.Message == "" {
			statusErr.Message = apiErr.Error
		}
		return statusErr
	}

	statusErr.Message = strings.TrimSpace(string(data))
	return statusErr
}
