// Package orderapi реализует HTTP-клиент сервиса заказов для витрины и CLI.
package orderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Steank-29/tawakkol/internal/api"
	"github.com/Steank-29/tawakkol/internal/checkout"
	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/version"
)

// DefaultTimeout — таймаут одного HTTP-запроса.
const DefaultTimeout = 15 * time.Second

const maxResponseBytes = 1 << 20

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет http.Client (таймаут клиента при этом не переопределяется).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout задаёт таймаут запроса.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client обращается к HTTP API заказов.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Entry
}

var _ checkout.OrderClient = (*Client)(nil)

// New создаёт клиента для baseURL вида http://host:port.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid order service url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  log.WithField("component", "orderapi-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SubmitOrder отправляет POST /api/orders.
//
// Транспортные ошибки и таймауты оборачиваются в domain.ErrOrderServiceUnreachable,
// 400 с fieldErrors превращается в *domain.ValidationError, 409 в domain.ErrIdempotencyKeyAlreadyExists,
// остальные отказы в domain.ErrOrderRejected.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest, idempotencyKey string) (checkout.SubmitResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return checkout.SubmitResult{}, fmt.Errorf("encode order request: %w", err)
	}

	headers := map[string]string{}
	if idempotencyKey != "" {
		headers[api.IdempotencyKeyHeader] = idempotencyKey
	}

	env, status, err := c.do(ctx, http.MethodPost, api.OrdersPath, body, headers)
	if err != nil {
		return checkout.SubmitResult{}, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return checkout.SubmitResult{}, rejection(status, env)
	}

	var data api.CreateOrderData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return checkout.SubmitResult{}, fmt.Errorf("%w: malformed response: %v", domain.ErrOrderRejected, err)
	}
	if data.Order.OrderNumber == "" {
		return checkout.SubmitResult{}, fmt.Errorf("%w: response without order number", domain.ErrOrderRejected)
	}
	return checkout.SubmitResult{
		OrderNumber: data.Order.OrderNumber,
		OrderID:     data.Order.ID,
		EmailSent:   data.EmailSent,
	}, nil
}

// OrderByNumber вызывает GET /api/orders/number/{number}.
func (c *Client) OrderByNumber(ctx context.Context, number string) (domain.Order, error) {
	path := fmt.Sprintf(api.OrderByNumberFmt, url.PathEscape(strings.TrimSpace(number)))
	env, status, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return domain.Order{}, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.Order{}, domain.ErrOrderNotFound
	default:
		return domain.Order{}, rejection(status, env)
	}

	var order domain.Order
	if err := json.Unmarshal(env.Data, &order); err != nil {
		return domain.Order{}, fmt.Errorf("%w: malformed response: %v", domain.ErrOrderRejected, err)
	}
	return order, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string) (api.Envelope, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return api.Envelope{}, 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent("orderapi"))
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.WithError(err).WithField("path", path).Warn("order service request failed")
		return api.Envelope{}, 0, unreachable(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return api.Envelope{}, resp.StatusCode, unreachable(err)
	}

	var env api.Envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return api.Envelope{}, resp.StatusCode, fmt.Errorf("%w: malformed response: %v", domain.ErrOrderRejected, err)
		}
	}
	return env, resp.StatusCode, nil
}

func unreachable(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrOrderServiceUnreachable, context.DeadlineExceeded)
	}
	return fmt.Errorf("%w: %w", domain.ErrOrderServiceUnreachable, err)
}

func rejection(status int, env api.Envelope) error {
	if status == http.StatusBadRequest {
		if verr := env.Validation(); verr != nil {
			return verr
		}
	}
	if status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout {
		return fmt.Errorf("%w: status %d", domain.ErrOrderServiceUnreachable, status)
	}

	msg := env.Message
	if msg == "" && len(env.Errors) > 0 {
		msg = strings.Join(env.Errors, "; ")
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch status {
	case http.StatusConflict:
		// Запрос с тем же ключом ещё исполняется: это не отказ, ответ появится позже.
		return fmt.Errorf("%w: %s", domain.ErrIdempotencyKeyAlreadyExists, msg)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w: %s", domain.ErrOrderRejected, domain.ErrIdempotencyHashMismatch, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrOrderRejected, status, msg)
	}
}
