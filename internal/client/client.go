package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/dreadwing5/Restore/internal/domain"
	api "github.com/dreadwing5/Restore/internal/http"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const basketPath = "/api/basket"

// Client talks to the basket API. The basket token lives in the client's
// cookie jar, so one Client is one visitor.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[*http.Response]
	logger  zerolog.Logger
}

type Option func(*options)

type options struct {
	timeout   time.Duration
	transport http.RoundTripper
	logger    zerolog.Logger
	breaker   gobreaker.Settings
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBreakerSettings overrides the circuit breaker configuration. IsSuccessful
// is always replaced so only transport failures and 5xx trip the breaker.
func WithBreakerSettings(s gobreaker.Settings) Option {
	return func(o *options) { o.breaker = s }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	o := options{
		timeout:   10 * time.Second,
		transport: http.DefaultTransport,
		logger:    zerolog.Nop(),
		breaker: gobreaker.Settings{
			Name:        "basket-api",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	settings := o.breaker
	settings.IsSuccessful = func(err error) bool { return err == nil }
	logger := o.logger
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
	}

	return &Client{
		baseURL: u,
		http: &http.Client{
			Jar:       jar,
			Timeout:   o.timeout,
			Transport: otelhttp.NewTransport(o.transport),
		},
		cb:     gobreaker.NewCircuitBreaker[*http.Response](settings),
		logger: o.logger,
	}, nil
}

// Fetch returns the visitor's basket. found is false when the server has none.
func (c *Client) Fetch(ctx context.Context) (domain.Basket, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, nil)
	if err != nil {
		return domain.Basket{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return domain.Basket{}, false, nil
	}
	basket, err := c.decode(resp, http.StatusOK)
	if err != nil {
		return domain.Basket{}, false, err
	}
	return basket, true, nil
}

func (c *Client) AddItem(ctx context.Context, productID int64, quantity int) (domain.Basket, error) {
	return c.mutate(ctx, http.MethodPost, productID, quantity, http.StatusCreated)
}

func (c *Client) RemoveItem(ctx context.Context, productID int64, quantity int) (domain.Basket, error) {
	return c.mutate(ctx, http.MethodDelete, productID, quantity, http.StatusOK)
}

// Apply sends op to the server and returns the authoritative basket.
func (c *Client) Apply(ctx context.Context, op domain.Operation) (domain.Basket, error) {
	switch op.Kind {
	case domain.OpAddItem:
		return c.AddItem(ctx, op.ProductID, op.Quantity)
	case domain.OpRemoveItem:
		return c.RemoveItem(ctx, op.ProductID, op.Quantity)
	default:
		return domain.Basket{}, fmt.Errorf("%w: %q", domain.ErrUnknownOperation, op.Kind)
	}
}

// Token returns the basket token currently held in the cookie jar.
func (c *Client) Token() string {
	for _, cookie := range c.http.Jar.Cookies(c.baseURL) {
		if cookie.Name == api.BasketCookieName {
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) mutate(ctx context.Context, method string, productID int64, quantity, want int) (domain.Basket, error) {
	q := url.Values{}
	q.Set("productId", strconv.FormatInt(productID, 10))
	q.Set("quantity", strconv.Itoa(quantity))

	resp, err := c.do(ctx, method, q)
	if err != nil {
		return domain.Basket{}, err
	}
	defer resp.Body.Close()

	return c.decode(resp, want)
}

// do runs one request through the breaker. Transport errors, 5xx responses
// and an open breaker all surface as domain.ErrNetworkFailure.
func (c *Client) do(ctx context.Context, method string, query url.Values) (*http.Response, error) {
	target := c.baseURL.JoinPath(basketPath)
	target.RawQuery = query.Encode()

	resp, err := c.cb.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, &serverError{resp: resp}
		}
		return resp, nil
	})

	var serr *serverError
	switch {
	case errors.As(err, &serr):
		defer serr.resp.Body.Close()
		return nil, c.errorFromResponse(serr.resp)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %v", domain.ErrNetworkFailure, err)
	case err != nil:
		c.logger.Warn().Err(err).Str("method", method).Msg("basket request failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrNetworkFailure, err)
	}
	return resp, nil
}

func (c *Client) decode(resp *http.Response, want int) (domain.Basket, error) {
	if resp.StatusCode != want {
		return domain.Basket{}, c.errorFromResponse(resp)
	}

	var dto api.BasketDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return domain.Basket{}, fmt.Errorf("%w: decode basket: %v", domain.ErrNetworkFailure, err)
	}
	return domain.Basket{ID: dto.BasketID, Lines: dto.Items}, nil
}

var codeErrors = map[string]error{
	api.CodeInvalidQuantity:    domain.ErrInvalidQuantity,
	api.CodeProductNotFound:    domain.ErrProductNotFound,
	api.CodeLineNotFound:       domain.ErrLineNotFound,
	api.CodeBasketNotFound:     domain.ErrBasketNotFound,
	api.CodePersistenceFailure: domain.ErrPersistenceFailure,
}

func (c *Client) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var problem api.ErrorResponse
	if err := json.Unmarshal(body, &problem); err == nil {
		if sentinel, ok := codeErrors[problem.Code]; ok {
			return fmt.Errorf("%w: %s", sentinel, problem.Error)
		}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: server returned %d", domain.ErrNetworkFailure, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, problem.Error)
}

type serverError struct {
	resp *http.Response
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server returned %d", e.resp.StatusCode)
}
