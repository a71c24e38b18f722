package bitmex

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"liquidbot/internal/domain"
	"liquidbot/internal/infra"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Client issues signed REST requests against the exchange.
// It only exposes public endpoints; privileged calls live on Trader, which
// can only be constructed through Authenticate.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	signer *Signer // nil when using session-token auth

	email    string
	password string
	otpToken string

	orderIDPrefix string
	symbol        string
}

// errDuplicateClOrdID marks the benign idempotency collision on order create.
var errDuplicateClOrdID = errors.New("duplicate clOrdID")

// retryMaxInterval caps the retry backoff so a persistently rate-limited or
// unavailable exchange keeps producing log lines at a steady cadence.
const retryMaxInterval = 10 * time.Second

func newRetryBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = retryMaxInterval
	return bo
}

// NewClient creates a REST client from the validated configuration.
func NewClient(cfg *infra.Config) (*Client, error) {
	base, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		return nil, &domain.ConfigError{Field: "api.base_url", Err: err}
	}

	c := &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: cfg.API.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		limiter:       rate.NewLimiter(rate.Limit(cfg.API.RequestsPerSecond), cfg.API.RequestBurst),
		logger:        slog.Default().With("module", "bitmex_client"),
		email:         cfg.API.Email,
		password:      cfg.API.Password,
		otpToken:      cfg.API.OTPToken,
		orderIDPrefix: cfg.Trading.OrderIDPrefix,
		symbol:        cfg.Trading.Symbol,
	}
	if cfg.API.Key != "" {
		c.signer = NewSigner(cfg.API.Key, cfg.API.Secret)
	}
	return c, nil
}

// Signer exposes the key signer for the streaming handshake. Nil when the
// client authenticates with a session token.
func (c *Client) Signer() *Signer { return c.signer }

// Instrument looks up a contract's details over HTTP.
func (c *Client) Instrument(ctx context.Context, symbol string) (*domain.Instrument, error) {
	query := url.Values{}
	query.Set("filter", fmt.Sprintf(`{"symbol":"%s"}`, symbol))

	var instruments []domain.Instrument
	if err := c.request(ctx, http.MethodGet, "instrument", query, nil, &instruments); err != nil {
		return nil, err
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("unknown instrument: %s", symbol)
	}
	inst := instruments[0]
	inst.DeriveTickLog()
	return &inst, nil
}

// NewClOrdID generates a fresh client order ID carrying the agent's prefix.
func (c *Client) NewClOrdID() string {
	id := uuid.New()
	return c.orderIDPrefix + base64.RawStdEncoding.EncodeToString(id[:])
}

// Trader is the capability handle for privileged endpoints. Holding one
// proves authentication succeeded; unauthenticated order calls are a type
// error, not a runtime check.
type Trader struct {
	*Client
	token string // session token, empty under API-key auth
}

// Authenticate verifies credentials and returns the privileged handle.
// API keys need no handshake; the email/password flow trades credentials for
// a session token via user/login.
func (c *Client) Authenticate(ctx context.Context) (*Trader, error) {
	if c.signer != nil {
		return &Trader{Client: c}, nil
	}
	if c.email == "" {
		return nil, domain.ErrAuthentication
	}

	t := &Trader{Client: c}
	if err := t.login(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trader) login(ctx context.Context) error {
	var resp loginResponse
	err := t.request(ctx, http.MethodPost, "user/login",
		nil, loginRequest{Email: t.email, Password: t.password, Token: t.otpToken}, &resp)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrAuthentication, err)
	}
	t.token = resp.ID
	t.logger.Info("session established")
	return nil
}

// PlaceOrder submits a single post-only limit order. Buy when qty is
// positive, sell when negative.
func (t *Trader) PlaceOrder(ctx context.Context, qty int64, price decimal.Decimal) (*domain.Order, error) {
	if price.IsNegative() {
		return nil, fmt.Errorf("price must be positive: %s", price)
	}
	sub := OrderSubmission{
		Symbol:   t.symbol,
		OrderQty: qty,
		Price:    price.InexactFloat64(),
		ClOrdID:  t.NewClOrdID(),
		ExecInst: domain.ExecInstPostOnly,
	}

	var order domain.Order
	err := t.request(ctx, http.MethodPost, "order", nil, sub, &order)
	if errors.Is(err, errDuplicateClOrdID) {
		return t.recoverDuplicate(ctx, sub)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// recoverDuplicate resolves an idempotency collision by re-fetching the
// order by client ID and comparing it to what was submitted.
func (t *Trader) recoverDuplicate(ctx context.Context, sub OrderSubmission) (*domain.Order, error) {
	query := url.Values{}
	query.Set("filter", fmt.Sprintf(`{"clOrdID":"%s"}`, sub.ClOrdID))

	var orders []domain.Order
	if err := t.request(ctx, http.MethodGet, "order", query, nil, &orders); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, &domain.DataIntegrityError{ClOrdID: sub.ClOrdID,
			Detail: "exchange reported a duplicate but no order was found"}
	}

	order := orders[0]
	submitted := decimal.NewFromFloat(sub.Price)
	if order.OrderQty != sub.OrderQty || !order.Price.Equal(submitted) ||
		order.Symbol != sub.Symbol || (sub.Side != "" && order.Side != sub.Side) {
		return nil, &domain.DataIntegrityError{ClOrdID: sub.ClOrdID,
			Detail: fmt.Sprintf("existing order %s does not match submission (%d @ %s)",
				order.OrderID, sub.OrderQty, submitted)}
	}

	t.logger.Warn("recovered duplicate clOrdID", "clOrdID", sub.ClOrdID, "orderID", order.OrderID)
	return &order, nil
}

// CreateBulk submits multiple orders in one call. Every submission is tagged
// with a fresh prefixed clOrdID and a post-only instruction. A duplicate
// collision, which happens when a transport retry resends a batch the
// exchange already accepted, is resolved by re-fetch-and-compare.
func (t *Trader) CreateBulk(ctx context.Context, subs []OrderSubmission) ([]domain.Order, error) {
	for i := range subs {
		subs[i].Symbol = t.symbol
		subs[i].ClOrdID = t.NewClOrdID()
		subs[i].ExecInst = domain.ExecInstPostOnly
	}
	var orders []domain.Order
	err := t.request(ctx, http.MethodPost, "order/bulk", nil, bulkOrdersRequest{Orders: subs}, &orders)
	if errors.Is(err, errDuplicateClOrdID) {
		return t.recoverDuplicates(ctx, subs)
	}
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// recoverDuplicates resolves a duplicate collision on a bulk create. The
// exchange rejects the whole batch, so every submission is re-fetched and
// compared against the order resting under its clOrdID.
func (t *Trader) recoverDuplicates(ctx context.Context, subs []OrderSubmission) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, len(subs))
	for _, sub := range subs {
		order, err := t.recoverDuplicate(ctx, sub)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// AmendBulk amends multiple orders in one call. Returns
// domain.ErrOrderStatusChanged when any order closed mid-flight, so the
// caller can recompute the whole tick instead of applying a stale plan.
func (t *Trader) AmendBulk(ctx context.Context, amends []OrderAmendment) ([]domain.Order, error) {
	var orders []domain.Order
	if err := t.request(ctx, http.MethodPut, "order/bulk", nil, bulkOrdersRequest{Orders: amends}, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CancelOrders cancels orders by exchange ID. An already-gone order (404) is
// success: there was nothing to cancel.
func (t *Trader) CancelOrders(ctx context.Context, orderIDs []string) ([]domain.Order, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var orders []domain.Order
	if err := t.request(ctx, http.MethodDelete, "order", nil, cancelRequest{OrderID: orderIDs}, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// OpenOrders lists this agent's open orders over HTTP. Used before
// cancel-all to guarantee full visibility even if the streaming mirror lags.
func (t *Trader) OpenOrders(ctx context.Context) ([]domain.Order, error) {
	query := url.Values{}
	query.Set("filter", fmt.Sprintf(`{"ordStatus.isTerminated":false,"symbol":"%s"}`, t.symbol))

	var orders []domain.Order
	if err := t.request(ctx, http.MethodGet, "order", query, nil, &orders); err != nil {
		return nil, err
	}
	ours := orders[:0]
	for _, o := range orders {
		if o.IsOurs(t.orderIDPrefix) {
			ours = append(ours, o)
		}
	}
	return ours, nil
}

// request sends one signed request and applies the retry policy:
// transient transport errors, 429 and 503 retry forever with backoff; 401 is
// fatal under key auth and refreshes the session once under token auth; 404
// on DELETE means nothing to cancel; a duplicate-clOrdID 400 surfaces as
// errDuplicateClOrdID for the order path to resolve; everything else is a
// tagged non-retryable APIError.
func (c *Client) request(ctx context.Context, verb, endpoint string, query url.Values, body, out any) error {
	return c.requestWithToken(ctx, verb, endpoint, query, body, out, nil)
}

func (t *Trader) request(ctx context.Context, verb, endpoint string, query url.Values, body, out any) error {
	return t.Client.requestWithToken(ctx, verb, endpoint, query, body, out, t)
}

func (c *Client) requestWithToken(ctx context.Context, verb, endpoint string, query url.Values, body, out any, trader *Trader) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	ref := &url.URL{Path: strings.TrimSuffix(c.baseURL.Path, "/") + "/" + endpoint}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	reqURL := c.baseURL.ResolveReference(ref)
	signPath := reqURL.Path
	if reqURL.RawQuery != "" {
		signPath += "?" + reqURL.RawQuery
	}

	bo := newRetryBackoff()
	sessionRefreshed := false

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, verb, reqURL.String(), bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.signer != nil {
			expires := c.signer.Expires()
			req.Header.Set("api-expires", strconv.FormatInt(expires, 10))
			req.Header.Set("api-key", c.signer.Key())
			req.Header.Set("api-signature", c.signer.Sign(verb, signPath, expires, string(payload)))
		} else if trader != nil && trader.token != "" {
			req.Header.Set("access-token", trader.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("transport error, retrying", "verb", verb, "endpoint", endpoint, "error", err)
			infra.GlobalMetrics.RecordRestRetry()
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return err
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			c.logger.Warn("read error, retrying", "endpoint", endpoint, "error", readErr)
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return err
			}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil || len(respBody) == 0 {
				return nil
			}
			return json.Unmarshal(respBody, out)

		case resp.StatusCode == http.StatusUnauthorized:
			if trader != nil && trader.token != "" && !sessionRefreshed {
				c.logger.Warn("session rejected, refreshing once")
				if err := trader.login(ctx); err != nil {
					return err
				}
				sessionRefreshed = true
				continue
			}
			c.logger.Error("login information or API key incorrect",
				"endpoint", endpoint, "response", string(respBody))
			return domain.ErrAuthentication

		case resp.StatusCode == http.StatusNotFound:
			if verb == http.MethodDelete {
				// Nothing to cancel.
				c.logger.Warn("order not found on cancel, treating as done", "request", string(payload))
				return nil
			}
			return newAPIError(resp.StatusCode, verb, endpoint, payload, respBody)

		case resp.StatusCode == http.StatusTooManyRequests:
			c.logger.Error("rate limited, backing off; consider fewer order pairs or a longer interval",
				"verb", verb, "endpoint", endpoint)
			infra.GlobalMetrics.RecordRestRetry()
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return err
			}
			continue

		case resp.StatusCode == http.StatusServiceUnavailable:
			c.logger.Warn("exchange unavailable (503), retrying", "verb", verb, "endpoint", endpoint)
			infra.GlobalMetrics.RecordRestRetry()
			if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
				return err
			}
			continue

		case resp.StatusCode == http.StatusBadRequest:
			var apiErr apiError
			_ = json.Unmarshal(respBody, &apiErr)
			msg := apiErr.Error.Message
			switch {
			case strings.Contains(msg, "Duplicate clOrdID"):
				return errDuplicateClOrdID
			case strings.Contains(msg, "Invalid ordStatus"):
				return domain.ErrOrderStatusChanged
			}
			return newAPIError(resp.StatusCode, verb, endpoint, payload, respBody)

		default:
			return newAPIError(resp.StatusCode, verb, endpoint, payload, respBody)
		}
	}
}

func newAPIError(status int, verb, endpoint string, reqBody, respBody []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(respBody, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = string(respBody)
	}
	return &domain.APIError{
		Status:   status,
		Verb:     verb,
		Endpoint: endpoint,
		Body:     string(reqBody),
		Message:  msg,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
