package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// APIError is a non-retryable rejection from the exchange, tagged with the
// request that produced it for diagnosis.
type APIError struct {
	Status   int
	Verb     string
	Endpoint string
	Body     string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d on %s %s: %s (request: %s)",
		e.Status, e.Verb, e.Endpoint, e.Message, e.Body)
}

func (e *APIError) IsRetriable() bool {
	return false
}

// MarketStateError pauses quoting until the market condition clears.
// It is checked once per tick before any order math runs.
type MarketStateError struct {
	Symbol string
	Reason string
}

func (e *MarketStateError) Error() string {
	return fmt.Sprintf("market state [%s]: %s", e.Symbol, e.Reason)
}

func NewMarketClosedError(symbol, state string) *MarketStateError {
	return &MarketStateError{Symbol: symbol, Reason: "instrument is not open, state: " + state}
}

func NewMarketEmptyError(symbol string) *MarketStateError {
	return &MarketStateError{Symbol: symbol, Reason: "orderbook is empty, cannot quote"}
}

// DataIntegrityError is raised when the exchange's view of an order does not
// match what this agent submitted. Never silently accepted.
type DataIntegrityError struct {
	ClOrdID string
	Detail  string
}

func (e *DataIntegrityError) Error() string {
	return "data integrity [" + e.ClOrdID + "]: " + e.Detail
}

var (
	// ErrAuthentication is fatal: the process must exit without attempting an
	// unwind, since no authenticated session exists to cancel orders under.
	ErrAuthentication = errors.New("authentication failed, check API key and secret")

	// ErrCrossedBook is the sanity-check failure for reference buy/sell
	// prices that already cross. The agent refuses to quote against data it
	// cannot trust.
	ErrCrossedBook = errors.New("start prices are crossed, exchange data is inconsistent")

	// ErrSessionExited is returned once the streaming session has closed.
	// The running instance treats this as fatal and exits for a supervisor
	// restart; deltas are never replayed into a stale mirror.
	ErrSessionExited = errors.New("streaming session exited")

	// ErrOrderStatusChanged is returned when a bulk amend hits an order whose
	// status changed mid-flight (e.g. it filled). The whole tick is recomputed.
	ErrOrderStatusChanged = errors.New("order status changed during amend")
)
