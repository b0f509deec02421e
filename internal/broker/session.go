// Package broker maintains the resilient session to the market-data gateway
// and provides the pacing-governed historical price fetch client on top of
// it.
package broker

import (
	"context"
	"errors"
	"time"

	"pricewarden/internal/domain"
)

// Gateway error codes surfaced through the asynchronous error event stream.
const (
	ErrCodeInvalidContract     = 200
	ErrCodeNoHeadTimestamp     = 162
	ErrCodeNoMarketPermissions = 10187
)

// hardErrorNames maps the error codes that require action; every other code
// is informational.
var hardErrorNames = map[int]string{
	ErrCodeInvalidContract:     "invalid_contract",
	ErrCodeNoMarketPermissions: "no_market_permissions",
}

// ErrConnectionLost marks transport failures: the session to the gateway has
// dropped or the call never reached it. Session implementations wrap their
// transport errors with it so the ConnectionManager can distinguish
// connectivity problems from request-level failures.
var ErrConnectionLost = errors.New("gateway connection lost")

// ErrClientIDInUse is returned when another process already holds the
// session's client identity. Unlike an unreachable gateway this is fatal:
// retrying would fight the other process forever.
var ErrClientIDInUse = errors.New("client id already in use")

// ErrorEvent is one server-side error or message delivered asynchronously by
// the gateway.
type ErrorEvent struct {
	RequestID int
	Code      int
	Message   string
	// Contract is nil for session-level events.
	Contract *domain.Contract
}

// Session is one live connection to the market-data gateway.
type Session interface {
	// Connect establishes the session. An "already in use" diagnostic in
	// the returned error marks an identity conflict.
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool

	// OnError registers the handler for asynchronous gateway error events.
	// Only one handler is supported; it is invoked from the session's read
	// loop.
	OnError(handler func(ErrorEvent))

	// HistoricalBars requests one chunk of OHLCV bars. A zero end time
	// means "up to now". span is the gateway's duration spelling from the
	// frequency table (e.g. "1 Y").
	HistoricalBars(ctx context.Context, contract domain.Contract, barSize, span string, end time.Time) ([]domain.Bar, error)

	// HeadTimestamp returns the earliest timestamp the gateway has any
	// history for on this contract.
	HeadTimestamp(ctx context.Context, contract domain.Contract) (time.Time, error)

	// CurrentTime returns the gateway's clock.
	CurrentTime(ctx context.Context) (time.Time, error)
}
