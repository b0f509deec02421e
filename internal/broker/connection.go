package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"pricewarden/internal/domain"
	"pricewarden/internal/notify"
)

const (
	// reconnectBackoff is the pause between reconnect attempts while the
	// gateway is unreachable.
	reconnectBackoff = 10 * time.Second
	// settleAfterReconnect gives the gateway time to finish its own startup
	// before we resume issuing requests.
	settleAfterReconnect = 5 * time.Second
	// settleAfterConnect is the shorter pause after a first connect.
	settleAfterConnect = 1 * time.Second
	// alertAfterAttempts triggers a critical alert once the gateway has been
	// down for roughly five minutes. Reconnection keeps going regardless:
	// this is a long-running service, not a batch job.
	alertAfterAttempts = 30
)

// ConnectionManager owns one gateway session, tracks per-contract error
// codes, and recovers from disconnection transparently to callers.
type ConnectionManager struct {
	session  Session
	notifier notify.Notifier
	log      *slog.Logger

	mu         sync.Mutex
	lastErrors map[string]int // contract key -> last hard error code

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewConnectionManager wires the manager to the session's error event stream.
// The notifier receives critical alerts about prolonged gateway downtime; it
// may be a notify.Nop.
func NewConnectionManager(session Session, notifier notify.Notifier, log *slog.Logger) *ConnectionManager {
	m := &ConnectionManager{
		session:    session,
		notifier:   notifier,
		log:        log.With("component", "connection"),
		lastErrors: make(map[string]int),
		sleep:      sleepCtx,
	}
	session.OnError(m.handleError)
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Connect establishes the session, translating the gateway's "already in
// use" diagnostic into ErrClientIDInUse. The gateway reports the identity
// conflict only as free text, so string matching is the only available
// detection.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	if err := m.session.Connect(ctx); err != nil {
		if strings.Contains(err.Error(), "already in use") {
			return fmt.Errorf("connecting session: %w", ErrClientIDInUse)
		}
		return err
	}
	// Gateway sometimes needs a moment after accepting the session.
	if err := m.sleep(ctx, settleAfterConnect); err != nil {
		return err
	}
	return nil
}

// Close terminates the session.
func (m *ConnectionManager) Close() error {
	return m.session.Close()
}

// Session exposes the underlying session for request calls; callers must
// wrap those calls with CallWithReconnect.
func (m *ConnectionManager) Session() Session {
	return m.session
}

// CallWithReconnect invokes op against the live session. Transport failures
// while the session is still connected are retried immediately (the channel
// itself is fine). A dropped session triggers the reconnect loop: attempt,
// back off 10s on an unreachable gateway, alert after ~5 minutes of downtime
// but keep trying, settle briefly after success, then re-issue op.
// Request-level errors pass straight through to the caller.
func (m *ConnectionManager) CallWithReconnect(ctx context.Context, op func() error) error {
	for {
		err := op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConnectionLost) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if m.session.IsConnected() {
			m.log.Info("transport error but session still connected, retrying", "err", err)
			continue
		}

		m.log.Warn("session to gateway closed prematurely, reconnecting")
		if rerr := m.reconnectLoop(ctx); rerr != nil {
			return rerr
		}
		// Loop around and re-issue the original call.
	}
}

func (m *ConnectionManager) reconnectLoop(ctx context.Context) error {
	attempts := 0
	for {
		err := m.Connect(ctx)
		if err == nil {
			m.log.Warn("gateway connection re-established")
			return m.sleep(ctx, settleAfterReconnect-settleAfterConnect)
		}
		if errors.Is(err, ErrClientIDInUse) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempts++
		m.log.Warn("gateway not reachable, retrying", "attempt", attempts, "backoff", reconnectBackoff)
		if attempts == alertAfterAttempts {
			msg := fmt.Sprintf("gateway still down after %d reconnect attempts (~%s), continuing to retry",
				attempts, time.Duration(attempts)*reconnectBackoff)
			m.log.Error(msg)
			m.notifier.Send("Gateway down", msg)
		}
		if serr := m.sleep(ctx, reconnectBackoff); serr != nil {
			return serr
		}
	}
}

// handleError is invoked from the session's read loop on any server-side
// error or message. Hard errors are recorded per contract (last-error-wins,
// never cleared on success) and logged at warning level; everything else is
// informational.
func (m *ConnectionManager) handleError(ev ErrorEvent) {
	contractStr := ""
	if ev.Contract != nil {
		contractStr = ev.Contract.Key()
		if _, hard := hardErrorNames[ev.Code]; hard || ev.Code == ErrCodeNoHeadTimestamp {
			m.mu.Lock()
			m.lastErrors[contractStr] = ev.Code
			m.mu.Unlock()
		}
	}

	if name, hard := hardErrorNames[ev.Code]; hard {
		m.log.Warn("gateway error",
			"reqid", ev.RequestID, "code", ev.Code, "type", name,
			"msg", ev.Message, "contract", contractStr)
		return
	}
	m.log.Info("gateway message",
		"reqid", ev.RequestID, "code", ev.Code, "msg", ev.Message, "contract", contractStr)
}

// LastError returns the most recent hard error code recorded for the
// contract since manager start, if any. This is the only way downstream
// fetch calls learn why they got zero data back.
func (m *ConnectionManager) LastError(contract domain.Contract) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.lastErrors[contract.Key()]
	return code, ok
}
