package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pricewarden/internal/domain"
)

// Wire timestamp layout used by the gateway.
const gatewayTimeLayout = "2006-01-02T15:04:05Z07:00"

// requestTimeout bounds one request/response round trip. Historical requests
// for wide spans can take a while on the gateway side.
const requestTimeout = 120 * time.Second

// gatewayRequest is one client message on the gateway socket.
type gatewayRequest struct {
	ID           int64  `json:"id"`
	Type         string `json:"type"` // connect | historical | head | time
	ClientID     int    `json:"client_id,omitempty"`
	Account      string `json:"account,omitempty"`
	Instrument   string `json:"instrument,omitempty"`
	ContractDate string `json:"contract_date,omitempty"`
	BarSize      string `json:"bar_size,omitempty"`
	Duration     string `json:"duration,omitempty"`
	End          string `json:"end,omitempty"`
}

// gatewayBar is one OHLCV row on the wire.
type gatewayBar struct {
	Time   string  `json:"t"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume int64   `json:"v"`
}

// gatewayMessage is one server message: either the response to a request
// (matched by id) or an unsolicited error/info event (id 0, type "error").
type gatewayMessage struct {
	ID           int64        `json:"id"`
	Type         string       `json:"type"`
	Code         int          `json:"code,omitempty"`
	Message      string       `json:"message,omitempty"`
	Instrument   string       `json:"instrument,omitempty"`
	ContractDate string       `json:"contract_date,omitempty"`
	Bars         []gatewayBar `json:"bars,omitempty"`
	Timestamp    string       `json:"timestamp,omitempty"`
}

// GatewaySession is the JSON-over-WebSocket implementation of Session. One
// session corresponds to one client identity at the gateway; it is not safe
// for concurrent request calls, which matches the serialised fetch path.
type GatewaySession struct {
	host     string
	port     int
	clientID int
	account  string
	log      *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	nextID    int64
	pending   map[int64]chan gatewayMessage
	onError   func(ErrorEvent)
}

var _ Session = (*GatewaySession)(nil)

// NewGatewaySession prepares a session; no connection is made until Connect.
func NewGatewaySession(host string, port, clientID int, account string, log *slog.Logger) *GatewaySession {
	return &GatewaySession{
		host:     host,
		port:     port,
		clientID: clientID,
		account:  account,
		log:      log.With("component", "gateway", "clientid", clientID),
		pending:  make(map[int64]chan gatewayMessage),
	}
}

// OnError registers the asynchronous error event handler.
func (s *GatewaySession) OnError(handler func(ErrorEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = handler
}

// Connect dials the gateway and performs the connect handshake. A handshake
// rejection carries the server's diagnostic text (including the "already in
// use" identity-conflict message) in the returned error.
func (s *GatewaySession) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	url := fmt.Sprintf("ws://%s:%d/ws", s.host, s.port)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing gateway %s: %w", url, err)
	}

	handshake := gatewayRequest{Type: "connect", ClientID: s.clientID, Account: s.account}
	if err := conn.WriteJSON(handshake); err != nil {
		conn.Close()
		return fmt.Errorf("sending connect handshake: %w", err)
	}

	var reply gatewayMessage
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return fmt.Errorf("reading connect reply: %w", err)
	}
	if reply.Type == "error" {
		conn.Close()
		return fmt.Errorf("gateway rejected connect: %s", reply.Message)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	go s.readLoop(conn)
	s.log.Info("connected to gateway", "url", url)
	return nil
}

// Close terminates the session.
func (s *GatewaySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// IsConnected reports session liveness.
func (s *GatewaySession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// readLoop dispatches server messages to waiting requests and routes
// unsolicited error events to the registered handler. It exits when the
// socket dies, marking the session disconnected.
func (s *GatewaySession) readLoop(conn *websocket.Conn) {
	for {
		var msg gatewayMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.connected = false
			}
			// Fail anything still waiting so callers see the drop.
			for id, ch := range s.pending {
				close(ch)
				delete(s.pending, id)
			}
			s.mu.Unlock()
			return
		}

		if msg.ID == 0 && msg.Type == "error" {
			s.dispatchError(msg)
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[msg.ID]
		if ok {
			delete(s.pending, msg.ID)
		}
		s.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

func (s *GatewaySession) dispatchError(msg gatewayMessage) {
	s.mu.Lock()
	handler := s.onError
	s.mu.Unlock()
	if handler == nil {
		return
	}
	ev := ErrorEvent{RequestID: int(msg.ID), Code: msg.Code, Message: msg.Message}
	if msg.Instrument != "" {
		c := domain.NewContract(msg.Instrument, msg.ContractDate)
		ev.Contract = &c
	}
	handler(ev)
}

// roundTrip sends one request and waits for its response. Transport
// failures are wrapped with ErrConnectionLost.
func (s *GatewaySession) roundTrip(ctx context.Context, req gatewayRequest) (gatewayMessage, error) {
	s.mu.Lock()
	if !s.connected || s.conn == nil {
		s.mu.Unlock()
		return gatewayMessage{}, fmt.Errorf("session not connected: %w", ErrConnectionLost)
	}
	s.nextID++
	req.ID = s.nextID
	ch := make(chan gatewayMessage, 1)
	s.pending[req.ID] = ch
	conn := s.conn
	s.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return gatewayMessage{}, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
		return gatewayMessage{}, fmt.Errorf("writing %s request: %w", req.Type, ErrConnectionLost)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return gatewayMessage{}, ctx.Err()
	case <-timer.C:
		return gatewayMessage{}, fmt.Errorf("%s request timed out: %w", req.Type, ErrConnectionLost)
	case msg, ok := <-ch:
		if !ok {
			return gatewayMessage{}, fmt.Errorf("connection dropped during %s request: %w", req.Type, ErrConnectionLost)
		}
		return msg, nil
	}
}

// HistoricalBars implements Session.
func (s *GatewaySession) HistoricalBars(ctx context.Context, contract domain.Contract, barSize, span string, end time.Time) ([]domain.Bar, error) {
	req := gatewayRequest{
		Type:         "historical",
		Instrument:   contract.InstrumentCode,
		ContractDate: contract.DateStr,
		BarSize:      barSize,
		Duration:     span,
	}
	if !end.IsZero() {
		req.End = end.Format(gatewayTimeLayout)
	}

	msg, err := s.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(msg.Bars))
	for _, wb := range msg.Bars {
		ts, err := time.Parse(gatewayTimeLayout, wb.Time)
		if err != nil {
			return nil, fmt.Errorf("parsing bar timestamp %q: %w", wb.Time, err)
		}
		bars = append(bars, domain.Bar{
			Timestamp: ts,
			Open:      wb.Open,
			High:      wb.High,
			Low:       wb.Low,
			Close:     wb.Close,
			Volume:    wb.Volume,
		})
	}
	return bars, nil
}

// HeadTimestamp implements Session.
func (s *GatewaySession) HeadTimestamp(ctx context.Context, contract domain.Contract) (time.Time, error) {
	req := gatewayRequest{
		Type:         "head",
		Instrument:   contract.InstrumentCode,
		ContractDate: contract.DateStr,
	}
	msg, err := s.roundTrip(ctx, req)
	if err != nil {
		return time.Time{}, err
	}
	if msg.Timestamp == "" {
		return time.Time{}, nil
	}
	return time.Parse(gatewayTimeLayout, msg.Timestamp)
}

// CurrentTime implements Session.
func (s *GatewaySession) CurrentTime(ctx context.Context) (time.Time, error) {
	msg, err := s.roundTrip(ctx, gatewayRequest{Type: "time"})
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(gatewayTimeLayout, msg.Timestamp)
}
