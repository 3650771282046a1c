// Package account implements AccountLink (§4.5): the single upstream
// authenticated user-data connection, listen-key acquisition and
// keep-alive, and its own (shorter) reconnect gate.
//
// Grounded on the teacher's internal/exchange/ws.go user-feed half and
// binance/src/lib.rs's ListenKey trait with its SpotListenKey and
// UsdtListenKey implementations (§9 "Polymorphism over listen-key
// payloads") — modeled here as the small ListenKeyCodec interface below.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"xgateway/internal/codec"
	"xgateway/internal/restclient"
	"xgateway/internal/wsconn"
)

// KeepAliveInterval is the wall-clock period between listen-key renewal
// POSTs (§4.5).
const KeepAliveInterval = 30 * time.Minute

// ReconnectGate is the minimum interval between reconnect attempts (§4.5).
const ReconnectGate = 10 * time.Second

// ListenKeyCodec knows how to acquire and renew a listen key for one
// account type. Spot and margin/perpetual differ only in where the
// listenKey string sits in the response body (§9).
type ListenKeyCodec interface {
	Acquire(ctx context.Context) (string, error)
	KeepAlive(ctx context.Context, listenKey string) error
}

// SpotListenKeyCodec reads {"listenKey": "..."} directly from the
// acquire response body.
type SpotListenKeyCodec struct {
	Rest          *restclient.Client
	AcquirePath   string
	KeepAlivePath string
}

func (c *SpotListenKeyCodec) Acquire(ctx context.Context) (string, error) {
	body, err := c.Rest.Post(ctx, c.AcquirePath, nil, false)
	if err != nil {
		return "", fmt.Errorf("account: acquire spot listen key: %w", err)
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("account: parse spot listen key: %w", err)
	}
	return resp.ListenKey, nil
}

func (c *SpotListenKeyCodec) KeepAlive(ctx context.Context, listenKey string) error {
	_, err := c.Rest.Post(ctx, c.KeepAlivePath, []restclient.Param{{Key: "listenKey", Value: listenKey}}, false)
	return err
}

// MarginOrPerpListenKeyCodec reads the listenKey nested one level
// deeper, under "data" — the margin/USDT-perpetual response shape.
type MarginOrPerpListenKeyCodec struct {
	Rest          *restclient.Client
	AcquirePath   string
	KeepAlivePath string
}

func (c *MarginOrPerpListenKeyCodec) Acquire(ctx context.Context) (string, error) {
	body, err := c.Rest.Post(ctx, c.AcquirePath, nil, true)
	if err != nil {
		return "", fmt.Errorf("account: acquire margin/perp listen key: %w", err)
	}
	var resp struct {
		Data struct {
			ListenKey string `json:"listenKey"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.Data.ListenKey != "" {
		return resp.Data.ListenKey, nil
	}

	// Some venues return the flat shape even for perp/margin; fall back.
	var flat struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.ListenKey != "" {
		return flat.ListenKey, nil
	}
	return "", fmt.Errorf("account: parse margin/perp listen key: no listenKey in response")
}

func (c *MarginOrPerpListenKeyCodec) KeepAlive(ctx context.Context, listenKey string) error {
	_, err := c.Rest.Post(ctx, c.KeepAlivePath, []restclient.Param{{Key: "listenKey", Value: listenKey}}, true)
	return err
}

// Link owns the single upstream user-data WebSocket.
type Link struct {
	baseURL string // e.g. "wss://.../ws"
	codec   ListenKeyCodec
	isSpot  bool
	logger  *slog.Logger

	// OnOrderEvent is invoked for every decoded account order event.
	OnOrderEvent func(codec.AccountEvent)

	mu            sync.Mutex
	conn          *wsconn.Conn
	listenKey     string
	disconnected  bool
	lastAttempt   time.Time
	lastKeepAlive time.Time
	reconnecting  bool

	incoming chan []byte
}

// New constructs a disconnected Link. isSpot selects the spot vs
// perpetual order-event decode path (§9).
func New(baseURL string, lkCodec ListenKeyCodec, isSpot bool, logger *slog.Logger) *Link {
	return &Link{
		baseURL:      baseURL,
		codec:        lkCodec,
		isSpot:       isSpot,
		logger:       logger.With("component", "account_link"),
		disconnected: true,
		incoming:     make(chan []byte, 256),
	}
}

// Start acquires a listen key and connects. Failure here is fatal at
// process startup (§7).
func (l *Link) Start(ctx context.Context) error {
	return l.connect(ctx)
}

func (l *Link) connect(ctx context.Context) error {
	listenKey, err := l.codec.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}

	conn, err := wsconn.Dial(ctx, l.baseURL+"/"+listenKey)
	if err != nil {
		return fmt.Errorf("account: connect: %w", err)
	}

	l.mu.Lock()
	l.conn = conn
	l.listenKey = listenKey
	l.disconnected = false
	now := time.Now()
	l.lastAttempt = now
	l.lastKeepAlive = now
	l.mu.Unlock()

	go l.readPump(conn)
	l.logger.Info("account link connected")
	return nil
}

func (l *Link) readPump(conn *wsconn.Conn) {
	for {
		msg, err := conn.Recv()
		if err != nil {
			l.mu.Lock()
			l.disconnected = true
			l.mu.Unlock()
			l.logger.Warn("account link disconnected", "error", err)
			return
		}
		switch msg.Type {
		case wsconn.Ping:
			_ = conn.Send(wsconn.Message{Type: wsconn.Pong, Data: msg.Data})
		case wsconn.Text:
			select {
			case l.incoming <- msg.Data:
			default:
				l.logger.Warn("account link incoming queue full, dropping frame")
			}
		}
	}
}

// Disconnected reports whether the upstream link is currently down.
func (l *Link) Disconnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnected
}

// Step advances the link by at most one non-blocking unit of work:
// drain one frame, or else check the keep-alive/reconnect timers
// (§4.8 step 3).
func (l *Link) Step(ctx context.Context) bool {
	select {
	case raw := <-l.incoming:
		l.process(raw)
		return true
	default:
	}

	if l.Disconnected() {
		l.maybeReconnect(ctx)
		return false
	}

	l.maybeKeepAlive(ctx)
	return false
}

func (l *Link) process(raw []byte) {
	kind, _ := codec.Peek(raw)
	if kind != codec.KindOrderEvent {
		return
	}

	var evt codec.AccountEvent
	var err error
	if l.isSpot {
		evt, err = codec.DecodeSpotOrderEvent(raw)
	} else {
		evt, err = codec.DecodePerpOrderEvent(raw)
	}
	if err != nil {
		l.logger.Warn("account link decode order event failed", "error", err)
		return
	}
	if l.OnOrderEvent != nil {
		l.OnOrderEvent(evt)
	}
}

func (l *Link) maybeKeepAlive(ctx context.Context) {
	l.mu.Lock()
	due := time.Since(l.lastKeepAlive) >= KeepAliveInterval
	listenKey := l.listenKey
	if due {
		l.lastKeepAlive = time.Now()
	}
	l.mu.Unlock()

	if !due {
		return
	}
	go func() {
		if err := l.codec.KeepAlive(ctx, listenKey); err != nil {
			l.logger.Warn("account link keep-alive failed", "error", err)
		}
	}()
}

func (l *Link) maybeReconnect(ctx context.Context) {
	l.mu.Lock()
	if l.reconnecting || time.Since(l.lastAttempt) < ReconnectGate {
		l.mu.Unlock()
		return
	}
	l.reconnecting = true
	l.lastAttempt = time.Now()
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			l.reconnecting = false
			l.mu.Unlock()
		}()
		if err := l.connect(ctx); err != nil {
			l.logger.Warn("account link reconnect failed", "error", err)
		}
	}()
}
