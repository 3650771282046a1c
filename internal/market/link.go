// Package market implements MarketLink (§4.4): the single upstream
// public market-data connection, its refcounted subscription
// bookkeeping, depth sanity filtering, and reconnect/resubscribe state
// machine.
//
// Grounded on the teacher's internal/exchange/ws.go (background reader
// goroutine feeding a channel the owner drains) and
// internal/market/book.go (book-side sanity checks), generalized from
// Polymarket's book/price_change shapes to the exchange's combined-
// stream SUBSCRIBE/UNSUBSCRIBE protocol described in §4.4 and §6. The
// original source (binance/src/lib.rs Subscriber) has no crossed-book
// filter at all; this fills the gap the §9 open question calls out.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"xgateway/internal/clientreg"
	"xgateway/internal/codec"
	"xgateway/internal/wsconn"
	"xgateway/pkg/proto"
)

// ReconnectGate is the minimum interval between reconnect attempts (§4.4, §5).
const ReconnectGate = 30 * time.Second

type pendingSub struct {
	clientAddr string
	clientReqID int64
}

// Link owns the single upstream market-data WebSocket.
type Link struct {
	url    string
	logger *slog.Logger

	// OnReconnected is invoked after a successful reconnect + resubscribe,
	// so the Dispatcher can ask OrderRouter to refresh the product map.
	OnReconnected func()

	mu            sync.Mutex
	conn          *wsconn.Conn
	nextReqID     int64
	pending       map[int64]pendingSub
	refcount      map[string]uint32
	streamSubs    map[string]map[string]clientreg.Handle // canonical stream -> addr -> handle
	clientStreams map[string]map[string]bool             // addr -> canonical streams
	handles       map[string]clientreg.Handle

	disconnected  bool
	lastAttempt   time.Time
	reconnecting  bool

	incoming chan []byte
}

// New constructs a disconnected Link. Call Start to dial.
func New(url string, logger *slog.Logger) *Link {
	return &Link{
		url:           url,
		logger:        logger.With("component", "market_link"),
		nextReqID:     1,
		pending:       make(map[int64]pendingSub),
		refcount:      make(map[string]uint32),
		streamSubs:    make(map[string]map[string]clientreg.Handle),
		clientStreams: make(map[string]map[string]bool),
		handles:       make(map[string]clientreg.Handle),
		disconnected:  true,
		incoming:      make(chan []byte, 1024),
	}
}

// Start performs the initial connect. Fatal only at process startup
// (§7): callers should treat a Start failure as a bind/acquire failure.
func (l *Link) Start(ctx context.Context) error {
	return l.connect(ctx)
}

func (l *Link) connect(ctx context.Context) error {
	conn, err := wsconn.Dial(ctx, l.url)
	if err != nil {
		return fmt.Errorf("market: connect: %w", err)
	}

	l.mu.Lock()
	l.conn = conn
	l.disconnected = false
	l.lastAttempt = time.Now()
	l.mu.Unlock()

	go l.readPump(conn)

	// First control frame on spot is SET_PROPERTY combined=true, id 0
	// (§4.4, §6 "Upstream exchange WS").
	l.sendRaw(map[string]interface{}{
		"method": "SET_PROPERTY",
		"params": []interface{}{"combined", true},
		"id":     0,
	})

	l.logger.Info("market link connected", "url", l.url)
	return nil
}

func (l *Link) readPump(conn *wsconn.Conn) {
	for {
		msg, err := conn.Recv()
		if err != nil {
			l.mu.Lock()
			l.disconnected = true
			l.mu.Unlock()
			l.logger.Warn("market link disconnected", "error", err)
			return
		}
		switch msg.Type {
		case wsconn.Ping:
			_ = conn.Send(wsconn.Message{Type: wsconn.Pong, Data: msg.Data})
		case wsconn.Text:
			select {
			case l.incoming <- msg.Data:
			default:
				l.logger.Warn("market link incoming queue full, dropping frame")
			}
		}
	}
}

func (l *Link) sendRaw(v interface{}) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		l.logger.Error("market link marshal failed", "error", err)
		return
	}
	if err := conn.Send(wsconn.Message{Type: wsconn.Text, Data: data}); err != nil {
		l.logger.Warn("market link send failed", "error", err)
	}
}

// Disconnected reports whether the upstream link is currently down.
func (l *Link) Disconnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnected
}

// RegisterClient records addr's handle so future subscribe/fanout calls
// can find it. Called on accept (§4.8 step 1).
func (l *Link) RegisterClient(h clientreg.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handles[h.Addr] = h
}

// canonicalize maps a client-visible stream alias to its canonical
// internal key and the upstream SUBSCRIBE parameter (§4.4 table).
func canonicalize(clientStream string) (canonical, upstream string) {
	if idx := strings.Index(clientStream, "@kline:"); idx >= 0 {
		symbol := clientStream[:idx]
		interval := clientStream[idx+len("@kline:"):]
		canonical = symbol + "@kline:" + interval
		upstream = symbol + "_kline_" + interval
		return
	}
	if strings.HasSuffix(clientStream, "@bbo") {
		symbol := strings.TrimSuffix(clientStream, "@bbo")
		canonical = symbol + "@bbo"
		upstream = symbol + "@bookTicker"
		return
	}
	if strings.HasSuffix(clientStream, "@depth") {
		symbol := strings.TrimSuffix(clientStream, "@depth")
		canonical = symbol + "@depth"
		upstream = symbol + "@depth20@100ms"
		return
	}
	return clientStream, clientStream
}

// Subscribe increments refcounts for streams on behalf of a client,
// issuing one upstream SUBSCRIBE for whichever streams transitioned
// 0→1 (§4.4, §8 invariant 1/2). clientReqID is remembered so the
// eventual ack is routed back and rewritten (§8 invariant 3).
func (l *Link) Subscribe(h clientreg.Handle, clientReqID int64, clientStreams []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var newUpstream []string
	for _, cs := range clientStreams {
		canonical, upstream := canonicalize(cs)

		if _, ok := l.streamSubs[canonical]; !ok {
			l.streamSubs[canonical] = make(map[string]clientreg.Handle)
		}
		l.streamSubs[canonical][h.Addr] = h

		if _, ok := l.clientStreams[h.Addr]; !ok {
			l.clientStreams[h.Addr] = make(map[string]bool)
		}
		alreadyOnClient := l.clientStreams[h.Addr][canonical]
		l.clientStreams[h.Addr][canonical] = true

		if alreadyOnClient {
			continue // subscribe(X); subscribe(X) from the same client is a no-op (§8)
		}

		l.refcount[canonical]++
		if l.refcount[canonical] == 1 {
			newUpstream = append(newUpstream, upstream)
		}
	}

	if len(newUpstream) > 0 {
		id := l.nextReqID
		l.nextReqID++
		l.pending[id] = pendingSub{clientAddr: h.Addr, clientReqID: clientReqID}
		l.sendRawLocked(map[string]interface{}{
			"method": "SUBSCRIBE",
			"params": newUpstream,
			"id":     id,
		})
	} else {
		// Every stream was already subscribed somewhere; the client still
		// needs its ack, just with no upstream round trip to wait on.
		h.SendJSON(proto.Response{ID: clientReqID, Result: nil})
	}
}

// sendRawLocked assumes l.mu is already held.
func (l *Link) sendRawLocked(v interface{}) {
	conn := l.conn
	if conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		l.logger.Error("market link marshal failed", "error", err)
		return
	}
	if err := conn.Send(wsconn.Message{Type: wsconn.Text, Data: data}); err != nil {
		l.logger.Warn("market link send failed", "error", err)
	}
}

// UnsubscribeFromClose decrements refcounts for every stream addr was
// subscribed to, issuing one upstream UNSUBSCRIBE for whichever streams
// transitioned to 0 (§4.4).
func (l *Link) UnsubscribeFromClose(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	streams := l.clientStreams[addr]
	delete(l.clientStreams, addr)
	delete(l.handles, addr)

	var gone []string
	for canonical := range streams {
		if subs, ok := l.streamSubs[canonical]; ok {
			delete(subs, addr)
			if len(subs) == 0 {
				delete(l.streamSubs, canonical)
			}
		}
		if l.refcount[canonical] > 0 {
			l.refcount[canonical]--
		}
		if l.refcount[canonical] == 0 {
			delete(l.refcount, canonical)
			_, upstream := canonicalize(canonical)
			gone = append(gone, upstream)
		}
	}

	if len(gone) > 0 {
		l.sendRawLocked(map[string]interface{}{
			"method": "UNSUBSCRIBE",
			"params": gone,
			"id":     0,
		})
	}
}

// Step drains at most one upstream frame and returns whether it did
// anything (§4.8 step 2: "advance MarketLink one step, non-blocking").
func (l *Link) Step(ctx context.Context) bool {
	select {
	case raw := <-l.incoming:
		l.process(raw)
		return true
	default:
	}

	if l.Disconnected() {
		l.maybeReconnect(ctx)
	}
	return false
}

func (l *Link) process(raw []byte) {
	kind, payload := codec.Peek(raw)
	switch kind {
	case codec.KindAck:
		l.routeAck(raw)
	case codec.KindDepth:
		d, stream, err := codec.DecodeDepth(payload)
		if err != nil {
			l.logger.Warn("market link decode depth failed", "error", err)
			return
		}
		l.forwardDepth(stream, d)
	case codec.KindBBO:
		d, stream, err := codec.DecodeBookTicker(payload)
		if err != nil {
			l.logger.Warn("market link decode bbo failed", "error", err)
			return
		}
		l.forwardDepth(stream, d)
	case codec.KindKline:
		k, stream, err := codec.DecodeKline(payload)
		if err != nil {
			l.logger.Warn("market link decode kline failed", "error", err)
			return
		}
		l.mu.Lock()
		subs := l.streamSubs[stream]
		handles := make([]clientreg.Handle, 0, len(subs))
		for _, h := range subs {
			handles = append(handles, h)
		}
		l.mu.Unlock()
		for _, h := range handles {
			h.SendJSON(k)
		}
	default:
		// KindIgnored / KindUnknown: recognized-but-unneeded or
		// unrecognized shape. Dropped per §4.9 / §7 "Protocol".
	}
}

func (l *Link) routeAck(raw []byte) {
	ack, err := codec.DecodeAck(raw)
	if err != nil {
		l.logger.Warn("market link decode ack failed", "error", err)
		return
	}

	l.mu.Lock()
	pend, ok := l.pending[ack.ID]
	if ok {
		delete(l.pending, ack.ID)
	}
	var h clientreg.Handle
	if ok {
		h = l.handles[pend.clientAddr]
	}
	l.mu.Unlock()

	if !ok {
		return // id 0 control frames and unsolicited acks have nowhere to go
	}

	if ack.IsError {
		h.SendJSON(proto.Response{ID: pend.clientReqID, Result: proto.ErrorBody{Code: ack.Code, Msg: ack.Msg}})
		return
	}
	h.SendJSON(proto.Response{ID: pend.clientReqID, Result: nil})
}

// forwardDepth applies crossed-book/ascending-bid sanity (§4.4, §8
// invariant 6) before fanning a Depth-shaped frame out to subscribers.
func (l *Link) forwardDepth(stream string, d proto.Depth) {
	sanitizeBids(d.Bids)
	if len(d.Bids) > 0 && len(d.Asks) > 0 && d.Bids[0].Price >= d.Asks[0].Price {
		return // crossed book: drop silently
	}

	l.mu.Lock()
	subs := l.streamSubs[stream]
	handles := make([]clientreg.Handle, 0, len(subs))
	for _, h := range subs {
		handles = append(handles, h)
	}
	l.mu.Unlock()

	for _, h := range handles {
		h.SendJSON(d)
	}
}

// sanitizeBids reverses bids in place if they arrived ascending, so the
// forwarded frame is always strictly decreasing by price (§8 invariant 6).
func sanitizeBids(bids []proto.PriceLevel) {
	if len(bids) < 2 {
		return
	}
	if bids[0].Price < bids[len(bids)-1].Price {
		for i, j := 0, len(bids)-1; i < j; i, j = i+1, j-1 {
			bids[i], bids[j] = bids[j], bids[i]
		}
	}
}

// maybeReconnect attempts a reconnect if at least ReconnectGate has
// elapsed since the last attempt (§4.4, §5), resubscribing the live
// stream set on success and notifying OnReconnected.
func (l *Link) maybeReconnect(ctx context.Context) {
	l.mu.Lock()
	if l.reconnecting || time.Since(l.lastAttempt) < ReconnectGate {
		l.mu.Unlock()
		return
	}
	l.reconnecting = true
	l.lastAttempt = time.Now()
	streams := make([]string, 0, len(l.refcount))
	for canonical := range l.refcount {
		streams = append(streams, canonical)
	}
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			l.reconnecting = false
			l.mu.Unlock()
		}()

		if err := l.connect(ctx); err != nil {
			l.logger.Warn("market link reconnect failed", "error", err)
			return
		}

		if len(streams) > 0 {
			upstream := make([]string, 0, len(streams))
			for _, canonical := range streams {
				_, u := canonicalize(canonical)
				upstream = append(upstream, u)
			}
			l.mu.Lock()
			id := l.nextReqID
			l.nextReqID++
			l.mu.Unlock()
			l.sendRaw(map[string]interface{}{
				"method": "SUBSCRIBE",
				"params": upstream,
				"id":     id,
			})
		}

		if l.OnReconnected != nil {
			l.OnReconnected()
		}
	}()
}
