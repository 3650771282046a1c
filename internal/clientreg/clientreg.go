// Package clientreg defines the cloneable client send-handle shared by
// MarketLink, OrderRouter, SessionTable, and the Dispatcher (§9
// "Composite keys over references": no pointers from Session to a
// client channel cross task boundaries, only this handle).
package clientreg

import (
	"encoding/json"

	"xgateway/internal/wsconn"
)

// Handle is the producer-side view of one downstream client connection:
// an address used as the registry key and a channel its writer task
// drains. Sends never block the sender (§5 "Suspension points" — the
// loop must never block on a slow client).
type Handle struct {
	Addr string
	send chan wsconn.Message
}

// New constructs a Handle with a buffered outbound queue.
func New(addr string, buffer int) Handle {
	return Handle{Addr: addr, send: make(chan wsconn.Message, buffer)}
}

// Chan exposes the channel for the connection's writer pump to drain.
func (h Handle) Chan() chan wsconn.Message { return h.send }

// TrySend enqueues a frame without blocking, dropping it (and
// reporting false) if the client's queue is full rather than stalling
// the caller.
func (h Handle) TrySend(msg wsconn.Message) bool {
	select {
	case h.send <- msg:
		return true
	default:
		return false
	}
}

// SendJSON marshals v as a Text frame and enqueues it, dropping
// silently on marshal failure — callers only push well-formed internal
// types.
func (h Handle) SendJSON(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return h.TrySend(wsconn.Message{Type: wsconn.Text, Data: data})
}

// SendPong enqueues a Pong reply (§4.1, §4.4 "On Ping, reply Pong").
func (h Handle) SendPong() bool {
	return h.TrySend(wsconn.Message{Type: wsconn.Pong})
}

// Close closes the outbound channel, signalling the writer pump to exit.
func (h Handle) Close() {
	close(h.send)
}
