// Package wsconn implements WsTransport (§4.1): a small framed
// WebSocket abstraction shared by the outbound links (MarketLink,
// AccountLink dial out to the exchange) and the inbound server
// (Dispatcher accepts downstream clients). Grounded on the teacher's
// internal/exchange/ws.go dial path and internal/api/stream.go's
// accept loop, generalized into one bidirectional Conn both sides share.
package wsconn

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectTimeout is the hard deadline on dialing an upstream link (§4.1).
const ConnectTimeout = 3 * time.Second

const (
	writeWait = 10 * time.Second
)

// MessageType mirrors the WS opcodes the spec names: Text, Binary,
// Ping, Pong, Close.
type MessageType int

const (
	Text MessageType = iota
	Binary
	Ping
	Pong
	Close
)

// Message is one frame as delivered by Recv.
type Message struct {
	Type MessageType
	Data []byte
}

// ErrConnectTimeout is returned when Dial exceeds ConnectTimeout.
var ErrConnectTimeout = fmt.Errorf("wsconn: connect timeout after %s", ConnectTimeout)

// Conn is one established WebSocket connection, usable concurrently by
// one reader and one writer. Ping handling is explicit at callers: Recv
// surfaces Ping frames as-is and never auto-replies Pong.
type Conn struct {
	ws         *websocket.Conn
	writeMu    sync.Mutex
	remoteAddr string
}

// Dial connects to url, failing with ErrConnectTimeout if the dial does
// not complete within ConnectTimeout.
func Dial(ctx context.Context, url string) (*Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		if dialCtx.Err() == context.DeadlineExceeded {
			return nil, ErrConnectTimeout
		}
		return nil, fmt.Errorf("wsconn: dial %s: %w", url, err)
	}
	return &Conn{ws: ws, remoteAddr: ws.RemoteAddr().String()}, nil
}

// RemoteAddr identifies the peer, used as the client registry key on
// the server side (§3 "Client connection").
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Send writes one frame. Writes are serialized by an internal mutex, so
// Send is safe to call from several goroutines and concurrently with Recv.
func (c *Conn) Send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	switch msg.Type {
	case Text:
		return c.ws.WriteMessage(websocket.TextMessage, msg.Data)
	case Binary:
		return c.ws.WriteMessage(websocket.BinaryMessage, msg.Data)
	case Ping:
		return c.ws.WriteMessage(websocket.PingMessage, msg.Data)
	case Pong:
		return c.ws.WriteMessage(websocket.PongMessage, msg.Data)
	case Close:
		return c.ws.WriteMessage(websocket.CloseMessage, msg.Data)
	default:
		return fmt.Errorf("wsconn: unknown message type %d", msg.Type)
	}
}

// Recv blocks for the next frame. A returned error (including io.EOF
// wrapped by gorilla on remote half-close) signals the connection
// should be treated as disconnected; callers must not call Recv again
// afterward without reconnecting.
func (c *Conn) Recv() (Message, error) {
	typ, data, err := c.ws.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	switch typ {
	case websocket.TextMessage:
		return Message{Type: Text, Data: data}, nil
	case websocket.BinaryMessage:
		return Message{Type: Binary, Data: data}, nil
	case websocket.PingMessage:
		return Message{Type: Ping, Data: data}, nil
	case websocket.PongMessage:
		return Message{Type: Pong, Data: data}, nil
	case websocket.CloseMessage:
		return Message{Type: Close, Data: data}, nil
	default:
		return Message{}, fmt.Errorf("wsconn: unknown frame opcode %d", typ)
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// Acceptor listens for downstream client connections (the local WS
// server the Dispatcher drains, §4.8 step 1).
type Acceptor struct {
	upgrader websocket.Upgrader
	listener net.Listener
	server   *http.Server
	accepted chan *Conn
	closed   chan struct{}
}

// Listen binds the bind URL addr (e.g. "ws://0.0.0.0:8080") and begins
// accepting WebSocket upgrade requests on "/" in the background.
// Accept() drains the result.
func Listen(addr string) (*Acceptor, error) {
	hostPort, err := hostPortFromURL(addr)
	if err != nil {
		return nil, fmt.Errorf("wsconn: %w", err)
	}

	ln, err := net.Listen("tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("wsconn: listen %s: %w", addr, err)
	}

	a := &Acceptor{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		listener: ln,
		accepted: make(chan *Conn, 64),
		closed:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", a.handleUpgrade)
	a.server = &http.Server{Handler: mux}

	go func() {
		_ = a.server.Serve(ln)
	}()

	return a, nil
}

// hostPortFromURL extracts host:port from a bind URL, matching the
// original server()'s url::Url::parse + host_str()/port() extraction.
func hostPortFromURL(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse bind url %q: %w", addr, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("bind url %q has no host:port", addr)
	}
	return u.Host, nil
}

func (a *Acceptor) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &Conn{ws: ws, remoteAddr: ws.RemoteAddr().String()}
	select {
	case a.accepted <- conn:
	case <-a.closed:
		ws.Close()
	}
}

// Accept returns the next accepted client connection without blocking,
// or (nil, false) if none is pending (§4.8 step 1: "poll the accept
// queue").
func (a *Acceptor) Accept() (*Conn, bool) {
	select {
	case conn := <-a.accepted:
		return conn, true
	default:
		return nil, false
	}
}

// Close stops accepting new connections.
func (a *Acceptor) Close() error {
	close(a.closed)
	return a.server.Close()
}
