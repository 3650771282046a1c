// Package dispatcher implements the Dispatcher (§4.8): the central,
// single-threaded, non-blocking event loop that owns the client
// registry and the market/account links, and demuxes downstream
// requests to MarketLink, OrderRouter, and SessionTable.
//
// Grounded on the teacher's cmd/bot/main.go run-loop shape and
// internal/api/stream.go's accept/read/write-pump split, generalized
// to the strict per-iteration ordering §4.8 and §5 require: no inline
// blocking REST or WS calls inside the loop body itself.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"xgateway/internal/account"
	"xgateway/internal/clientreg"
	"xgateway/internal/codec"
	"xgateway/internal/market"
	"xgateway/internal/orderrouter"
	"xgateway/internal/restclient"
	"xgateway/internal/session"
	"xgateway/internal/wsconn"
	"xgateway/pkg/proto"
)

var validIntervals = map[string]bool{
	"1s": true, "1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

type clientConn struct {
	handle clientreg.Handle
	conn   *wsconn.Conn
	inbox  chan wsconn.Message
}

// Dispatcher is the process's single event loop.
type Dispatcher struct {
	acceptor *wsconn.Acceptor
	market   *market.Link
	account  *account.Link
	sessions *session.Table
	router   *orderrouter.Router
	rest     *restclient.Client

	productsPath string
	logger       *slog.Logger

	productsMu sync.RWMutex
	products   map[string]proto.Product
	refreshSF  singleflight.Group

	clients   map[string]*clientConn
	loggedIn  map[string]bool

	conns errgroup.Group
}

// Config bundles the constructor dependencies.
type Config struct {
	Acceptor     *wsconn.Acceptor
	Market       *market.Link
	Account      *account.Link
	Sessions     *session.Table
	Router       *orderrouter.Router
	Rest         *restclient.Client
	ProductsPath string
	Logger       *slog.Logger
}

// New constructs a Dispatcher. Refresh products before calling Run.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		acceptor:     cfg.Acceptor,
		market:       cfg.Market,
		account:      cfg.Account,
		sessions:     cfg.Sessions,
		router:       cfg.Router,
		rest:         cfg.Rest,
		productsPath: cfg.ProductsPath,
		logger:       cfg.Logger.With("component", "dispatcher"),
		products:     make(map[string]proto.Product),
		clients:      make(map[string]*clientConn),
		loggedIn:     make(map[string]bool),
	}
	d.market.OnReconnected = func() {
		if err := d.RefreshProducts(context.Background()); err != nil {
			d.logger.Warn("product refresh after reconnect failed", "error", err)
		}
	}
	d.account.OnOrderEvent = d.sessions.HandleOrderEvent
	return d
}

// RefreshProducts fetches and replaces the product map (§3 "Product",
// §4.4 "ask OrderRouter to refresh products" — owned here since the
// Dispatcher is what clients query for it). Concurrent callers (startup
// plus a reconnect landing mid-refresh) collapse onto a single in-flight
// REST call via singleflight rather than firing one each.
func (d *Dispatcher) RefreshProducts(ctx context.Context) error {
	_, err, _ := d.refreshSF.Do("products", func() (interface{}, error) {
		body, err := d.rest.Get(ctx, d.productsPath, nil, false)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: refresh products: %w", err)
		}
		products, err := codec.DecodeProducts(body)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: decode products: %w", err)
		}
		m := make(map[string]proto.Product, len(products))
		for _, p := range products {
			m[p.Symbol] = p
		}
		d.productsMu.Lock()
		d.products = m
		d.productsMu.Unlock()
		return nil, nil
	})
	return err
}

func (d *Dispatcher) productExists(symbol string) bool {
	d.productsMu.RLock()
	defer d.productsMu.RUnlock()
	_, ok := d.products[symbol]
	return ok
}

// Run drives the event loop until ctx is cancelled (§4.8, §5).
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started")
	for {
		// 1. accept queue
		if conn, ok := d.acceptor.Accept(); ok {
			d.acceptConn(conn)
		}

		// 2. advance MarketLink
		d.market.Step(ctx)

		// 3. advance AccountLink
		d.account.Step(ctx)

		// 4. drain one message per client
		for addr, cc := range d.clients {
			select {
			case msg := <-cc.inbox:
				d.handleClientMessage(addr, cc, msg)
			default:
			}
		}

		// 5. termination signal
		select {
		case <-ctx.Done():
			d.acceptor.Close()
			for addr, cc := range d.clients {
				cc.conn.Close()
				cc.handle.Close()
				delete(d.clients, addr)
			}
			d.conns.Wait()
			d.logger.Info("dispatcher exiting")
			return
		default:
		}

		time.Sleep(0)
	}
}

func (d *Dispatcher) acceptConn(conn *wsconn.Conn) {
	addr := conn.RemoteAddr()
	h := clientreg.New(addr, 4096)
	cc := &clientConn{handle: h, conn: conn, inbox: make(chan wsconn.Message, 4096)}
	d.clients[addr] = cc

	d.conns.Go(func() error { writerPump(h, conn); return nil })
	d.conns.Go(func() error { readerPump(cc); return nil })

	d.market.RegisterClient(h)
	d.logger.Info("client connected", "addr", addr)
}

func writerPump(h clientreg.Handle, conn *wsconn.Conn) {
	for msg := range h.Chan() {
		if err := conn.Send(msg); err != nil {
			return
		}
	}
}

func readerPump(cc *clientConn) {
	for {
		msg, err := cc.conn.Recv()
		if err != nil {
			cc.inbox <- wsconn.Message{Type: wsconn.Close}
			return
		}
		cc.inbox <- msg
	}
}

func (d *Dispatcher) handleClientMessage(addr string, cc *clientConn, msg wsconn.Message) {
	switch msg.Type {
	case wsconn.Close:
		d.pruneClient(addr)
	case wsconn.Ping:
		cc.handle.SendPong()
	case wsconn.Text:
		d.handleRequest(addr, cc.handle, msg.Data)
	}
}

func (d *Dispatcher) pruneClient(addr string) {
	cc, ok := d.clients[addr]
	if !ok {
		return
	}
	delete(d.clients, addr)
	delete(d.loggedIn, addr)
	d.market.UnsubscribeFromClose(addr)
	d.sessions.DeactivateByAddr(addr)
	cc.handle.Close()
	d.logger.Info("client disconnected", "addr", addr)
}

func (d *Dispatcher) handleRequest(addr string, h clientreg.Handle, raw []byte) {
	var req proto.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		d.logger.Warn("dropping unparseable client frame", "addr", addr, "error", err)
		return
	}

	if d.market.Disconnected() || d.account.Disconnected() {
		d.replyError(h, req.ID, proto.ErrDisconnected, "upstream disconnected")
		return
	}

	switch req.Method {
	case "login":
		d.handleLogin(addr, h, req)
	case "subscribe":
		d.handleSubscribe(addr, h, req)
	case "get_products":
		d.handleGetProducts(h, req)
	case "get_positions":
		d.handleGetPositions(h, req)
	case "order":
		d.handleOrder(addr, h, req)
	case "cancel":
		d.handleCancel(addr, h, req)
	default:
		// Unknown method: silently ignored (compat) (§4.8).
	}
}

func (d *Dispatcher) replyError(h clientreg.Handle, id int64, code int32, msg string) {
	h.SendJSON(proto.Response{ID: id, Result: proto.ErrorBody{Code: code, Msg: msg}})
}

func (d *Dispatcher) handleLogin(addr string, h clientreg.Handle, req proto.Request) {
	var p proto.LoginParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		d.logger.Warn("bad login params", "addr", addr, "error", err)
		return
	}

	if p.Trading {
		outcome := d.sessions.Login(p.SessionID, h, p.Name, p.Trading)
		if outcome == session.LoginDuplicate {
			d.replyError(h, req.ID, proto.ErrDuplicateLogin, "duplicate login")
			return
		}
	}

	d.loggedIn[addr] = true
	h.SendJSON(proto.Response{ID: req.ID, Result: p})
}

func (d *Dispatcher) handleSubscribe(addr string, h clientreg.Handle, req proto.Request) {
	if !d.loggedIn[addr] {
		d.replyError(h, req.ID, proto.ErrNotLogin, "not logged in")
		return
	}

	var streams []string
	if err := json.Unmarshal(req.Params, &streams); err != nil {
		d.logger.Warn("bad subscribe params", "addr", addr, "error", err)
		return
	}

	for _, s := range streams {
		symbol, _, _, ok := parseStreamGrammar(s)
		if !ok {
			d.replyError(h, req.ID, proto.ErrInvalidStream, "invalid stream: "+s)
			return
		}
		if !d.productExists(symbol) {
			d.replyError(h, req.ID, proto.ErrInvalidSymbol, "invalid symbol: "+symbol)
			return
		}
	}

	d.market.Subscribe(h, req.ID, streams)
}

// parseStreamGrammar validates "symbol@depth | symbol@bbo | symbol@kline:I"
// (§6) and returns the lowercased symbol.
func parseStreamGrammar(stream string) (symbol, kind, interval string, ok bool) {
	idx := strings.Index(stream, "@")
	if idx <= 0 {
		return "", "", "", false
	}
	symbol = strings.ToLower(stream[:idx])
	rest := stream[idx+1:]

	if rest == "depth" {
		return symbol, "depth", "", true
	}
	if rest == "bbo" {
		return symbol, "bbo", "", true
	}
	if strings.HasPrefix(rest, "kline:") {
		interval = strings.TrimPrefix(rest, "kline:")
		if !validIntervals[interval] {
			return "", "", "", false
		}
		return symbol, "kline", interval, true
	}
	return "", "", "", false
}

func (d *Dispatcher) handleGetProducts(h clientreg.Handle, req proto.Request) {
	var names []string
	_ = json.Unmarshal(req.Params, &names) // empty/absent params -> full map

	d.productsMu.RLock()
	defer d.productsMu.RUnlock()

	if len(names) == 0 {
		out := make([]proto.Product, 0, len(d.products))
		for _, p := range d.products {
			out = append(out, p)
		}
		h.SendJSON(proto.Response{ID: req.ID, Result: out})
		return
	}

	out := make([]proto.Product, 0, len(names))
	for _, n := range names {
		if p, ok := d.products[strings.ToLower(n)]; ok {
			out = append(out, p)
		}
	}
	h.SendJSON(proto.Response{ID: req.ID, Result: out})
}

func (d *Dispatcher) handleGetPositions(h clientreg.Handle, req proto.Request) {
	var p proto.GetPositionsParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return
	}
	positions := d.sessions.GetPositions(p.SessionID, p.Symbols)
	h.SendJSON(proto.Response{ID: req.ID, Result: proto.GetPositionsResult{SessionID: p.SessionID, Positions: positions}})
}

func (d *Dispatcher) handleOrder(addr string, h clientreg.Handle, req proto.Request) {
	var p proto.OrderParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		d.logger.Warn("bad order params", "addr", addr, "error", err)
		return
	}
	d.router.Submit(h, p)
}

func (d *Dispatcher) handleCancel(addr string, h clientreg.Handle, req proto.Request) {
	var p proto.CancelParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		d.logger.Warn("bad cancel params", "addr", addr, "error", err)
		return
	}
	d.router.Cancel(p)
}
