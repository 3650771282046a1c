// Package orderrouter implements OrderRouter (§4.7): composite client
// order id assignment (delegated to proto), asynchronous REST dispatch,
// and synthetic REJECTED synthesis when the exchange rejects a
// submission before it ever reaches the book.
//
// Grounded on the teacher's internal/exchange/client.go request pattern,
// with rest.rs's add_order/cancel parameter ordering (§4.2, §6) as the
// wire contract.
package orderrouter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"xgateway/internal/clientreg"
	"xgateway/internal/ratelimit"
	"xgateway/internal/restclient"
	"xgateway/pkg/proto"
)

// Router borrows a RestClient (shared, immutable after construction)
// and never owns a client registry of its own — callers always already
// hold the handle to reply on (§3 "Ownership").
type Router struct {
	rest       *restclient.Client
	orderPath  string
	cancelPath string
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

// New constructs a Router against the given order/cancel REST paths,
// rate-limited by the default buckets from ratelimit.NewLimiter.
func New(rest *restclient.Client, orderPath, cancelPath string, logger *slog.Logger) *Router {
	return &Router{
		rest:       rest,
		orderPath:  orderPath,
		cancelPath: cancelPath,
		limiter:    ratelimit.NewLimiter(),
		logger:     logger.With("component", "order_router"),
	}
}

// Submit spawns an independent REST call and returns immediately; the
// caller's loop must never block on it (§4.7, §5).
func (r *Router) Submit(h clientreg.Handle, order proto.OrderParams) {
	go r.submit(h, order)
}

func (r *Router) submit(h clientreg.Handle, order proto.OrderParams) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.limiter != nil {
		if err := r.limiter.Order.Wait(ctx); err != nil {
			r.reject(h, order, proto.ErrUndefined, "rate limit wait: "+err.Error())
			return
		}
	}

	body, err := r.rest.AddOrder(ctx, r.orderPath, order)
	if err == nil {
		if code, msg, isErr := decodeErrorBody(body); isErr {
			r.reject(h, order, code, msg)
		}
		return // exchange accepted it; the true ack arrives via AccountLink
	}

	code, msg := errorCodeAndMessage(err)
	r.reject(h, order, code, msg)
}

func (r *Router) reject(h clientreg.Handle, order proto.OrderParams, code int32, msg string) {
	r.logger.Warn("order rejected locally", "symbol", order.Symbol, "session_id", order.SessionID, "id", order.ID, "code", code, "msg", msg)
	rejected := proto.Order{
		Symbol:     order.Symbol,
		Side:       order.Side,
		State:      proto.OrderStateRejected,
		OrderType:  order.OrderType,
		TIF:        order.TIF,
		Quantity:   order.Quantity,
		Price:      order.Price,
		InternalID: order.ID,
		SessionID:  order.SessionID,
	}
	h.SendJSON(rejected)
}

// Cancel spawns an independent DELETE; failures are logged only, per
// §4.7 ("on failure, log only").
func (r *Router) Cancel(params proto.CancelParams) {
	go r.cancel(params)
}

func (r *Router) cancel(params proto.CancelParams) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.limiter != nil {
		if err := r.limiter.Cancel.Wait(ctx); err != nil {
			r.logger.Warn("cancel rate limit wait failed", "symbol", params.Symbol, "session_id", params.SessionID, "order_id", params.OrderID, "error", err)
			return
		}
	}

	body, err := r.rest.Cancel(ctx, r.cancelPath, params.Symbol, params.SessionID, params.OrderID)
	if err != nil {
		r.logger.Warn("cancel failed", "symbol", params.Symbol, "session_id", params.SessionID, "order_id", params.OrderID, "error", err)
		return
	}
	if code, msg, isErr := decodeErrorBody(body); isErr {
		r.logger.Warn("cancel rejected by exchange", "symbol", params.Symbol, "session_id", params.SessionID, "order_id", params.OrderID, "code", code, "msg", msg)
	}
}

func decodeErrorBody(body []byte) (code int32, msg string, ok bool) {
	var e struct {
		Code *int32  `json:"code"`
		Msg  *string `json:"msg"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Code == nil {
		return 0, "", false
	}
	if e.Msg != nil {
		msg = *e.Msg
	}
	return *e.Code, msg, true
}

func errorCodeAndMessage(err error) (int32, string) {
	if restErr, ok := err.(*restclient.RestError); ok {
		if code, msg, isErr := decodeErrorBody([]byte(restErr.Body)); isErr {
			return code, msg
		}
	}
	return proto.ErrUndefined, err.Error()
}
