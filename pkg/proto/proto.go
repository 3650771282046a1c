// Package proto defines the wire entities exchanged with downstream
// trading clients and the internal shapes Codec decodes exchange frames
// into. It has no dependency on the rest of the gateway so analyst
// tooling can import it on its own.
package proto

import "encoding/json"

// Side is BUY or SELL.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType mirrors the exchange's supported order types.
type OrderType string

const (
	OrderTypeLimit           OrderType = "LIMIT"
	OrderTypeLimitMaker      OrderType = "LIMIT_MAKER"
	OrderTypeMarket          OrderType = "MARKET"
	OrderTypeStop            OrderType = "STOP"
	OrderTypeStopMarket      OrderType = "STOP_MARKET"
	OrderTypeStopLoss        OrderType = "STOP_LOSS"
	OrderTypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	OrderTypeTakeProfit      OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
	OrderTypeTakeProfitMkt   OrderType = "TAKE_PROFIT_MARKET"
	OrderTypeTrailingStopMkt OrderType = "TRAILING_STOP_MARKET"
	OrderTypeUnknown         OrderType = "UNKNOWN"
)

// TimeInForce mirrors the exchange's supported TIFs.
type TimeInForce string

const (
	TIFGoodTilCanceled TimeInForce = "GTC"
	TIFImmediateOrCan  TimeInForce = "IOC"
	TIFFillOrKill      TimeInForce = "FOK"
	TIFGoodTilCrossing TimeInForce = "GTX"
	TIFGoodTilDate     TimeInForce = "GTD"
	TIFUnknown         TimeInForce = "UNDEF"
)

// OrderState is the lifecycle state of an order as reported by the exchange.
type OrderState string

const (
	OrderStateNew               OrderState = "NEW"
	OrderStatePartiallyFilled   OrderState = "PARTIALLY_FILLED"
	OrderStateFilled            OrderState = "FILLED"
	OrderStateCanceled          OrderState = "CANCELED"
	OrderStateRejected          OrderState = "REJECTED"
	OrderStateExpired           OrderState = "EXPIRED"
	OrderStateExpiredInMatch    OrderState = "EXPIRED_IN_MATCH"
)

// PriceLevel is one {price, quantity} entry of a depth book side.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Depth is a push frame carrying an order book snapshot or delta for a
// canonical stream.
type Depth struct {
	Time   int64        `json:"time"`
	Symbol string       `json:"symbol"`
	Stream string       `json:"stream"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
}

// Kline is a push frame carrying a candlestick update.
type Kline struct {
	Time   int64   `json:"time"`
	Symbol string  `json:"symbol"`
	Stream string  `json:"stream"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Amount float64 `json:"amount"`
}

// Order is a push frame carrying an order lifecycle update, and is also
// the shape synthesized locally for REJECTED events.
type Order struct {
	Time         int64       `json:"time"`
	Symbol       string      `json:"symbol"`
	Side         Side        `json:"side"`
	State        OrderState  `json:"state"`
	OrderType    OrderType   `json:"order_type"`
	TIF          TimeInForce `json:"tif"`
	Quantity     float64     `json:"quantity"`
	Price        float64     `json:"price"`
	OrderID      int64       `json:"order_id"`
	InternalID   uint32      `json:"internal_id"`
	SessionID    uint16      `json:"-"`
	TradeTime    int64       `json:"trade_time"`
	TradePrice   float64     `json:"trade_price"`
	TradeQty     float64     `json:"trade_quantity"`
	Commission   float64     `json:"-"`
	Acc          string      `json:"acc"`
	Making       bool        `json:"making"`
}

// Position is the per-symbol net exposure of a session, persisted by
// PositionStore and pushed to the owning client on every mutation.
type Position struct {
	Symbol string  `json:"symbol"`
	Net    float64 `json:"net"`
}

// PriceFilter describes tick-size constraints for a product.
type PriceFilter struct {
	Tick float64 `json:"tick"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// LotSize describes quantity-step constraints for a product.
type LotSize struct {
	Step float64 `json:"step"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Product is a normalized instrument descriptor, refreshed on startup
// and after every market reconnect.
type Product struct {
	Symbol       string        `json:"symbol"`
	DeliveryTime int64         `json:"delivery_time,omitempty"`
	OnboardTime  int64         `json:"onboard_time,omitempty"`
	OrderTypes   []OrderType   `json:"order_types"`
	TIFs         []TimeInForce `json:"tifs,omitempty"`
	PriceFilter  PriceFilter   `json:"price_filter"`
	LotSize      LotSize       `json:"lot_size"`
	MinNotional  float64       `json:"min_notional"`
}

// Error codes surfaced to downstream clients (§6).
const (
	ErrNotLogin       int32 = -10001
	ErrDuplicateLogin int32 = -10002
	ErrInvalidSymbol  int32 = -10003
	ErrInvalidStream  int32 = -10004
	ErrNonTrading     int32 = -10005
	ErrDisconnected   int32 = -30002
	ErrUndefined      int32 = -30003
)

// Request is the envelope downstream clients send: {id, method, params}.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params RawParams       `json:"params"`
}

// RawParams defers decoding params until the method is known. It's an
// alias for json.RawMessage, not a plain []byte — encoding/json would
// otherwise base64-encode/decode the field instead of passing the raw
// JSON value through.
type RawParams = json.RawMessage

// ErrorBody is the {code, msg} payload of an error response.
type ErrorBody struct {
	Code int32  `json:"code"`
	Msg  string `json:"msg"`
}

// Response is the generic {id, result} envelope sent back to a client,
// where result may be a value or an ErrorBody.
type Response struct {
	ID     int64       `json:"id"`
	Result interface{} `json:"result"`
}

// LoginParams is the params shape of the "login" method.
type LoginParams struct {
	SessionID uint16 `json:"session_id"`
	Name      string `json:"name,omitempty"`
	Trading   bool   `json:"trading"`
}

// OrderParams is the params shape of the "order" method.
type OrderParams struct {
	ID        uint32      `json:"id"`
	Symbol    string      `json:"symbol"`
	Price     float64     `json:"price"`
	Quantity  float64     `json:"quantity"`
	Side      Side        `json:"side"`
	OrderType OrderType   `json:"order_type"`
	TIF       TimeInForce `json:"tif"`
	SessionID uint16      `json:"session_id"`
}

// CancelParams is the params shape of the "cancel" method.
type CancelParams struct {
	Symbol    string `json:"symbol"`
	SessionID uint16 `json:"session_id"`
	OrderID   uint32 `json:"order_id"`
}

// GetPositionsParams is the params shape of the "get_positions" method.
type GetPositionsParams struct {
	SessionID uint16   `json:"session_id"`
	Symbols   []string `json:"symbols"`
}

// GetPositionsResult is the result shape of "get_positions".
type GetPositionsResult struct {
	SessionID uint16     `json:"session_id"`
	Positions []Position `json:"positions"`
}

// ComposeClientOrderID builds the exchange newClientOrderId from a
// session id and an internally-chosen 32-bit order id (§3).
func ComposeClientOrderID(sessionID uint16, id uint32) int64 {
	return int64(sessionID)<<32 | int64(id)
}

// DecomposeClientOrderID is the inverse of ComposeClientOrderID.
func DecomposeClientOrderID(clientOrderID int64) (sessionID uint16, id uint32) {
	sessionID = uint16(clientOrderID >> 32)
	id = uint32(clientOrderID & 0xFFFFFFFF)
	return
}
