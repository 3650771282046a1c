// Package codec implements Codec (§4.9): conversion between exchange
// wire frames and the internal proto model. Discrimination of the
// upstream tagged union is structural (peeking known keys), per §4.9
// and the "tagged-union message dispatch" design note in §9, rather
// than a single envelope tag — this exchange has no one field that
// names every frame shape.
//
// Grounded on binance/src/chat.rs and binance/src/chat.rs's
// BinanceDepth/BinanceKline/BinanceProduct/ExecutionReport/OrderUpdate
// shapes, reimplemented without panicking on malformed numeric strings
// (the original's .expect()/.unwrap() calls are bugs this Codec does
// not carry forward — see DESIGN.md).
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"xgateway/pkg/proto"
)

// Kind classifies a decoded upstream frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindAck          // {"id":..., "result":...} or an error reply
	KindDepth
	KindBBO
	KindKline
	KindOrderEvent // account-stream execution report / order update
	KindIgnored    // recognized shape, not needed by the core
)

// envelope is the superset of fields used to structurally discriminate
// an upstream frame without committing to a specific struct first.
type envelope struct {
	Stream *string          `json:"stream"`
	Data   json.RawMessage  `json:"data"`
	ID     *int64           `json:"id"`
	Result *json.RawMessage `json:"result"`
	Code   *int32           `json:"code"`
	Msg    *string          `json:"msg"`
	E      *string          `json:"e"`
}

// Peek inspects raw and classifies it, returning the envelope's inner
// payload (the combined-stream "data" field when present, else raw
// itself; nil for KindUnknown) for the caller to decode further.
func Peek(raw []byte) (Kind, []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return KindUnknown, nil
	}

	if env.Stream != nil && env.Data != nil {
		switch {
		case strings.Contains(*env.Stream, "kline"):
			return KindKline, env.Data
		case strings.Contains(*env.Stream, "depth"):
			return KindDepth, env.Data
		case strings.Contains(*env.Stream, "bookTicker"):
			return KindBBO, env.Data
		default:
			return KindIgnored, env.Data
		}
	}

	if env.ID != nil {
		return KindAck, raw
	}

	if env.E != nil {
		switch *env.E {
		case "executionReport", "ORDER_TRADE_UPDATE":
			return KindOrderEvent, raw
		default:
			return KindIgnored, raw
		}
	}

	return KindUnknown, nil
}

// Ack is a decoded upstream {"id", "result"} or error reply.
type Ack struct {
	ID      int64
	IsError bool
	Code    int32
	Msg     string
	Result  json.RawMessage
}

// DecodeAck decodes a KindAck frame.
func DecodeAck(raw []byte) (Ack, error) {
	var body struct {
		ID     int64            `json:"id"`
		Result *json.RawMessage `json:"result"`
		Code   *int32           `json:"code"`
		Msg    *string          `json:"msg"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Ack{}, fmt.Errorf("codec: decode ack: %w", err)
	}
	if body.Code != nil {
		return Ack{ID: body.ID, IsError: true, Code: *body.Code, Msg: derefStr(body.Msg)}, nil
	}
	var result json.RawMessage
	if body.Result != nil {
		result = *body.Result
	}
	return Ack{ID: body.ID, Result: result}, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parseFloatOr0 converts a numeric string to float64, defaulting to 0.0
// on failure instead of panicking — the exchange has historically shipped
// empty strings for some numeric fields (§4.9).
func parseFloatOr0(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0.0
	}
	return v
}

// quoteTuple is one [price_str, quantity_str] element of a depth side.
type quoteTuple struct {
	Price    float64
	Quantity float64
}

func (q *quoteTuple) UnmarshalJSON(data []byte) error {
	var raw [2]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.Price = parseFloatOr0(raw[0])
	q.Quantity = parseFloatOr0(raw[1])
	return nil
}

type wireDepth struct {
	E int64        `json:"E"`
	S string       `json:"s"`
	B []quoteTuple `json:"b"`
	A []quoteTuple `json:"a"`
}

// DecodeDepth decodes a KindDepth payload into the internal Depth model
// and the canonical stream key ("<symbol>@depth"). Crossed-book/ordering
// sanity is applied by MarketLink (§4.4, §9 open question), not here.
func DecodeDepth(raw []byte) (proto.Depth, string, error) {
	var w wireDepth
	if err := json.Unmarshal(raw, &w); err != nil {
		return proto.Depth{}, "", fmt.Errorf("codec: decode depth: %w", err)
	}
	symbol := strings.ToLower(w.S)
	stream := symbol + "@depth"
	d := proto.Depth{
		Time:   w.E,
		Symbol: symbol,
		Stream: stream,
		Bids:   make([]proto.PriceLevel, len(w.B)),
		Asks:   make([]proto.PriceLevel, len(w.A)),
	}
	for i, q := range w.B {
		d.Bids[i] = proto.PriceLevel{Price: q.Price, Quantity: q.Quantity}
	}
	for i, q := range w.A {
		d.Asks[i] = proto.PriceLevel{Price: q.Price, Quantity: q.Quantity}
	}
	return d, stream, nil
}

type wireBookTicker struct {
	S string `json:"s"`
	B string `json:"b"`
	Bq string `json:"B"`
	A string `json:"a"`
	Aq string `json:"A"`
}

// DecodeBookTicker decodes a best-bid/offer payload into a one-level
// Depth and the canonical stream key ("<symbol>@bbo"). The wire shape
// (b/B/a/A best price+qty) has no separate entity in §6; bbo is
// represented as a one-level Depth since that's exactly what it is.
func DecodeBookTicker(raw []byte) (proto.Depth, string, error) {
	var w wireBookTicker
	if err := json.Unmarshal(raw, &w); err != nil {
		return proto.Depth{}, "", fmt.Errorf("codec: decode book ticker: %w", err)
	}
	symbol := strings.ToLower(w.S)
	stream := symbol + "@bbo"
	d := proto.Depth{
		Symbol: symbol,
		Stream: stream,
		Bids:   []proto.PriceLevel{{Price: parseFloatOr0(w.B), Quantity: parseFloatOr0(w.Bq)}},
		Asks:   []proto.PriceLevel{{Price: parseFloatOr0(w.A), Quantity: parseFloatOr0(w.Aq)}},
	}
	return d, stream, nil
}

type wireKlineData struct {
	T int64  `json:"t"`
	TEnd int64 `json:"T"`
	I string `json:"i"`
	O string `json:"o"`
	C string `json:"c"`
	H string `json:"h"`
	L string `json:"l"`
	V string `json:"v"`
	Q string `json:"q"`
}

type wireKline struct {
	S string        `json:"s"`
	K wireKlineData `json:"k"`
}

// DecodeKline decodes a KindKline payload and the canonical stream key
// ("<symbol>@kline:<interval>").
func DecodeKline(raw []byte) (proto.Kline, string, error) {
	var w wireKline
	if err := json.Unmarshal(raw, &w); err != nil {
		return proto.Kline{}, "", fmt.Errorf("codec: decode kline: %w", err)
	}
	symbol := strings.ToLower(w.S)
	stream := fmt.Sprintf("%s@kline:%s", symbol, w.K.I)
	k := proto.Kline{
		Time:   w.K.TEnd,
		Symbol: symbol,
		Stream: stream,
		Open:   parseFloatOr0(w.K.O),
		High:   parseFloatOr0(w.K.H),
		Low:    parseFloatOr0(w.K.L),
		Close:  parseFloatOr0(w.K.C),
		Volume: parseFloatOr0(w.K.V),
		Amount: parseFloatOr0(w.K.Q),
	}
	return k, stream, nil
}

// orderTypeFromString maps the exchange's order-type string to
// proto.OrderType. Falls back to OrderTypeUnknown and lets the caller
// log, rather than panicking on an unrecognized string — a hardening
// of the original's From<...>::unwrap() (see DESIGN.md).
func orderTypeFromString(s string) proto.OrderType {
	switch s {
	case "LIMIT", "LIMIT_MAKER", "MARKET", "STOP", "STOP_MARKET",
		"STOP_LOSS", "STOP_LOSS_LIMIT", "TAKE_PROFIT", "TAKE_PROFIT_LIMIT",
		"TAKE_PROFIT_MARKET", "TRAILING_STOP_MARKET":
		return proto.OrderType(s)
	default:
		return proto.OrderTypeUnknown
	}
}

func tifFromString(s string) proto.TimeInForce {
	switch s {
	case "GTC", "IOC", "FOK", "GTX", "GTD":
		return proto.TimeInForce(s)
	default:
		return proto.TIFUnknown
	}
}

// AccountEvent is the decoded shape of an account-stream order event,
// carrying enough to both build the public Order frame and apply the
// position delta in SessionTable (§3, §4.6).
type AccountEvent struct {
	Order         proto.Order
	ClientOrderID int64
	TradeVolume   float64
	Commission    float64
	IsSpot        bool // selects the spot vs perpetual delta formula (§3, §9)
}

type wireExecutionReport struct {
	E int64   `json:"E"`
	S string  `json:"s"`
	Sd string `json:"S"`
	O  string `json:"o"`
	F  string `json:"f"`
	Q  string `json:"q"`
	P  string `json:"p"`
	C  string `json:"c"`
	CC string `json:"C"`
	X  string `json:"X"`
	I  int64  `json:"i"`
	N  *string `json:"n"`
	T  int64   `json:"T"`
	TT int64   `json:"t"`
	L  string  `json:"l"`
	LP string  `json:"L"`
	Z  string  `json:"z"`
	M  bool    `json:"m"`
}

// DecodeSpotOrderEvent decodes a spot executionReport frame (§9: spot
// subtracts commission from trade volume).
func DecodeSpotOrderEvent(raw []byte) (AccountEvent, error) {
	var w wireExecutionReport
	if err := json.Unmarshal(raw, &w); err != nil {
		return AccountEvent{}, fmt.Errorf("codec: decode execution report: %w", err)
	}

	// CANCELED events echo the *original* client order id in C, not c.
	clientOrderIDStr := w.C
	if w.X == "CANCELED" {
		clientOrderIDStr = w.CC
	}
	clientOrderID, _ := strconv.ParseInt(clientOrderIDStr, 10, 64)
	_, internalID := proto.DecomposeClientOrderID(clientOrderID)

	commission := parseFloatOr0(derefStr(w.N))
	tradeVol := parseFloatOr0(w.L)

	o := proto.Order{
		Time:       w.E,
		Symbol:     strings.ToLower(w.S),
		Side:       proto.Side(w.Sd),
		State:      proto.OrderState(w.X),
		OrderType:  orderTypeFromString(w.O),
		TIF:        tifFromString(w.F),
		Quantity:   parseFloatOr0(w.Q),
		Price:      parseFloatOr0(w.P),
		OrderID:    w.I,
		InternalID: internalID,
		TradeTime:  w.T,
		TradePrice: parseFloatOr0(w.LP),
		TradeQty:   tradeVol,
		Commission: commission,
		Acc:        "",
		Making:     w.M,
	}

	return AccountEvent{
		Order:         o,
		ClientOrderID: clientOrderID,
		TradeVolume:   tradeVol,
		Commission:    commission,
		IsSpot:        true,
	}, nil
}

type wireOrderData struct {
	S  string   `json:"s"`
	C  string   `json:"c"`
	Sd string   `json:"S"`
	O  string   `json:"o"`
	F  string   `json:"f"`
	Q  string   `json:"q"`
	P  string   `json:"p"`
	X  string   `json:"X"`
	I  int64    `json:"i"`
	N  *string  `json:"n"`
	T  int64    `json:"T"`
	TT int64    `json:"t"`
	LP string   `json:"L"`
	L  string   `json:"l"`
	Z  string   `json:"z"`
	M  bool     `json:"m"`
}

type wireOrderUpdate struct {
	E int64         `json:"E"`
	O wireOrderData `json:"o"`
}

// DecodePerpOrderEvent decodes a perpetual ORDER_TRADE_UPDATE frame
// (§9: perpetual commission is a separate asset, not netted here).
func DecodePerpOrderEvent(raw []byte) (AccountEvent, error) {
	var w wireOrderUpdate
	if err := json.Unmarshal(raw, &w); err != nil {
		return AccountEvent{}, fmt.Errorf("codec: decode order update: %w", err)
	}
	o := w.O
	clientOrderID, _ := strconv.ParseInt(o.C, 10, 64)
	_, internalID := proto.DecomposeClientOrderID(clientOrderID)

	commission := parseFloatOr0(derefStr(o.N))
	tradeVol := parseFloatOr0(o.L)

	order := proto.Order{
		Time:       w.E,
		Symbol:     strings.ToLower(o.S),
		Side:       proto.Side(o.Sd),
		State:      proto.OrderState(o.X),
		OrderType:  orderTypeFromString(o.O),
		TIF:        tifFromString(o.F),
		Quantity:   parseFloatOr0(o.Q),
		Price:      parseFloatOr0(o.P),
		OrderID:    o.I,
		InternalID: internalID,
		TradeTime:  o.T,
		TradePrice: parseFloatOr0(o.LP),
		TradeQty:   tradeVol,
		Commission: commission,
	}

	return AccountEvent{
		Order:         order,
		ClientOrderID: clientOrderID,
		TradeVolume:   tradeVol,
		Commission:    commission,
		IsSpot:        false,
	}, nil
}

// wireFilter mirrors one exchangeInfo filter entry; unrecognized filter
// types are skipped rather than erroring, matching the original's "_ =>
// ()" catch-all.
type wireFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	MaxPrice   string `json:"maxPrice"`
	MinPrice   string `json:"minPrice"`
	StepSize   string `json:"stepSize"`
	MaxQty     string `json:"maxQty"`
	MinQty     string `json:"minQty"`
	Notional   string `json:"notional"`
	MinNotional string `json:"minNotional"`
}

type wireProduct struct {
	Symbol        string       `json:"symbol"`
	Status        string       `json:"status"`
	DeliveryDate  *int64       `json:"deliveryDate"`
	OnboardDate   *int64       `json:"onboardDate"`
	Filters       []wireFilter `json:"filters"`
	OrderTypes    []string     `json:"orderTypes"`
	TimeInForce   []string     `json:"timeInForce"`
}

type wireProductResponse struct {
	Symbols []wireProduct `json:"symbols"`
}

// DecodeProducts decodes an exchangeInfo-style response into the
// internal Product model (§3). Parse failures on filter numbers default
// to 0.0 rather than panicking (§4.9, DESIGN.md bug-fix list).
func DecodeProducts(raw []byte) ([]proto.Product, error) {
	var resp wireProductResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("codec: decode products: %w", err)
	}

	products := make([]proto.Product, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		p := proto.Product{
			Symbol:     strings.ToLower(s.Symbol),
			OrderTypes: make([]proto.OrderType, 0, len(s.OrderTypes)),
		}
		if s.DeliveryDate != nil {
			p.DeliveryTime = *s.DeliveryDate
		}
		if s.OnboardDate != nil {
			p.OnboardTime = *s.OnboardDate
		}
		for _, ot := range s.OrderTypes {
			p.OrderTypes = append(p.OrderTypes, orderTypeFromString(ot))
		}
		for _, t := range s.TimeInForce {
			p.TIFs = append(p.TIFs, tifFromString(t))
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				p.PriceFilter = proto.PriceFilter{
					Tick: parseFloatOr0(f.TickSize),
					Min:  parseFloatOr0(f.MinPrice),
					Max:  parseFloatOr0(f.MaxPrice),
				}
			case "LOT_SIZE", "MARKET_LOT_SIZE":
				p.LotSize = proto.LotSize{
					Step: parseFloatOr0(f.StepSize),
					Min:  parseFloatOr0(f.MinQty),
					Max:  parseFloatOr0(f.MaxQty),
				}
			case "NOTIONAL":
				p.MinNotional = parseFloatOr0(f.MinNotional)
			case "MIN_NOTIONAL":
				p.MinNotional = parseFloatOr0(f.Notional)
			}
		}
		products = append(products, p)
	}
	return products, nil
}
