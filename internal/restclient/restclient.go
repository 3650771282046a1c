// Package restclient implements RestClient (§4.2): an authenticated
// HTTP request builder over the exchange REST API. Grounded on the
// teacher's internal/exchange/client.go (resty with retry on 5xx and
// transport errors) and internal/exchange/auth.go's L2 header-building
// shape, adapted to the ordered-query-string signing this spec's venue
// uses instead of a JSON-body HMAC header.
package restclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"xgateway/internal/sign"
	"xgateway/pkg/proto"
)

// Param is one ordered query parameter. Using a slice instead of a map
// preserves insertion order, which §4.2 requires the signature to see.
type Param struct {
	Key   string
	Value string
}

// RestError wraps a non-2xx or transport failure from the exchange
// (§4.2, §7 "Upstream REST").
type RestError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("restclient: %v", e.Err)
	}
	return fmt.Sprintf("restclient: status %d: %s", e.StatusCode, e.Body)
}

func (e *RestError) Unwrap() error { return e.Err }

// Client is the signed REST client. Immutable after construction and
// safe for concurrent use — OrderRouter shares one instance across every
// spawned submit/cancel task (§3 "Ownership").
type Client struct {
	http       *resty.Client
	apiKey     string
	signer     sign.Signer
	recvWindow int64
}

// New constructs a Client. recvWindowMS <= 0 disables the recvWindow
// parameter on signed requests.
func New(baseURI, apiKey string, signer sign.Signer, recvWindowMS int64) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURI).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		http:       httpClient,
		apiKey:     apiKey,
		signer:     signer,
		recvWindow: recvWindowMS,
	}
}

// Get issues a signed or unsigned GET.
func (c *Client) Get(ctx context.Context, path string, params []Param, signed bool) ([]byte, error) {
	return c.send(ctx, http.MethodGet, path, params, signed)
}

// Post issues a signed or unsigned POST.
func (c *Client) Post(ctx context.Context, path string, params []Param, signed bool) ([]byte, error) {
	return c.send(ctx, http.MethodPost, path, params, signed)
}

// Delete issues a signed or unsigned DELETE.
func (c *Client) Delete(ctx context.Context, path string, params []Param, signed bool) ([]byte, error) {
	return c.send(ctx, http.MethodDelete, path, params, signed)
}

// Put issues a signed or unsigned PUT.
func (c *Client) Put(ctx context.Context, path string, params []Param, signed bool) ([]byte, error) {
	return c.send(ctx, http.MethodPut, path, params, signed)
}

// Patch issues a signed or unsigned PATCH.
func (c *Client) Patch(ctx context.Context, path string, params []Param, signed bool) ([]byte, error) {
	return c.send(ctx, http.MethodPatch, path, params, signed)
}

func (c *Client) send(ctx context.Context, method, path string, params []Param, signed bool) ([]byte, error) {
	all := make([]Param, len(params))
	copy(all, params)

	if signed {
		all = append(all, Param{Key: "timestamp", Value: strconv.FormatInt(time.Now().UnixMilli(), 10)})
		if c.recvWindow > 0 {
			all = append(all, Param{Key: "recvWindow", Value: strconv.FormatInt(c.recvWindow, 10)})
		}
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey)

	for _, p := range all {
		req.SetQueryParam(p.Key, p.Value)
	}

	if signed {
		query := canonicalQueryString(all)
		sig, err := c.signer.Sign([]byte(query))
		if err != nil {
			return nil, fmt.Errorf("restclient: sign request: %w", err)
		}
		req.SetQueryParam("signature", sig)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, &RestError{Err: err}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return resp.Body(), &RestError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return resp.Body(), nil
}

// canonicalQueryString builds "k1=v1&k2=v2..." in the exact order given,
// which is what gets signed (§4.2, §6 "Upstream exchange REST").
func canonicalQueryString(params []Param) string {
	s := ""
	for i, p := range params {
		if i > 0 {
			s += "&"
		}
		s += p.Key + "=" + p.Value
	}
	return s
}

// AddOrder places one order with the exact fixed parameter order §4.7
// and §6 require: symbol, side, type, timeInForce, quantity, price,
// newClientOrderId, newOrderRespType=RESULT.
func (c *Client) AddOrder(ctx context.Context, path string, o proto.OrderParams) ([]byte, error) {
	clientOrderID := proto.ComposeClientOrderID(o.SessionID, o.ID)
	params := []Param{
		{Key: "symbol", Value: o.Symbol},
		{Key: "side", Value: string(o.Side)},
		{Key: "type", Value: string(o.OrderType)},
		{Key: "timeInForce", Value: string(o.TIF)},
		{Key: "quantity", Value: strconv.FormatFloat(o.Quantity, 'f', -1, 64)},
		{Key: "price", Value: strconv.FormatFloat(o.Price, 'f', -1, 64)},
		{Key: "newClientOrderId", Value: strconv.FormatInt(clientOrderID, 10)},
		{Key: "newOrderRespType", Value: "RESULT"},
	}
	return c.Post(ctx, path, params, true)
}

// Cancel cancels an order by its composite client order id (§4.7).
func (c *Client) Cancel(ctx context.Context, path, symbol string, sessionID uint16, orderID uint32) ([]byte, error) {
	clientOrderID := proto.ComposeClientOrderID(sessionID, orderID)
	params := []Param{
		{Key: "symbol", Value: symbol},
		{Key: "origClientOrderId", Value: strconv.FormatInt(clientOrderID, 10)},
	}
	return c.Delete(ctx, path, params, true)
}
