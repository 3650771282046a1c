package restclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"xgateway/pkg/proto"
)

type fakeSigner struct {
	lastSigned string
}

func (s *fakeSigner) Sign(data []byte) (string, error) {
	s.lastSigned = string(data)
	return "deadbeef", nil
}

func TestGetUnsignedOmitsTimestampAndSignature(t *testing.T) {
	t.Parallel()
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "apikey", &fakeSigner{}, 0)
	_, err := c.Get(context.Background(), "/ping", nil, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotQuery.Has("signature") || gotQuery.Has("timestamp") {
		t.Errorf("unsigned request carried signature/timestamp: %v", gotQuery)
	}
}

func TestPostSignedAddsTimestampAndSignature(t *testing.T) {
	t.Parallel()
	var gotQuery url.Values
	var gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAPIKey = r.Header.Get("X-MBX-APIKEY")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	signer := &fakeSigner{}
	c := New(srv.URL, "apikey1", signer, 5000)
	_, err := c.Post(context.Background(), "/api/v3/order", []Param{{Key: "symbol", Value: "BTCUSDT"}}, true)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if gotAPIKey != "apikey1" {
		t.Errorf("api key header = %q", gotAPIKey)
	}
	if !gotQuery.Has("timestamp") || !gotQuery.Has("signature") || !gotQuery.Has("recvWindow") {
		t.Errorf("signed request missing timestamp/signature/recvWindow: %v", gotQuery)
	}
	if gotQuery.Get("signature") != "deadbeef" {
		t.Errorf("signature = %q, want deadbeef", gotQuery.Get("signature"))
	}
}

func TestSignedRequestSignsCanonicalOrderedQueryString(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	signer := &fakeSigner{}
	c := New(srv.URL, "apikey", signer, 0)
	if _, err := c.Post(context.Background(), "/api/v3/order", []Param{
		{Key: "symbol", Value: "BTCUSDT"},
		{Key: "side", Value: "BUY"},
	}, true); err != nil {
		t.Fatalf("Post: %v", err)
	}

	if signer.lastSigned == "" {
		t.Fatal("signer was never called")
	}
	want := "symbol=BTCUSDT&side=BUY&timestamp="
	if len(signer.lastSigned) < len(want) || signer.lastSigned[:len(want)] != want {
		t.Errorf("signed string = %q, want prefix %q (insertion order preserved)", signer.lastSigned, want)
	}
}

func TestNonSuccessStatusReturnsRestError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1100,"msg":"bad param"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "apikey", &fakeSigner{}, 0)
	_, err := c.Get(context.Background(), "/ping", nil, false)
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
	restErr, ok := err.(*RestError)
	if !ok {
		t.Fatalf("error type = %T, want *RestError", err)
	}
	if restErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", restErr.StatusCode)
	}
}

func TestAddOrderFixedParameterOrder(t *testing.T) {
	t.Parallel()
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"orderId":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "apikey", &fakeSigner{}, 0)
	_, err := c.AddOrder(context.Background(), "/api/v3/order", proto.OrderParams{
		ID:        42,
		Symbol:    "btcusdt",
		Price:     100.5,
		Quantity:  1.2,
		Side:      proto.SideBuy,
		OrderType: proto.OrderTypeLimit,
		TIF:       proto.TIFGoodTilCanceled,
		SessionID: 7,
	})
	if err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	wantClientOrderID := proto.ComposeClientOrderID(7, 42)
	if gotQuery.Get("newClientOrderId") != strconv.FormatInt(wantClientOrderID, 10) {
		t.Errorf("newClientOrderId = %q", gotQuery.Get("newClientOrderId"))
	}
	if gotQuery.Get("newOrderRespType") != "RESULT" {
		t.Errorf("newOrderRespType = %q, want RESULT", gotQuery.Get("newOrderRespType"))
	}
}
