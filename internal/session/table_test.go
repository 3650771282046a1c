package session

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"xgateway/internal/clientreg"
	"xgateway/internal/codec"
	"xgateway/internal/position"
	"xgateway/pkg/proto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *position.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pos.db")
	s, err := position.Open(path, discardLogger())
	if err != nil {
		t.Fatalf("position.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoginThreeWayAlgorithm(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	tbl := New(store, discardLogger())

	h1 := clientreg.New("addr1", 4)
	if got := tbl.Login(1, h1, "alice", true); got != LoginOK {
		t.Fatalf("first login = %v, want LoginOK", got)
	}

	if got := tbl.Login(1, h1, "alice", true); got != LoginDuplicate {
		t.Fatalf("login while active = %v, want LoginDuplicate", got)
	}

	tbl.Deactivate(1)
	h2 := clientreg.New("addr2", 4)
	if got := tbl.Login(1, h2, "alice-reconnect", true); got != LoginOK {
		t.Fatalf("login after deactivate = %v, want LoginOK", got)
	}

	owner, ok := tbl.Owner(1)
	if !ok || owner.Addr != "addr2" {
		t.Errorf("owner = %+v, ok=%v, want addr2/true (rebind on inactive re-login)", owner, ok)
	}
}

func TestDeactivateByAddr(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	tbl := New(store, discardLogger())

	h := clientreg.New("addr1", 4)
	tbl.Login(5, h, "bob", true)

	tbl.DeactivateByAddr("addr1")

	if _, ok := tbl.Owner(5); ok {
		t.Error("Owner: ok = true after DeactivateByAddr")
	}
}

func TestHandleOrderEventForwardsOrderForEveryState(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	tbl := New(store, discardLogger())

	h := clientreg.New("addr1", 4)
	tbl.Login(9, h, "carol", true)

	evt := codec.AccountEvent{
		Order:         proto.Order{Symbol: "btcusdt", Side: proto.SideBuy, State: proto.OrderStateNew},
		ClientOrderID: proto.ComposeClientOrderID(9, 1),
	}
	tbl.HandleOrderEvent(evt)

	select {
	case <-h.Chan():
	default:
		t.Fatal("NEW order event was not forwarded to the owning client")
	}
}

func TestHandleOrderEventAppliesBuyDeltaSpot(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	tbl := New(store, discardLogger())

	h := clientreg.New("addr1", 8)
	tbl.Login(3, h, "dave", true)

	evt := codec.AccountEvent{
		Order:         proto.Order{Symbol: "btcusdt", Side: proto.SideBuy, State: proto.OrderStateFilled},
		ClientOrderID: proto.ComposeClientOrderID(3, 1),
		TradeVolume:   10,
		Commission:    0.1,
		IsSpot:        true,
	}
	tbl.HandleOrderEvent(evt)

	positions, ok := store.GetPositions(3)
	if !ok {
		t.Fatal("GetPositions: ok = false")
	}
	p := positions["btcusdt"]
	if p.Net != 9.9 {
		t.Errorf("net = %v, want 9.9 (10 - 0.1 commission, spot buy)", p.Net)
	}
}

func TestHandleOrderEventAppliesSellDeltaPerp(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	tbl := New(store, discardLogger())

	h := clientreg.New("addr1", 8)
	tbl.Login(4, h, "erin", true)

	evt := codec.AccountEvent{
		Order:         proto.Order{Symbol: "ethusdt", Side: proto.SideSell, State: proto.OrderStatePartiallyFilled},
		ClientOrderID: proto.ComposeClientOrderID(4, 1),
		TradeVolume:   5,
		Commission:    0.2,
		IsSpot:        false,
	}
	tbl.HandleOrderEvent(evt)

	positions, _ := store.GetPositions(4)
	p := positions["ethusdt"]
	if p.Net != -5 {
		t.Errorf("net = %v, want -5 (perp sell, commission not netted)", p.Net)
	}
}

func TestHandleOrderEventIgnoresNonFillStatesForPosition(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	tbl := New(store, discardLogger())

	h := clientreg.New("addr1", 8)
	tbl.Login(6, h, "frank", true)

	evt := codec.AccountEvent{
		Order:         proto.Order{Symbol: "btcusdt", Side: proto.SideBuy, State: proto.OrderStateCanceled},
		ClientOrderID: proto.ComposeClientOrderID(6, 1),
		TradeVolume:   10,
	}
	tbl.HandleOrderEvent(evt)

	positions, _ := store.GetPositions(6)
	if _, ok := positions["btcusdt"]; ok {
		t.Error("CANCELED event applied a position delta")
	}
}
