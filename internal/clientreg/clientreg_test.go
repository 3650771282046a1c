package clientreg

import (
	"testing"

	"xgateway/internal/wsconn"
)

func TestTrySendDeliversWithinCapacity(t *testing.T) {
	t.Parallel()
	h := New("addr1", 2)

	if !h.TrySend(wsconn.Message{Type: wsconn.Text, Data: []byte("a")}) {
		t.Fatal("TrySend returned false with free capacity")
	}
	msg := <-h.Chan()
	if string(msg.Data) != "a" {
		t.Errorf("data = %q, want a", msg.Data)
	}
}

func TestTrySendDropsWhenFull(t *testing.T) {
	t.Parallel()
	h := New("addr1", 1)

	if !h.TrySend(wsconn.Message{Type: wsconn.Text, Data: []byte("a")}) {
		t.Fatal("first TrySend should have succeeded")
	}
	if h.TrySend(wsconn.Message{Type: wsconn.Text, Data: []byte("b")}) {
		t.Fatal("TrySend should drop (return false) rather than block when the channel is full")
	}
}

func TestSendJSONMarshalsAndWraps(t *testing.T) {
	t.Parallel()
	h := New("addr1", 2)

	type payload struct {
		Foo string `json:"foo"`
	}
	if !h.SendJSON(payload{Foo: "bar"}) {
		t.Fatal("SendJSON returned false")
	}
	msg := <-h.Chan()
	if msg.Type != wsconn.Text {
		t.Errorf("type = %v, want Text", msg.Type)
	}
	if string(msg.Data) != `{"foo":"bar"}` {
		t.Errorf("data = %s", msg.Data)
	}
}

func TestSendPongSendsPongFrame(t *testing.T) {
	t.Parallel()
	h := New("addr1", 2)

	if !h.SendPong() {
		t.Fatal("SendPong returned false")
	}
	msg := <-h.Chan()
	if msg.Type != wsconn.Pong {
		t.Errorf("type = %v, want Pong", msg.Type)
	}
}

func TestCloseClosesTheChannel(t *testing.T) {
	t.Parallel()
	h := New("addr1", 1)
	h.Close()

	_, ok := <-h.Chan()
	if ok {
		t.Error("channel should be closed")
	}
}
