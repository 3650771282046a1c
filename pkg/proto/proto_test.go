package proto

import "testing"

func TestComposeDecomposeClientOrderIDRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []struct {
		sessionID uint16
		id        uint32
	}{
		{0, 0},
		{1, 1},
		{65535, 4294967295},
		{7, 12345},
	}
	for _, c := range cases {
		composed := ComposeClientOrderID(c.sessionID, c.id)
		gotSession, gotID := DecomposeClientOrderID(composed)
		if gotSession != c.sessionID || gotID != c.id {
			t.Errorf("round trip (%d, %d) -> %d -> (%d, %d)", c.sessionID, c.id, composed, gotSession, gotID)
		}
	}
}
