// Package session implements SessionTable (§4.6): per-session_id
// trading state, the three-way login algorithm, and position-delta
// application on fill events.
//
// Grounded on src/position.rs's session bootstrap (load cache, create
// table) paired with the teacher's internal/store/store.go mutex-guarded
// map idiom, generalized from one Hub-wide position map to one entry
// per 16-bit session id.
package session

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"xgateway/internal/clientreg"
	"xgateway/internal/codec"
	"xgateway/internal/position"
	"xgateway/pkg/proto"
)

// LoginOutcome classifies a login attempt (§4.6).
type LoginOutcome int

const (
	LoginOK LoginOutcome = iota
	LoginDuplicate
)

type entry struct {
	active  bool
	owner   clientreg.Handle
	name    string
	trading bool
}

// Table is the shared, internally-synchronized session map.
type Table struct {
	store *position.Store

	mu       sync.Mutex
	sessions map[uint16]*entry

	logger *slog.Logger
}

// New constructs an empty Table backed by store.
func New(store *position.Store, logger *slog.Logger) *Table {
	return &Table{
		store:    store,
		sessions: make(map[uint16]*entry),
		logger:   logger.With("component", "session_table"),
	}
}

// Login implements the three-way algorithm in §4.6:
//  1. sid active already -> LoginDuplicate.
//  2. sid exists but inactive -> rebind owner, mark active.
//  3. sid unseen -> create it, load cached positions, bind owner.
func (t *Table) Login(sessionID uint16, h clientreg.Handle, name string, trading bool) LoginOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.sessions[sessionID]; ok {
		if e.active {
			return LoginDuplicate
		}
		e.active = true
		e.owner = h
		e.name = name
		e.trading = trading
		return LoginOK
	}

	if err := t.store.CreateTable(sessionID); err != nil {
		t.logger.Error("session create table failed", "session_id", sessionID, "error", err)
	}
	t.sessions[sessionID] = &entry{active: true, owner: h, name: name, trading: trading}
	return LoginOK
}

// Deactivate marks sessionID's owner as gone without discarding its
// position cache (§3 "Session" lifecycle).
func (t *Table) Deactivate(sessionID uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.sessions[sessionID]; ok {
		e.active = false
	}
}

// DeactivateByAddr marks inactive whichever session addr currently owns,
// used when the Dispatcher only knows the disconnecting client's address.
func (t *Table) DeactivateByAddr(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.sessions {
		if e.active && e.owner.Addr == addr {
			e.active = false
		}
	}
}

// GetPositions returns the cached positions for sessionID, optionally
// filtered to symbols (non-empty) (§4.8 "get_positions").
func (t *Table) GetPositions(sessionID uint16, symbols []string) []proto.Position {
	cached, ok := t.store.GetPositions(sessionID)
	if !ok {
		return nil
	}
	if len(symbols) == 0 {
		out := make([]proto.Position, 0, len(cached))
		for _, p := range cached {
			out = append(out, p)
		}
		return out
	}
	out := make([]proto.Position, 0, len(symbols))
	for _, s := range symbols {
		if p, ok := cached[s]; ok {
			out = append(out, p)
		}
	}
	return out
}

// HandleOrderEvent forwards the decoded Order frame to its owning
// session's client, then, on {FILLED, PARTIALLY_FILLED}, applies the
// position delta and persists + forwards the updated Position (§3
// "Position", §4.6, §8 invariant 4). Other states only forward the
// Order frame.
func (t *Table) HandleOrderEvent(evt codec.AccountEvent) {
	sessionID, _ := proto.DecomposeClientOrderID(evt.ClientOrderID)
	evt.Order.SessionID = sessionID

	t.mu.Lock()
	e, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if ok && e.active {
		e.owner.SendJSON(evt.Order)
	}

	if evt.Order.State != proto.OrderStateFilled && evt.Order.State != proto.OrderStatePartiallyFilled {
		return
	}

	// Accumulated in decimal, not float64: a session's net position is
	// the running sum of every fill's trade volume, and plain float64
	// addition drifts visibly after enough fills (§8 invariant 4).
	delta := decimal.NewFromFloat(evt.TradeVolume)
	if evt.IsSpot {
		delta = delta.Sub(decimal.NewFromFloat(evt.Commission))
	}
	if evt.Order.Side == proto.SideSell {
		delta = delta.Neg()
	}

	cached, _ := t.store.GetPositions(sessionID)
	net := decimal.Zero
	if p, ok := cached[evt.Order.Symbol]; ok {
		net = decimal.NewFromFloat(p.Net)
	}
	net = net.Add(delta)

	updated := proto.Position{Symbol: evt.Order.Symbol, Net: net.InexactFloat64()}
	t.store.Update(sessionID, updated)

	if ok && e.active {
		e.owner.SendJSON(updated)
	}
}

// Owner returns the current active owner handle for sessionID, if any.
func (t *Table) Owner(sessionID uint16) (clientreg.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.sessions[sessionID]
	if !ok || !e.active {
		return clientreg.Handle{}, false
	}
	return e.owner, true
}
