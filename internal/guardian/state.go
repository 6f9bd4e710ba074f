package guardian

// ProtectionState is the per-symbol supervision state. It tracks what the
// guardian last did about a position, never what the exchange holds — the
// exchange is re-queried every cycle.
type ProtectionState string

const (
	StateUnprotected ProtectionState = "UNPROTECTED"
	StateProtecting  ProtectionState = "PROTECTING"
	StateProtected   ProtectionState = "PROTECTED"
	StateRatcheting  ProtectionState = "RATCHETING"
	StateClosing     ProtectionState = "CLOSING"
	StateClosed      ProtectionState = "CLOSED"
)

// SymbolState is the guardian's in-memory record for one symbol. Owned and
// mutated only by the guardian loop; rebuilt from live queries on start and
// never persisted.
type SymbolState struct {
	State ProtectionState

	// LastStopPrice is the monotonic ratchet baseline: a replacement stop is
	// accepted only if strictly more favorable than this cached value, so a
	// query race can never loosen protection.
	LastStopPrice float64

	// TrailHigh is the best unleveraged return observed since entry.
	TrailHigh float64

	// InsertFailures counts consecutive failed emergency stop insertions.
	InsertFailures int
}

// snapshotStates returns a copy of the state map for external observers
// (status table, metrics). The guardian keeps exclusive write access.
func (g *Guardian) snapshotStates() map[string]SymbolState {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]SymbolState, len(g.states))
	for symbol, st := range g.states {
		out[symbol] = *st
	}
	return out
}

// States returns the current per-symbol supervision states.
func (g *Guardian) States() map[string]SymbolState {
	return g.snapshotStates()
}

// state returns the tracked state for symbol, creating it on first sight.
// A symbol is first seen through a live query, so the initial state is
// always UNPROTECTED until an audit proves otherwise.
func (g *Guardian) state(symbol string) *SymbolState {
	st, ok := g.states[symbol]
	if !ok {
		st = &SymbolState{State: StateUnprotected}
		g.states[symbol] = st
	}
	return st
}
