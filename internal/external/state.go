package external

// State is a connection's position in the External-MCP Manager's lifecycle
// (spec §4.X): Disconnected -> Connecting -> Initializing -> Ready. Ready
// leaves either to Draining (on shutdown) or straight to Disconnected (on
// failure); Disconnected is reachable from every other state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateDraining     State = "draining"
)

// allowed enumerates the legal transitions out of each state.
var allowed = map[State]map[State]bool{
	StateDisconnected: {StateConnecting: true},
	StateConnecting:   {StateInitializing: true, StateDisconnected: true},
	StateInitializing: {StateReady: true, StateDisconnected: true},
	StateReady:        {StateDraining: true, StateDisconnected: true},
	StateDraining:     {StateDisconnected: true},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to State) bool {
	return allowed[from][to]
}
