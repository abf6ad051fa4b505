// Package session implements the per-client Session Manager (spec §4.M):
// session allocation, request-id uniqueness tracking, capability
// intersection, inactivity timeouts, and the Open -> Initialized ->
// {Active <-> Idle} -> Closed state machine.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
)

// State is one stage of a session's lifecycle.
type State string

const (
	StateOpen        State = "open"
	StateInitialized State = "initialized"
	StateActive      State = "active"
	StateIdle        State = "idle"
	StateClosed      State = "closed"
)

var allowed = map[State]map[State]bool{
	StateOpen:        {StateInitialized: true, StateClosed: true},
	StateInitialized: {StateActive: true, StateIdle: true, StateClosed: true},
	StateActive:      {StateIdle: true, StateClosed: true},
	StateIdle:        {StateActive: true, StateClosed: true},
	StateClosed:      {},
}

// CanTransition reports whether the Open->Initialized->{Active<->Idle}->Closed
// state machine permits moving from `from` to `to`.
func CanTransition(from, to State) bool {
	return allowed[from][to]
}

// ClientInfo is the subset of the client's `initialize` payload the
// gateway retains for logging/diagnostics.
type ClientInfo struct {
	Name    string
	Version string
}

// Session is one client's live connection state (spec §4.M ClientSession).
// Every field access beyond the id/createdAt is protected by mu.
type Session struct {
	ID                 string
	Transport           string
	Client             ClientInfo
	ProtocolVersion     string
	CreatedAt           time.Time

	mu              sync.Mutex
	state           State
	lastActivity    time.Time
	requestIDs      *lruSet
	capabilities    map[string]bool
	subscribedURIs  map[string]bool
}

func newSession(transport string, maxRequestIDs int) *Session {
	now := time.Now()
	return &Session{
		ID:             uuid.NewString(),
		Transport:      transport,
		CreatedAt:      now,
		state:          StateOpen,
		lastActivity:   now,
		requestIDs:     newLRUSet(maxRequestIDs),
		subscribedURIs: map[string]bool{},
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the last time the session was touched.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch records activity and, if the session was Idle, transitions it back
// to Active.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
	if s.state == StateIdle {
		s.state = StateActive
	}
}

// MarkIdle transitions an Initialized or Active session to Idle; a no-op
// for any other state (called by the manager's reaper sweep, not an error
// path).
func (s *Session) MarkIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInitialized || s.state == StateActive {
		s.state = StateIdle
	}
}

// Initialize transitions Open->Initialized, pins the negotiated protocol
// version, client info, and capability intersection. Returns a
// mcperr.KindConflict error if called outside Open.
func (s *Session) Initialize(protocolVersion string, client ClientInfo, gatewayCaps, clientCaps map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !allowed[s.state][StateInitialized] {
		return mcperr.New(mcperr.KindConflict, "session already initialized or closed")
	}
	s.ProtocolVersion = protocolVersion
	s.Client = client
	s.capabilities = intersect(gatewayCaps, clientCaps)
	s.state = StateInitialized
	s.lastActivity = time.Now()
	return nil
}

// Capabilities returns the pinned capability intersection computed at
// Initialize; nil before initialization.
func (s *Session) Capabilities() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.capabilities))
	for k, v := range s.capabilities {
		out[k] = v
	}
	return out
}

// HasCapability reports whether the pinned intersection includes name.
func (s *Session) HasCapability(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities[name]
}

// BeginCall validates the session is Initialized/Active/Idle (tool calls
// outside Initialized are rejected, spec §4.M), marks it Active, and
// checks request-id uniqueness (spec invariant I2).
func (s *Session) BeginCall(requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateInitialized, StateActive, StateIdle:
	default:
		return mcperr.New(mcperr.KindConflict, "tool call rejected: session not initialized")
	}
	if requestID != "" && !s.requestIDs.addIfAbsent(requestID) {
		return mcperr.New(mcperr.KindConflict, "duplicate request id on session")
	}
	s.state = StateActive
	s.lastActivity = time.Now()
	return nil
}

// SubscribeResource records a subscribed resource URI.
func (s *Session) SubscribeResource(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribedURIs[uri] = true
}

// UnsubscribeResource removes a subscribed resource URI.
func (s *Session) UnsubscribeResource(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribedURIs, uri)
}

// SubscribedResources returns a snapshot of subscribed URIs.
func (s *Session) SubscribedResources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscribedURIs))
	for uri := range s.subscribedURIs {
		out = append(out, uri)
	}
	return out
}

// Close transitions the session to Closed; idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

func intersect(a, b map[string]bool) map[string]bool {
	out := map[string]bool{}
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}
