package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_InitializeComputesCapabilityIntersection(t *testing.T) {
	s := newSession("stdio", 0)
	gatewayCaps := map[string]bool{"tools": true, "resources": true, "sampling": false}
	clientCaps := map[string]bool{"tools": true, "resources": false}

	err := s.Initialize("2025-06-18", ClientInfo{Name: "test-client"}, gatewayCaps, clientCaps)
	require.NoError(t, err)

	caps := s.Capabilities()
	assert.True(t, caps["tools"])
	assert.False(t, caps["resources"])
	assert.False(t, caps["sampling"])
	assert.Equal(t, StateInitialized, s.State())
}

func TestSession_InitializeTwiceFails(t *testing.T) {
	s := newSession("stdio", 0)
	require.NoError(t, s.Initialize("v1", ClientInfo{}, nil, nil))
	err := s.Initialize("v1", ClientInfo{}, nil, nil)
	assert.Error(t, err)
}

func TestSession_BeginCallRejectedBeforeInitialize(t *testing.T) {
	s := newSession("stdio", 0)
	err := s.BeginCall("req-1")
	assert.Error(t, err)
}

func TestSession_BeginCallRejectsDuplicateRequestID(t *testing.T) {
	s := newSession("stdio", 0)
	require.NoError(t, s.Initialize("v1", ClientInfo{}, nil, nil))

	require.NoError(t, s.BeginCall("req-1"))
	err := s.BeginCall("req-1")
	assert.Error(t, err)

	require.NoError(t, s.BeginCall("req-2"))
	assert.Equal(t, StateActive, s.State())
}

func TestSession_TouchRevivesFromIdle(t *testing.T) {
	s := newSession("stdio", 0)
	require.NoError(t, s.Initialize("v1", ClientInfo{}, nil, nil))
	require.NoError(t, s.BeginCall("req-1"))
	s.MarkIdle()
	assert.Equal(t, StateIdle, s.State())
	s.Touch()
	assert.Equal(t, StateActive, s.State())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateOpen, StateInitialized))
	assert.True(t, CanTransition(StateInitialized, StateActive))
	assert.True(t, CanTransition(StateActive, StateIdle))
	assert.True(t, CanTransition(StateIdle, StateActive))
	assert.True(t, CanTransition(StateActive, StateClosed))
	assert.False(t, CanTransition(StateClosed, StateActive))
	assert.False(t, CanTransition(StateOpen, StateActive))
}

func TestLRUSet_EvictsOldestBeyondCapacity(t *testing.T) {
	s := newLRUSet(2)
	assert.True(t, s.addIfAbsent("a"))
	assert.True(t, s.addIfAbsent("b"))
	assert.True(t, s.addIfAbsent("c")) // evicts "a"
	assert.Equal(t, 2, s.len())

	assert.True(t, s.addIfAbsent("a"), "a was evicted so it should be acceptable again")
	assert.False(t, s.addIfAbsent("c"), "c is still tracked so it must be rejected as duplicate")
}

func TestManager_OpenEnforcesMaxSessions(t *testing.T) {
	m := NewManager(Config{MaxSessions: 1})
	_, err := m.Open("ws")
	require.NoError(t, err)
	_, err = m.Open("ws")
	assert.Error(t, err)
}

func TestManager_CloseRemovesSession(t *testing.T) {
	m := NewManager(Config{})
	s, err := m.Open("stdio")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count())

	m.Close(s.ID)
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, StateClosed, s.State())
	assert.Nil(t, m.Get(s.ID))
}

func TestManager_SweepIdlesThenExpiresSessions(t *testing.T) {
	m := NewManager(Config{InactivityTimeout: 20 * time.Millisecond})
	s, err := m.Open("ws")
	require.NoError(t, err)
	require.NoError(t, s.Initialize("v1", ClientInfo{}, nil, nil))

	time.Sleep(12 * time.Millisecond)
	m.sweep()
	assert.Equal(t, StateIdle, s.State(), "should idle past half the timeout")

	time.Sleep(15 * time.Millisecond)
	m.sweep()
	assert.Equal(t, 0, m.Count(), "should be evicted past the full timeout")
}

func TestManager_StartReaperStopsOnContextCancel(t *testing.T) {
	m := NewManager(Config{InactivityTimeout: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	m.StartReaper(ctx)
	cancel()
	m.Stop()
}
