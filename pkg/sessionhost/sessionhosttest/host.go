// Package sessionhosttest provides an in-memory session host for tests.
package sessionhosttest

import (
	"context"
	"sync"

	"github.com/cuemby/sessionsync/pkg/sessionhost"
	"github.com/cuemby/sessionsync/pkg/types"
)

// Call records one operation made against the fake host
type Call struct {
	Op        string
	SessionID string
}

// Host is a sessionhost.Client backed by a map. Failures are injected per
// operation and session; anything not injected succeeds.
type Host struct {
	mu        sync.Mutex
	order     []string
	sessions  map[string]types.RemoteSession
	unhealthy bool
	failures  map[Call]error
	probes    map[string]*sessionhost.SessionState
	calls     []Call

	// OnCreate runs before a successful create is stored
	OnCreate func(sessionID string, cfg sessionhost.SessionConfig)
}

var _ sessionhost.Client = (*Host)(nil)

// NewHost returns a healthy host holding sessions in the given order
func NewHost(sessions ...types.RemoteSession) *Host {
	h := &Host{
		sessions: make(map[string]types.RemoteSession),
		failures: make(map[Call]error),
		probes:   make(map[string]*sessionhost.SessionState),
	}
	for _, s := range sessions {
		h.Put(s)
	}
	return h
}

// Put adds or replaces a session
func (h *Host) Put(s types.RemoteSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.order = append(h.order, s.ID)
	}
	h.sessions[s.ID] = s
}

// Has reports whether the host holds sessionID
func (h *Host) Has(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[sessionID]
	return ok
}

// Session returns the stored session
func (h *Host) Session(sessionID string) (types.RemoteSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	return s, ok
}

// SetHealthy controls whether ListSessions succeeds
func (h *Host) SetHealthy(healthy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unhealthy = !healthy
}

// Fail makes op on sessionID return err. An empty sessionID matches any
// session for that op; a nil err clears the failure.
func (h *Host) Fail(op, sessionID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := Call{Op: op, SessionID: sessionID}
	if err == nil {
		delete(h.failures, key)
		return
	}
	h.failures[key] = err
}

// SetProbe overrides what SendProbe reports for sessionID
func (h *Host) SetProbe(sessionID string, state *sessionhost.SessionState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[sessionID] = state
}

// Calls returns every recorded call
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// CallCount counts calls of op
func (h *Host) CallCount(op string) int {
	n := 0
	for _, c := range h.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (h *Host) ListSessions(ctx context.Context) ([]types.RemoteSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, Call{Op: sessionhost.OpListSessions})

	if h.unhealthy || ctx.Err() != nil {
		return nil, false
	}
	sessions := make([]types.RemoteSession, 0, len(h.order))
	for _, id := range h.order {
		if s, ok := h.sessions[id]; ok {
			sessions = append(sessions, s)
		}
	}
	return sessions, true
}

func (h *Host) GetSessionStatus(ctx context.Context, sessionID string) (*sessionhost.SessionState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record(sessionhost.OpGetStatus, sessionID); err != nil {
		return nil, err
	}
	return h.state(sessionhost.OpGetStatus, sessionID)
}

func (h *Host) CreateSession(ctx context.Context, sessionID string, cfg sessionhost.SessionConfig) (*sessionhost.SessionState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record(sessionhost.OpCreate, sessionID); err != nil {
		return nil, err
	}
	if _, exists := h.sessions[sessionID]; exists {
		return nil, &sessionhost.HostError{Op: sessionhost.OpCreate, SessionID: sessionID, Code: sessionhost.CodeAlreadyExists, StatusCode: 409}
	}
	if h.OnCreate != nil {
		h.OnCreate(sessionID, cfg)
	}
	h.order = append(h.order, sessionID)
	h.sessions[sessionID] = types.RemoteSession{ID: sessionID, RawStatus: "connecting"}
	return &sessionhost.SessionState{ID: sessionID, Status: "connecting"}, nil
}

func (h *Host) DeleteSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record(sessionhost.OpDelete, sessionID); err != nil {
		return err
	}
	if _, exists := h.sessions[sessionID]; !exists {
		return notFound(sessionhost.OpDelete, sessionID)
	}
	delete(h.sessions, sessionID)
	return nil
}

func (h *Host) SendProbe(ctx context.Context, sessionID string) (*sessionhost.SessionState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.record(sessionhost.OpProbe, sessionID); err != nil {
		return nil, err
	}
	if state, ok := h.probes[sessionID]; ok {
		if state == nil {
			return nil, notFound(sessionhost.OpProbe, sessionID)
		}
		copied := *state
		return &copied, nil
	}
	return h.state(sessionhost.OpProbe, sessionID)
}

// record appends the call and returns an injected failure; h.mu is held
func (h *Host) record(op, sessionID string) error {
	h.calls = append(h.calls, Call{Op: op, SessionID: sessionID})
	if err, ok := h.failures[Call{Op: op, SessionID: sessionID}]; ok {
		return err
	}
	if err, ok := h.failures[Call{Op: op}]; ok {
		return err
	}
	return nil
}

func (h *Host) state(op, sessionID string) (*sessionhost.SessionState, error) {
	s, ok := h.sessions[sessionID]
	if !ok {
		return nil, notFound(op, sessionID)
	}
	return &sessionhost.SessionState{ID: s.ID, Status: s.RawStatus, Phone: s.Phone, ProfileName: s.ProfileName}, nil
}

func notFound(op, sessionID string) error {
	return &sessionhost.HostError{Op: op, SessionID: sessionID, Code: sessionhost.CodeNotFound, StatusCode: 404}
}

// TransportError builds the error a timed-out host call returns
func TransportError(op, sessionID string) error {
	return &sessionhost.HostError{Op: op, SessionID: sessionID, Code: sessionhost.CodeTimeout, Err: context.DeadlineExceeded}
}
