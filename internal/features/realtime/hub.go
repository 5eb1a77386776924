package realtime

import (
	"sync"
	"time"

	"go-gridboard/internal/features/layout"

	"go.uber.org/zap"
)

// Session is one live connection, tagged with its tenant and user after
// the handshake. Outbound frames go through a buffered channel drained by
// the connection's writer goroutine so fan-out never blocks on a slow peer.
type Session struct {
	ID       string
	TenantID string
	UserID   string
	Out      chan Envelope

	mu      sync.Mutex
	closed  bool
	layouts map[string]struct{}
}

func NewSession(id, tenantID, userID string) *Session {
	return &Session{
		ID:       id,
		TenantID: tenantID,
		UserID:   userID,
		Out:      make(chan Envelope, 64),
		layouts:  map[string]struct{}{},
	}
}

// push delivers best-effort: a full buffer drops the frame rather than
// stalling every other session in the room.
func (s *Session) push(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.Out <- env:
	default:
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.Out)
}

type tenantRoom struct {
	sessions map[string]*Session            // session id -> session
	layouts  map[string]map[string]*Session // layout id -> member sessions
}

// Hub is the room registry: tenant rooms with layout sub-rooms. It is
// injected as a constructor dependency, never reached through globals, and
// all membership mutation happens under its mutex. Broadcast lookup starts
// at the tenant, so delivery cannot cross tenant boundaries regardless of
// layout id collisions.
type Hub struct {
	mu      sync.Mutex
	tenants map[string]*tenantRoom
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		tenants: map[string]*tenantRoom{},
		logger:  logger,
	}
}

func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.tenants[s.TenantID]
	if room == nil {
		room = &tenantRoom{
			sessions: map[string]*Session{},
			layouts:  map[string]map[string]*Session{},
		}
		h.tenants[s.TenantID] = room
	}
	room.sessions[s.ID] = s
}

// Unregister drops the session from its tenant room and every layout
// sub-room, discarding rooms that become empty.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	room := h.tenants[s.TenantID]
	if room != nil {
		delete(room.sessions, s.ID)
		for layoutID := range s.layouts {
			if members := room.layouts[layoutID]; members != nil {
				delete(members, s.ID)
				if len(members) == 0 {
					delete(room.layouts, layoutID)
				}
			}
		}
		if len(room.sessions) == 0 {
			delete(h.tenants, s.TenantID)
		}
	}
	h.mu.Unlock()

	s.close()
}

func (h *Hub) Subscribe(s *Session, layoutID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.tenants[s.TenantID]
	if room == nil || room.sessions[s.ID] == nil {
		return
	}
	members := room.layouts[layoutID]
	if members == nil {
		members = map[string]*Session{}
		room.layouts[layoutID] = members
	}
	members[s.ID] = s
	s.layouts[layoutID] = struct{}{}
}

func (h *Hub) Unsubscribe(s *Session, layoutID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.tenants[s.TenantID]
	if room == nil {
		return
	}
	if members := room.layouts[layoutID]; members != nil {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(room.layouts, layoutID)
		}
	}
	delete(s.layouts, layoutID)
}

// RegionChanged implements layout.Broadcaster.
func (h *Hub) RegionChanged(tenantID, layoutID string, region *layout.Region, actorSessionID string) {
	h.fanOut(tenantID, layoutID, actorSessionID, Envelope{
		Event: EventRegionChanged,
		Data: RegionChangedPayload{
			LayoutID:       layoutID,
			Region:         region,
			ActorSessionID: actorSessionID,
		},
	})
}

// RegionRemoved implements layout.Broadcaster.
func (h *Hub) RegionRemoved(tenantID, layoutID, regionID, actorSessionID string) {
	h.fanOut(tenantID, layoutID, actorSessionID, Envelope{
		Event: EventRegionRemoved,
		Data: RegionRemovedPayload{
			LayoutID:       layoutID,
			RegionID:       regionID,
			ActorSessionID: actorSessionID,
		},
	})
}

// LayoutReset implements layout.Broadcaster.
func (h *Hub) LayoutReset(tenantID, layoutID, actorSessionID string) {
	h.fanOut(tenantID, layoutID, actorSessionID, Envelope{
		Event: EventLayoutReset,
		Data: LayoutResetPayload{
			LayoutID:       layoutID,
			ActorSessionID: actorSessionID,
		},
	})
}

// fanOut delivers to every member of the layout sub-room except the actor.
func (h *Hub) fanOut(tenantID, layoutID, actorSessionID string, env Envelope) {
	h.mu.Lock()
	room := h.tenants[tenantID]
	var targets []*Session
	if room != nil {
		for id, member := range room.layouts[layoutID] {
			if id == actorSessionID {
				continue
			}
			targets = append(targets, member)
		}
	}
	h.mu.Unlock()

	for _, member := range targets {
		member.push(env)
	}
}

// Heartbeat broadcasts tenant-wide liveness; telemetry only, layout sync
// does not depend on it.
func (h *Hub) Heartbeat(now time.Time) {
	h.mu.Lock()
	type target struct {
		sessions []*Session
		count    int
	}
	targets := make([]target, 0, len(h.tenants))
	for _, room := range h.tenants {
		t := target{count: len(room.sessions)}
		for _, s := range room.sessions {
			t.sessions = append(t.sessions, s)
		}
		targets = append(targets, t)
	}
	h.mu.Unlock()

	for _, t := range targets {
		env := Envelope{
			Event: EventHeartbeat,
			Data:  HeartbeatPayload{Timestamp: now, Connections: t.count},
		}
		for _, s := range t.sessions {
			s.push(env)
		}
	}
}

// ConnectionCount reports live sessions for a tenant.
func (h *Hub) ConnectionCount(tenantID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.tenants[tenantID]
	if room == nil {
		return 0
	}
	return len(room.sessions)
}
