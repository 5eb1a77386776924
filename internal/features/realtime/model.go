package realtime

import (
	"time"

	"go-gridboard/internal/features/layout"
	"go-gridboard/pkg/grid"
)

const (
	EventConnected     = "connected"
	EventSubscribe     = "subscribe"
	EventUnsubscribe   = "unsubscribe"
	EventRegionChanged = "region-changed"
	EventRegionRemoved = "region-removed"
	EventLayoutReset   = "layout-reset"
	EventHeartbeat     = "heartbeat"

	// Edit commands, applied through the connection's engine session.
	EventRegionAdd      = "region-add"
	EventRegionMove     = "region-move"
	EventRegionResize   = "region-resize"
	EventRegionCollapse = "region-collapse"
	EventRegionLock     = "region-lock"
	EventRegionRemove   = "region-remove"
	EventUndo           = "undo"
	EventRedo           = "redo"
	EventResolve        = "resolve-conflict"

	EventEditAck      = "edit-ack"
	EventEditRejected = "edit-rejected"
)

// Envelope is the frame every websocket message travels in.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ClientCommand is what a session may send after connecting.
type ClientCommand struct {
	Event      string          `json:"event"`
	LayoutID   string          `json:"layoutId,omitempty"`
	RegionID   string          `json:"regionId,omitempty"`
	RegionType string          `json:"regionType,omitempty"`
	Title      string          `json:"title,omitempty"`
	Placement  *grid.Placement `json:"placement,omitempty"`
	Resolution string          `json:"resolution,omitempty"`
}

type ConnectedPayload struct {
	SessionID string `json:"sessionId"`
	TenantID  string `json:"tenantId"`
}

type RegionChangedPayload struct {
	LayoutID       string         `json:"layoutId"`
	Region         *layout.Region `json:"region"`
	ActorSessionID string         `json:"actorSessionId"`
}

type RegionRemovedPayload struct {
	LayoutID       string `json:"layoutId"`
	RegionID       string `json:"regionId"`
	ActorSessionID string `json:"actorSessionId"`
}

type LayoutResetPayload struct {
	LayoutID       string `json:"layoutId"`
	ActorSessionID string `json:"actorSessionId"`
}

type HeartbeatPayload struct {
	Timestamp   time.Time `json:"timestamp"`
	Connections int       `json:"connections"`
}

type EditAckPayload struct {
	LayoutID string         `json:"layoutId"`
	RegionID string         `json:"regionId,omitempty"`
	Region   *layout.Region `json:"region,omitempty"`
}

type EditRejectedPayload struct {
	LayoutID string `json:"layoutId"`
	RegionID string `json:"regionId,omitempty"`
	Error    string `json:"error"`
}
