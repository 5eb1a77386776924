package realtime

import (
	"context"
	"sync"

	"go-gridboard/internal/common/apperr"
	"go-gridboard/internal/engine"
	"go-gridboard/internal/features/layout"
	"go-gridboard/pkg/utils"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type WebSocketController struct {
	Hub      *Hub
	Sessions *engine.Factory
	Logger   *zap.Logger
}

func NewWebSocketController(hub *Hub, sessions *engine.Factory, logger *zap.Logger) *WebSocketController {
	return &WebSocketController{
		Hub:      hub,
		Sessions: sessions,
		Logger:   logger,
	}
}

// editorSet is the per-connection registry of engine sessions, one per
// subscribed layout. The reader loop and the writer goroutine both touch it.
type editorSet struct {
	mu       sync.Mutex
	byLayout map[string]*engine.Session
}

func newEditorSet() *editorSet {
	return &editorSet{byLayout: map[string]*engine.Session{}}
}

func (e *editorSet) get(layoutID string) *engine.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.byLayout[layoutID]
}

func (e *editorSet) put(layoutID string, s *engine.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byLayout[layoutID] = s
}

func (e *editorSet) drop(layoutID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.byLayout, layoutID)
}

// HandleWebSocket runs one connection's lifetime: handshake identity was
// validated by the upgrade middleware, so here we register, announce, and
// pump messages until the peer goes away. Each subscribed layout gets an
// engine session so edit commands run through the same optimistic-apply and
// reconcile cycle as any other client.
func (h *WebSocketController) HandleWebSocket(c *websocket.Conn) {
	claims, ok := c.Locals(utils.UserClaimsKey).(*utils.UserClaims)
	if !ok || claims == nil {
		// Upgrade middleware should have refused already; close defensively.
		c.Close()
		return
	}

	session := NewSession(uuid.NewString(), claims.TenantID, claims.UserID)
	h.Hub.Register(session)
	defer h.Hub.Unregister(session)

	editors := newEditorSet()

	session.push(Envelope{
		Event: EventConnected,
		Data:  ConnectedPayload{SessionID: session.ID, TenantID: session.TenantID},
	})

	// Writer: the only goroutine touching the connection's write side.
	// Broadcast frames are applied to the matching engine session on the way
	// out so the server-side mirror never drifts from what the client sees.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range session.Out {
			h.applyBroadcast(editors, env)
			if err := c.WriteJSON(env); err != nil {
				h.Logger.Debug("websocket write failed",
					zap.String("session", session.ID), zap.Error(err))
				return
			}
		}
	}()

	for {
		var cmd ClientCommand
		if err := c.ReadJSON(&cmd); err != nil {
			break
		}
		switch cmd.Event {
		case EventSubscribe:
			if cmd.LayoutID == "" {
				continue
			}
			if editors.get(cmd.LayoutID) == nil {
				ed, err := h.Sessions.Open(context.Background(), cmd.LayoutID, claims.UserID, session.ID)
				if err != nil {
					session.push(Envelope{Event: EventEditRejected, Data: EditRejectedPayload{
						LayoutID: cmd.LayoutID, Error: err.Error(),
					}})
					continue
				}
				editors.put(cmd.LayoutID, ed)
			}
			h.Hub.Subscribe(session, cmd.LayoutID)
		case EventUnsubscribe:
			if cmd.LayoutID == "" {
				continue
			}
			h.Hub.Unsubscribe(session, cmd.LayoutID)
			editors.drop(cmd.LayoutID)
		case EventRegionAdd, EventRegionMove, EventRegionResize, EventRegionCollapse,
			EventRegionLock, EventRegionRemove, EventUndo, EventRedo, EventResolve:
			h.handleEdit(session, editors, cmd)
		default:
			h.Logger.Debug("unknown websocket command",
				zap.String("session", session.ID), zap.String("event", cmd.Event))
		}
	}

	h.Hub.Unregister(session)
	<-done
}

// handleEdit dispatches one edit command into the layout's engine session and
// answers with an ack or a rejection frame.
func (h *WebSocketController) handleEdit(s *Session, editors *editorSet, cmd ClientCommand) {
	ed := editors.get(cmd.LayoutID)
	if ed == nil {
		s.push(Envelope{Event: EventEditRejected, Data: EditRejectedPayload{
			LayoutID: cmd.LayoutID, Error: "not subscribed to layout",
		}})
		return
	}

	regionID := cmd.RegionID
	var err error
	switch cmd.Event {
	case EventRegionAdd:
		regionID, err = ed.Store.Add(layout.RegionType(cmd.RegionType), cmd.Title, cmd.Placement)
	case EventRegionMove:
		if cmd.Placement == nil {
			err = apperr.Validationf("move requires a placement")
		} else {
			err = ed.Store.Move(cmd.RegionID, cmd.Placement.Row, cmd.Placement.Col)
		}
	case EventRegionResize:
		if cmd.Placement == nil {
			err = apperr.Validationf("resize requires a placement")
		} else {
			err = ed.Store.Resize(cmd.RegionID, cmd.Placement.RowSpan, cmd.Placement.ColSpan)
		}
	case EventRegionCollapse:
		err = ed.Store.ToggleCollapse(cmd.RegionID)
	case EventRegionLock:
		err = ed.Store.ToggleLock(cmd.RegionID)
	case EventRegionRemove:
		err = ed.Store.Remove(cmd.RegionID)
	case EventUndo:
		if !ed.Store.Undo() {
			err = apperr.Validationf("nothing to undo")
		}
	case EventRedo:
		if !ed.Store.Redo() {
			err = apperr.Validationf("nothing to redo")
		}
	case EventResolve:
		err = resolveConflict(ed, cmd)
	}
	if err != nil {
		s.push(Envelope{Event: EventEditRejected, Data: EditRejectedPayload{
			LayoutID: cmd.LayoutID, RegionID: cmd.RegionID, Error: err.Error(),
		}})
		return
	}

	ack := EditAckPayload{LayoutID: cmd.LayoutID, RegionID: regionID}
	if regionID != "" {
		ack.Region = ed.Store.Region(regionID)
	}
	s.push(Envelope{Event: EventEditAck, Data: ack})
}

func resolveConflict(ed *engine.Session, cmd ClientCommand) error {
	var res engine.Resolution
	switch cmd.Resolution {
	case "accept-remote":
		res = engine.AcceptRemote
	case "keep-local":
		res = engine.KeepLocal
	case "reject-both":
		res = engine.RejectBoth
	default:
		return apperr.Validationf("unknown resolution %q", cmd.Resolution)
	}
	return ed.Resolver.Resolve(cmd.RegionID, res)
}

// applyBroadcast feeds a frame from another session into the matching engine
// session before it goes out on the wire.
func (h *WebSocketController) applyBroadcast(editors *editorSet, env Envelope) {
	switch data := env.Data.(type) {
	case RegionChangedPayload:
		if ed := editors.get(data.LayoutID); ed != nil {
			ed.ApplyRemote(data.Region, data.ActorSessionID)
		}
	case RegionRemovedPayload:
		if ed := editors.get(data.LayoutID); ed != nil {
			ed.RemoveRemote(data.RegionID, data.ActorSessionID)
		}
	case LayoutResetPayload:
		if ed := editors.get(data.LayoutID); ed != nil {
			if err := ed.ResetRemote(context.Background(), data.ActorSessionID); err != nil {
				h.Logger.Warn("resync after layout reset failed",
					zap.String("layout", data.LayoutID), zap.Error(err))
			}
		}
	}
}
