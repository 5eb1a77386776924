package engine

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"go-gridboard/internal/common/apperr"
	"go-gridboard/internal/features/layout"
	"go-gridboard/pkg/grid"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SyncState tracks where a region sits in the optimistic-apply/reconcile
// cycle. All transitions funnel through Store.setState.
type SyncState int

const (
	StateClean SyncState = iota
	StateDirty
	StateConflicted
)

const tempIDPrefix = "tmp-"
const maxUndoDepth = 100

type snapshot map[string]*layout.Region

// pendingOp is an operation issued against a temporary region id before the
// authority acknowledged the add; it is replayed against the final id.
type pendingOp struct {
	remove bool
}

// Store holds the session's canonical in-memory region collection for one
// open layout, the undo/redo stacks, and the per-region sync state. Every
// mutation serializes through its mutex.
type Store struct {
	mu sync.Mutex

	layoutID string
	cols     int
	actor    string

	regions  map[string]*layout.Region
	states   map[string]SyncState
	tokens   map[string]time.Time      // last server-confirmed version token
	baseline map[string]*layout.Region // last-known-good server copy
	lastErr  map[string]error
	epochs   map[string]uint64 // bumped per dirty transition, detects in-flight races

	undo []snapshot
	redo []snapshot

	temp    map[string]bool
	pending map[string][]pendingOp
	limbo   map[string]*layout.Region // removed while the initial add is still unsent

	gateway *Gateway
	logger  *zap.Logger
}

func newStore(layoutID string, cols int, actor string, logger *zap.Logger) *Store {
	return &Store{
		layoutID: layoutID,
		cols:     cols,
		actor:    actor,
		regions:  map[string]*layout.Region{},
		states:   map[string]SyncState{},
		tokens:   map[string]time.Time{},
		baseline: map[string]*layout.Region{},
		lastErr:  map[string]error{},
		epochs:   map[string]uint64{},
		temp:     map[string]bool{},
		pending:  map[string][]pendingOp{},
		limbo:    map[string]*layout.Region{},
		logger:   logger,
	}
}

// Snapshot returns a deep copy of the live region collection, the read
// model the renderer consumes.
func (s *Store) Snapshot() map[string]*layout.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.regions)
}

// Region returns a copy of one region, or nil.
func (s *Store) Region(id string) *layout.Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.regions[id]; ok {
		return r.Clone()
	}
	return nil
}

func (s *Store) IsDirty(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[id] == StateDirty
}

func (s *Store) IsConflicted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[id] == StateConflicted
}

// LastError reports the most recent terminal or retry-exhausted failure
// for a region, surfaced so the UI can flag unsaved state.
func (s *Store) LastError(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr[id]
}

// Add creates a region optimistically and returns its temporary id. The id
// is swapped for the authority-issued one once the commit resolves.
func (s *Store) Add(regionType layout.RegionType, title string, p *grid.Placement) (string, error) {
	s.mu.Lock()

	placement := grid.Placement{RowSpan: 1, ColSpan: 1}
	if p != nil {
		placement = p.Normalize()
	}
	if p == nil {
		placement = grid.FirstFree(s.cols, s.placed(""), 1, 1)
	} else if err := grid.Validate(s.cols, s.placed(""), "", placement); err != nil {
		s.mu.Unlock()
		return "", apperr.Validationf("%v", err)
	}

	id := tempIDPrefix + uuid.NewString()
	region := &layout.Region{
		ID:         id,
		LayoutID:   s.layoutID,
		Type:       regionType,
		Title:      title,
		Placement:  placement,
		ModifiedBy: s.actor,
	}

	s.pushUndoLocked()
	s.regions[id] = region
	s.temp[id] = true
	s.setStateLocked(id, StateDirty)
	s.mu.Unlock()

	s.gateway.ScheduleCommit(id)
	return id, nil
}

// Move repositions a region, keeping its spans.
func (s *Store) Move(id string, row, col int) error {
	return s.mutate(id, func(r *layout.Region) error {
		p := r.Placement
		p.Row, p.Col = row, col
		if err := grid.Validate(s.cols, s.placed(id), id, p); err != nil {
			return apperr.Validationf("%v", err)
		}
		r.Placement = p
		return nil
	})
}

// Resize changes a region's spans in place.
func (s *Store) Resize(id string, rowSpan, colSpan int) error {
	return s.mutate(id, func(r *layout.Region) error {
		p := r.Placement
		p.RowSpan, p.ColSpan = rowSpan, colSpan
		if err := grid.Validate(s.cols, s.placed(id), id, p); err != nil {
			return apperr.Validationf("%v", err)
		}
		r.Placement = p
		return nil
	})
}

// ToggleCollapse flips the collapsed flag, maintaining the pre-collapse
// placement ledger so expansion restores the remembered rectangle.
func (s *Store) ToggleCollapse(id string) error {
	return s.mutate(id, func(r *layout.Region) error {
		if !r.IsCollapsed {
			pc := r.Placement
			r.PreCollapse = &pc
			r.IsCollapsed = true
			return nil
		}
		restore := r.Placement
		if r.PreCollapse != nil {
			restore = *r.PreCollapse
		}
		if grid.Validate(s.cols, s.placed(id), id, restore) != nil {
			restore = grid.FirstFree(s.cols, s.placed(id), restore.RowSpan, restore.ColSpan)
		}
		r.Placement = restore
		r.PreCollapse = nil
		r.IsCollapsed = false
		return nil
	})
}

// ToggleLock acquires or releases the region lock for this session's user.
func (s *Store) ToggleLock(id string) error {
	return s.mutate(id, func(r *layout.Region) error {
		if r.IsLocked {
			if r.LockedBy != s.actor {
				return &apperr.LockedError{RegionID: id, LockedBy: r.LockedBy}
			}
			r.IsLocked = false
			r.LockedBy = ""
			return nil
		}
		r.IsLocked = true
		r.LockedBy = s.actor
		return nil
	})
}

// Update applies partial field changes (title, config, widget settings).
func (s *Store) Update(id string, fn func(r *layout.Region)) error {
	return s.mutate(id, func(r *layout.Region) error {
		fn(r)
		return nil
	})
}

// Remove deletes a region. Removal of a still-temporary region is queued
// behind the pending add so the authority never sees a dangling delete.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	r, ok := s.regions[id]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFoundf("region %s", id)
	}
	if r.IsLocked && r.LockedBy != s.actor {
		s.mu.Unlock()
		return &apperr.LockedError{RegionID: id, LockedBy: r.LockedBy}
	}

	s.pushUndoLocked()
	delete(s.regions, id)

	if s.temp[id] {
		// The add has not been acknowledged yet: the gateway still needs the
		// region body to send it, so the remove is queued behind it and
		// replayed against the authority-issued id.
		s.limbo[id] = r
		s.pending[id] = append(s.pending[id], pendingOp{remove: true})
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(id, StateDirty)
	s.mu.Unlock()

	s.gateway.ScheduleRemove(id)
	return nil
}

// Undo pops the most recent snapshot as the live state and pushes the state
// it replaced onto the redo stack. Returns false when the stack is empty.
// The restored regions re-enter the normal persistence path.
func (s *Store) Undo() bool {
	return s.restoreFromStack(&s.undo, &s.redo)
}

// Redo is symmetric to Undo.
func (s *Store) Redo() bool {
	return s.restoreFromStack(&s.redo, &s.undo)
}

// PushUndoSnapshot records the current live state, used by version revert
// so the revert itself is undoable.
func (s *Store) PushUndoSnapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushUndoLocked()
}

func (s *Store) restoreFromStack(from, to *[]snapshot) bool {
	s.mu.Lock()
	if len(*from) == 0 {
		s.mu.Unlock()
		return false
	}

	restored := (*from)[len(*from)-1]
	*from = (*from)[:len(*from)-1]
	*to = append(*to, cloneSnapshot(s.regions))

	prior := s.regions
	s.regions = cloneSnapshot(restored)

	var commits, removes []string
	for id, r := range prior {
		if _, kept := s.regions[id]; !kept {
			if s.temp[id] {
				s.limbo[id] = r
				s.pending[id] = append(s.pending[id], pendingOp{remove: true})
				continue
			}
			removes = append(removes, id)
			s.setStateLocked(id, StateDirty)
		}
	}
	for id, r := range s.regions {
		old, existed := prior[id]
		if !existed || !regionsEqual(old, r) {
			if !existed && s.temp[id] {
				// Restored before the add ever resolved: the queued remove
				// no longer applies.
				delete(s.pending, id)
				delete(s.limbo, id)
			}
			commits = append(commits, id)
			s.setStateLocked(id, StateDirty)
		}
	}
	s.mu.Unlock()

	for _, id := range removes {
		s.gateway.ScheduleRemove(id)
	}
	for _, id := range commits {
		s.gateway.ScheduleCommit(id)
	}
	return true
}

// mutate runs the common mutation pipeline: lock check, op-specific change
// (including validation), undo snapshot, dirty transition, debounced save.
func (s *Store) mutate(id string, fn func(r *layout.Region) error) error {
	s.mu.Lock()
	r, ok := s.regions[id]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFoundf("region %s", id)
	}
	if r.IsLocked && r.LockedBy != s.actor {
		s.mu.Unlock()
		return &apperr.LockedError{RegionID: id, LockedBy: r.LockedBy}
	}

	updated := r.Clone()
	if err := fn(updated); err != nil {
		s.mu.Unlock()
		return err
	}

	s.pushUndoLocked()
	updated.ModifiedBy = s.actor
	s.regions[id] = updated
	s.setStateLocked(id, StateDirty)
	s.mu.Unlock()

	s.gateway.ScheduleCommit(id)
	return nil
}

// pushUndoLocked records the pre-mutation state and clears redo.
func (s *Store) pushUndoLocked() {
	s.undo = append(s.undo, cloneSnapshot(s.regions))
	if len(s.undo) > maxUndoDepth {
		s.undo = s.undo[1:]
	}
	s.redo = nil
}

func (s *Store) setStateLocked(id string, state SyncState) {
	s.states[id] = state
	if state == StateDirty {
		s.epochs[id]++
	}
	if state == StateClean {
		delete(s.lastErr, id)
	}
}

func (s *Store) placed(excludeID string) []grid.PlacedRegion {
	out := make([]grid.PlacedRegion, 0, len(s.regions))
	for id, r := range s.regions {
		if id == excludeID {
			continue
		}
		out = append(out, r.Placed())
	}
	return out
}

func isTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

func cloneSnapshot(m map[string]*layout.Region) snapshot {
	out := make(snapshot, len(m))
	for id, r := range m {
		out[id] = r.Clone()
	}
	return out
}

func regionsEqual(a, b *layout.Region) bool {
	if a.Placement != b.Placement ||
		a.IsLocked != b.IsLocked ||
		a.LockedBy != b.LockedBy ||
		a.IsCollapsed != b.IsCollapsed ||
		a.Title != b.Title ||
		a.Type != b.Type ||
		a.WidgetType != b.WidgetType {
		return false
	}
	if (a.PreCollapse == nil) != (b.PreCollapse == nil) {
		return false
	}
	if a.PreCollapse != nil && *a.PreCollapse != *b.PreCollapse {
		return false
	}
	// Config values come from decoded JSON and may hold nested maps and
	// slices, so they are not comparable with ==.
	return reflect.DeepEqual(a.Config, b.Config) &&
		reflect.DeepEqual(a.WidgetConfig, b.WidgetConfig)
}
