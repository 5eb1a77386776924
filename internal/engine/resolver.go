package engine

import (
	"sync"
	"time"

	"go-gridboard/internal/common/apperr"
	"go-gridboard/internal/features/layout"

	"go.uber.org/zap"
)

// Resolution is the explicit choice applied to a conflicted region.
// Exactly one resolution applies per conflict; resolving one region never
// auto-resolves another.
type Resolution int

const (
	// AcceptRemote discards the local divergence and adopts the server state.
	AcceptRemote Resolution = iota
	// KeepLocal re-submits the local state with a fresh token, superseding
	// the remote change.
	KeepLocal
	// RejectBoth reverts the region to its pre-conflict snapshot and
	// re-submits that, discarding both sides' changes.
	RejectBoth
)

// Conflict is the ephemeral record of a divergence between the session's
// local region state and the authority's canonical state. It exists only
// while unresolved and is never persisted.
type Conflict struct {
	RegionID   string
	Local      *layout.Region
	Remote     *layout.Region
	DetectedAt time.Time
}

// Resolver owns the per-region conflict table and the
// Clean -> Conflicted -> Clean state machine around it.
type Resolver struct {
	mu        sync.Mutex
	conflicts map[string]*Conflict

	store   *Store
	gateway *Gateway
	logger  *zap.Logger
}

func newResolver(store *Store, logger *zap.Logger) *Resolver {
	return &Resolver{
		conflicts: map[string]*Conflict{},
		store:     store,
		logger:    logger,
	}
}

// Conflicts returns a copy of the open conflict set for display.
func (r *Resolver) Conflicts() []Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conflict, 0, len(r.conflicts))
	for _, c := range r.conflicts {
		cp := Conflict{RegionID: c.RegionID, DetectedAt: c.DetectedAt}
		if c.Local != nil {
			cp.Local = c.Local.Clone()
		}
		if c.Remote != nil {
			cp.Remote = c.Remote.Clone()
		}
		out = append(out, cp)
	}
	return out
}

// record registers a conflict, or refreshes the remote side of an existing
// one. Conflicts are additive per region: a second remote change while
// already conflicted never creates a second entry.
func (r *Resolver) record(regionID string, local, remote *layout.Region) {
	r.mu.Lock()
	if existing, ok := r.conflicts[regionID]; ok {
		existing.Remote = remote
		r.mu.Unlock()
		return
	}
	r.conflicts[regionID] = &Conflict{
		RegionID:   regionID,
		Local:      local,
		Remote:     remote,
		DetectedAt: time.Now(),
	}
	r.mu.Unlock()

	r.store.mu.Lock()
	r.store.setStateLocked(regionID, StateConflicted)
	r.store.mu.Unlock()

	r.logger.Info("region conflict detected", zap.String("region", regionID))
}

// Resolve applies the chosen resolution and returns the region to the
// normal sync cycle. Saves for the region resume afterwards.
func (r *Resolver) Resolve(regionID string, resolution Resolution) error {
	r.mu.Lock()
	c, ok := r.conflicts[regionID]
	if !ok {
		r.mu.Unlock()
		return apperr.NotFoundf("no open conflict for region %s", regionID)
	}
	delete(r.conflicts, regionID)
	r.mu.Unlock()

	switch resolution {
	case AcceptRemote:
		r.store.mu.Lock()
		if c.Remote != nil {
			r.store.regions[regionID] = c.Remote.Clone()
			r.store.tokens[regionID] = c.Remote.UpdatedAt
			r.store.baseline[regionID] = c.Remote.Clone()
		} else {
			delete(r.store.regions, regionID)
		}
		r.store.setStateLocked(regionID, StateClean)
		r.store.mu.Unlock()

	case KeepLocal:
		r.store.mu.Lock()
		r.store.regions[regionID] = c.Local.Clone()
		if c.Remote != nil {
			// Fresh token: the re-submit supersedes the remote change.
			r.store.tokens[regionID] = c.Remote.UpdatedAt
		}
		r.store.setStateLocked(regionID, StateDirty)
		r.store.mu.Unlock()
		r.gateway.Flush(regionID)

	case RejectBoth:
		r.store.mu.Lock()
		if base, ok := r.store.baseline[regionID]; ok {
			r.store.regions[regionID] = base.Clone()
		} else {
			delete(r.store.regions, regionID)
		}
		if c.Remote != nil {
			r.store.tokens[regionID] = c.Remote.UpdatedAt
		}
		r.store.setStateLocked(regionID, StateDirty)
		r.store.mu.Unlock()
		r.gateway.Flush(regionID)

	default:
		// Re-register so the conflict is not lost on a bad input.
		r.record(regionID, c.Local, c.Remote)
		return apperr.Validationf("unknown resolution %d", resolution)
	}

	r.logger.Info("region conflict resolved",
		zap.String("region", regionID), zap.Int("resolution", int(resolution)))
	return nil
}

// noteRemote handles a broadcast landing on a region that is locally dirty:
// the remote side of the (existing or new) conflict is refreshed.
func (r *Resolver) noteRemote(regionID string, remote *layout.Region) {
	r.store.mu.Lock()
	local := r.store.regions[regionID]
	var localCopy *layout.Region
	if local != nil {
		localCopy = local.Clone()
	}
	r.store.mu.Unlock()

	r.record(regionID, localCopy, remote)
}

// clearStale drops conflict entries for regions that no longer hold
// pending local mutations, used after a reconnect resync.
func (r *Resolver) clearStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.conflicts {
		if !r.storeDirtyOrConflicted(id) {
			delete(r.conflicts, id)
		}
	}
}

func (r *Resolver) storeDirtyOrConflicted(id string) bool {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	st := r.store.states[id]
	return st == StateDirty || st == StateConflicted
}
