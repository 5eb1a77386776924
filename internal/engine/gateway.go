package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go-gridboard/internal/common/apperr"
	"go-gridboard/internal/features/layout"

	"github.com/bep/debounce"
	"go.uber.org/zap"
)

// Authority is the durable persistence authority the gateway commits
// through. In production it adapts the layout service; tests swap in fakes.
type Authority interface {
	AddRegion(ctx context.Context, layoutID string, region *layout.Region) (*layout.Region, error)
	CommitRegion(ctx context.Context, layoutID string, mutation layout.RegionMutation) (*layout.Region, error)
	RemoveRegion(ctx context.Context, layoutID, regionID string) error
	FetchRegions(ctx context.Context, layoutID string) ([]layout.Region, error)
}

// Gateway is the only engine component that talks to the authority. It
// coalesces rapid mutations to one region into a single commit carrying the
// latest values, serializes commits per region so they are never reordered,
// and routes conflicts to the resolver.
type Gateway struct {
	store     *Store
	resolver  *Resolver
	authority Authority

	window      time.Duration
	maxAttempts int
	backoffBase time.Duration
	timeout     time.Duration

	mu          sync.Mutex
	debouncers  map[string]func(func())
	regionLocks map[string]*sync.Mutex

	logger *zap.Logger
}

func newGateway(store *Store, authority Authority, window time.Duration, logger *zap.Logger) *Gateway {
	return &Gateway{
		store:       store,
		authority:   authority,
		window:      window,
		maxAttempts: 5,
		backoffBase: 200 * time.Millisecond,
		timeout:     10 * time.Second,
		debouncers:  map[string]func(func()){},
		regionLocks: map[string]*sync.Mutex{},
		logger:      logger,
	}
}

// ScheduleCommit queues a debounced save for the region. A conflicted
// region's saves stay halted until the conflict is resolved.
func (g *Gateway) ScheduleCommit(id string) {
	if g.store.IsConflicted(id) {
		return
	}
	g.debouncer(id)(func() {
		g.CommitNow(id)
	})
}

// ScheduleRemove queues a debounced delete.
func (g *Gateway) ScheduleRemove(id string) {
	g.debouncer(id)(func() {
		g.removeNow(id)
	})
}

// Flush commits a region immediately, bypassing the debounce window. Used
// by conflict resolution re-submits.
func (g *Gateway) Flush(id string) {
	go g.CommitNow(id)
}

func (g *Gateway) debouncer(id string) func(func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.debouncers[id]
	if !ok {
		d = debounce.New(g.window)
		g.debouncers[id] = d
	}
	return d
}

func (g *Gateway) regionLock(id string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.regionLocks[id]
	if !ok {
		l = &sync.Mutex{}
		g.regionLocks[id] = l
	}
	return l
}

// CommitNow pushes the region's current state to the authority. The
// per-region lock keeps commits for one region strictly ordered; different
// regions commit fully in parallel.
func (g *Gateway) CommitNow(id string) {
	lock := g.regionLock(id)
	lock.Lock()
	defer lock.Unlock()

	g.store.mu.Lock()
	region, ok := g.store.regions[id]
	if !ok {
		// Removed while the add was still queued: the add must still go out
		// so the queued remove can replay against the authority-issued id.
		region, ok = g.store.limbo[id]
	}
	if !ok || g.store.states[id] != StateDirty {
		g.store.mu.Unlock()
		return
	}
	local := region.Clone()
	token := g.store.tokens[id]
	temp := g.store.temp[id]
	epoch := g.store.epochs[id]
	g.store.mu.Unlock()

	committed, err := g.send(local, token, temp)
	if err != nil {
		g.handleCommitError(id, local, err)
		return
	}

	g.adopt(id, epoch, committed)
}

func (g *Gateway) send(local *layout.Region, token time.Time, temp bool) (*layout.Region, error) {
	var lastErr error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(g.backoffBase << uint(attempt-1))
		}

		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		var committed *layout.Region
		var err error
		if temp {
			fresh := local.Clone()
			fresh.ID = ""
			committed, err = g.authority.AddRegion(ctx, g.store.layoutID, fresh)
		} else {
			committed, err = g.authority.CommitRegion(ctx, g.store.layoutID, layout.RegionMutation{
				Region: local.Clone(),
				Token:  token,
				Actor:  g.store.actor,
			})
		}
		cancel()

		if err == nil {
			return committed, nil
		}
		lastErr = err
		if !errors.Is(err, apperr.ErrTransport) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		g.logger.Debug("commit retry",
			zap.String("region", local.ID), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, lastErr
}

// adopt folds the authority's canonical copy back into the store: id swap
// for temp regions, server timestamps, token refresh. If the region was
// mutated again while the commit was in flight the local values win and a
// follow-up commit is scheduled.
func (g *Gateway) adopt(oldID string, epoch uint64, committed *layout.Region) {
	g.store.mu.Lock()

	finalID := committed.ID
	queued := g.store.pending[oldID]
	delete(g.store.pending, oldID)

	mutatedSince := g.store.epochs[oldID] != epoch

	if oldID != finalID {
		// Temp id swap: move live state and bookkeeping to the final id.
		if r, ok := g.store.regions[oldID]; ok {
			r.ID = finalID
			r.CreatedAt = committed.CreatedAt
			r.TenantID = committed.TenantID
			g.store.regions[finalID] = r
			delete(g.store.regions, oldID)
		}
		g.store.epochs[finalID] = g.store.epochs[oldID]
		delete(g.store.epochs, oldID)
		delete(g.store.temp, oldID)
		delete(g.store.states, oldID)
		delete(g.store.lastErr, oldID)
		delete(g.store.limbo, oldID)
	}

	g.store.tokens[finalID] = committed.UpdatedAt
	g.store.baseline[finalID] = committed.Clone()

	if mutatedSince {
		g.store.setStateLocked(finalID, StateDirty)
	} else {
		if r, ok := g.store.regions[finalID]; ok {
			r.UpdatedAt = committed.UpdatedAt
			r.ModifiedBy = committed.ModifiedBy
		}
		g.store.setStateLocked(finalID, StateClean)
	}

	var wantRemove bool
	for _, op := range queued {
		if op.remove {
			wantRemove = true
		}
	}
	g.store.mu.Unlock()

	if oldID != finalID {
		// The temporary id never recurs; drop its gateway bookkeeping.
		g.mu.Lock()
		delete(g.debouncers, oldID)
		delete(g.regionLocks, oldID)
		g.mu.Unlock()
	}

	// Replay operations that were issued against the temporary id.
	if wantRemove {
		g.store.mu.Lock()
		delete(g.store.regions, finalID)
		g.store.setStateLocked(finalID, StateDirty)
		g.store.mu.Unlock()
		g.ScheduleRemove(finalID)
		return
	}
	if mutatedSince {
		g.ScheduleCommit(finalID)
	}
}

func (g *Gateway) handleCommitError(id string, local *layout.Region, err error) {
	var ce *apperr.ConflictError
	switch {
	case errors.As(err, &ce):
		remote, _ := ce.Remote.(*layout.Region)
		g.resolver.record(id, local, remote)
	case apperr.IsRecoverable(err) || errors.Is(err, context.DeadlineExceeded):
		// Retries exhausted: the optimistic state stays pending, visibly
		// unsaved, and the next mutation re-queues the commit.
		g.store.mu.Lock()
		g.store.lastErr[id] = &apperr.TransportError{Op: "commit", Err: err}
		g.store.mu.Unlock()
		g.logger.Warn("commit failed after retries", zap.String("region", id), zap.Error(err))
	case errors.Is(err, apperr.ErrNotFound):
		// Region no longer exists server-side: drop the local copy.
		g.store.mu.Lock()
		delete(g.store.regions, id)
		delete(g.store.states, id)
		delete(g.store.tokens, id)
		delete(g.store.baseline, id)
		delete(g.store.pending, id)
		delete(g.store.limbo, id)
		delete(g.store.temp, id)
		g.store.lastErr[id] = err
		g.store.mu.Unlock()
	default:
		// Terminal rejection: roll back to last-known-good, never keep an
		// optimistic state the authority refused.
		g.store.mu.Lock()
		if base, ok := g.store.baseline[id]; ok {
			g.store.regions[id] = base.Clone()
		} else {
			delete(g.store.regions, id)
		}
		delete(g.store.pending, id)
		delete(g.store.limbo, id)
		delete(g.store.temp, id)
		g.store.setStateLocked(id, StateClean)
		g.store.lastErr[id] = err
		g.store.mu.Unlock()
		g.logger.Warn("commit rejected, rolled back", zap.String("region", id), zap.Error(err))
	}
}

func (g *Gateway) removeNow(id string) {
	lock := g.regionLock(id)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(g.backoffBase << uint(attempt-1))
		}

		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		err := g.authority.RemoveRegion(ctx, g.store.layoutID, id)
		cancel()

		if err == nil || errors.Is(err, apperr.ErrNotFound) {
			g.store.mu.Lock()
			delete(g.store.states, id)
			delete(g.store.tokens, id)
			delete(g.store.baseline, id)
			delete(g.store.lastErr, id)
			g.store.mu.Unlock()
			return
		}
		lastErr = err
		if !errors.Is(err, apperr.ErrTransport) && !errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}

	g.store.mu.Lock()
	g.store.lastErr[id] = &apperr.TransportError{Op: "remove", Err: lastErr}
	g.store.mu.Unlock()
	g.logger.Warn("remove failed", zap.String("region", id), zap.Error(lastErr))
}
