package engine

import (
	"context"
	"time"

	"go-gridboard/internal/features/layout"
	"go-gridboard/pkg/grid"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures one editing session for one open layout.
type Options struct {
	LayoutID    string
	GridColumns int
	Actor       string // user id stamped on mutations
	SessionID   string // realtime session id; generated when empty
	Authority   Authority
	Debounce    time.Duration
	Logger      *zap.Logger
}

// Session wires the store, gateway, and resolver of one live editing
// session together. The rendering layer talks to this type only.
type Session struct {
	ID       string
	Store    *Store
	Gateway  *Gateway
	Resolver *Resolver

	logger *zap.Logger
}

func NewSession(opts Options) *Session {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.GridColumns <= 0 {
		opts.GridColumns = 12
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	store := newStore(opts.LayoutID, opts.GridColumns, opts.Actor, opts.Logger)
	gateway := newGateway(store, opts.Authority, opts.Debounce, opts.Logger)
	resolver := newResolver(store, opts.Logger)

	store.gateway = gateway
	gateway.resolver = resolver
	resolver.gateway = gateway

	return &Session{
		ID:       opts.SessionID,
		Store:    store,
		Gateway:  gateway,
		Resolver: resolver,
		logger:   opts.Logger,
	}
}

// Load pulls the canonical region set from the authority into the store,
// used on open and after reconnect.
func (s *Session) Load(ctx context.Context) error {
	regions, err := s.Gateway.authority.FetchRegions(ctx, s.Store.layoutID)
	if err != nil {
		return err
	}
	s.Resync(regions)
	return nil
}

// Resync replaces the store content with the canonical state, preserving
// regions that still hold pending local mutations, then clears conflict
// entries that no longer correspond to pending work.
func (s *Session) Resync(canonical []layout.Region) {
	s.Store.mu.Lock()

	fresh := map[string]*layout.Region{}
	for i := range canonical {
		r := canonical[i].Clone()
		fresh[r.ID] = r
	}

	for id, st := range s.Store.states {
		if st == StateDirty || st == StateConflicted {
			if local, ok := s.Store.regions[id]; ok {
				fresh[id] = local
			}
		}
	}

	s.Store.regions = fresh
	for i := range canonical {
		id := canonical[i].ID
		if s.Store.states[id] == StateDirty || s.Store.states[id] == StateConflicted {
			continue
		}
		s.Store.tokens[id] = canonical[i].UpdatedAt
		s.Store.baseline[id] = canonical[i].Clone()
		s.Store.setStateLocked(id, StateClean)
	}
	s.Store.mu.Unlock()

	s.Resolver.clearStale()
}

// ApplyRemote feeds an inbound region-changed broadcast into the store,
// through the same validation path as a local mutation. A locally dirty
// region routes to the resolver instead of being overwritten.
func (s *Session) ApplyRemote(region *layout.Region, actorSessionID string) {
	if actorSessionID == s.ID {
		return // own echo
	}

	s.Store.mu.Lock()
	st := s.Store.states[region.ID]
	if st == StateDirty || st == StateConflicted {
		s.Store.mu.Unlock()
		s.Resolver.noteRemote(region.ID, region.Clone())
		return
	}

	// Defensive replay of the authority's own invariant.
	if err := grid.Validate(s.Store.cols, s.Store.placed(region.ID), region.ID, region.Placement); err != nil {
		s.Store.mu.Unlock()
		s.logger.Warn("discarding invalid remote region",
			zap.String("region", region.ID), zap.Error(err))
		return
	}

	s.Store.regions[region.ID] = region.Clone()
	s.Store.tokens[region.ID] = region.UpdatedAt
	s.Store.baseline[region.ID] = region.Clone()
	s.Store.setStateLocked(region.ID, StateClean)
	s.Store.mu.Unlock()
}

// RemoveRemote handles an inbound region-removed broadcast.
func (s *Session) RemoveRemote(regionID, actorSessionID string) {
	if actorSessionID == s.ID {
		return
	}
	s.Store.mu.Lock()
	delete(s.Store.regions, regionID)
	delete(s.Store.states, regionID)
	delete(s.Store.tokens, regionID)
	delete(s.Store.baseline, regionID)
	s.Store.mu.Unlock()

	s.Resolver.clearStale()
}

// ResetRemote handles an inbound layout-reset broadcast: the whole region
// set changed server-side, so resync from the authority. Symmetric with
// ApplyRemote and RemoveRemote for the other broadcast events.
func (s *Session) ResetRemote(ctx context.Context, actorSessionID string) error {
	if actorSessionID == s.ID {
		return nil
	}
	return s.Load(ctx)
}

// serviceAuthority adapts the in-process layout service to the Authority
// interface, carrying the session id so broadcasts exclude this session.
type serviceAuthority struct {
	service   layout.LayoutService
	sessionID string
}

// NewServiceAuthority builds an Authority backed by the layout service.
func NewServiceAuthority(service layout.LayoutService, sessionID string) Authority {
	return &serviceAuthority{service: service, sessionID: sessionID}
}

func (a *serviceAuthority) AddRegion(ctx context.Context, layoutID string, region *layout.Region) (*layout.Region, error) {
	return a.service.AddRegion(ctx, layoutID, region, region.ModifiedBy, a.sessionID)
}

func (a *serviceAuthority) CommitRegion(ctx context.Context, layoutID string, mutation layout.RegionMutation) (*layout.Region, error) {
	return a.service.CommitRegion(ctx, layoutID, mutation, a.sessionID)
}

func (a *serviceAuthority) RemoveRegion(ctx context.Context, layoutID, regionID string) error {
	return a.service.RemoveRegion(ctx, layoutID, regionID, "", a.sessionID)
}

func (a *serviceAuthority) FetchRegions(ctx context.Context, layoutID string) ([]layout.Region, error) {
	return a.service.ListRegions(ctx, layoutID)
}
