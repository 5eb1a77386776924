package layout

import (
	"context"

	"go-gridboard/internal/common/apperr"
	common_models "go-gridboard/internal/common/models"
	"go-gridboard/internal/config"
	"go-gridboard/internal/features/audit"
	"go-gridboard/pkg/grid"

	"go.uber.org/zap"
)

// Broadcaster fans committed changes out to the other live sessions on the
// same layout. The realtime hub implements it; the service never talks to
// connections directly.
type Broadcaster interface {
	RegionChanged(tenantID, layoutID string, region *Region, actorSession string)
	RegionRemoved(tenantID, layoutID, regionID, actorSession string)
	LayoutReset(tenantID, layoutID, actorSession string)
}

// LayoutService is the persistence authority: the single place region
// mutations are validated, lock-checked, version-checked, committed, and
// published.
type LayoutService interface {
	GetOrCreateLayout(ctx context.Context, tenantID, ownerID string) (*DashboardLayout, error)
	GetLayout(ctx context.Context, layoutID string) (*DashboardLayout, error)
	ListRegions(ctx context.Context, layoutID string) ([]Region, error)
	AddRegion(ctx context.Context, layoutID string, region *Region, actor, actorSession string) (*Region, error)
	CommitRegion(ctx context.Context, layoutID string, mutation RegionMutation, actorSession string) (*Region, error)
	RemoveRegion(ctx context.Context, layoutID, regionID, actor, actorSession string) error
	SetCollapsed(ctx context.Context, layoutID, regionID string, collapsed bool, actor, actorSession string) (*Region, error)
	SetLocked(ctx context.Context, layoutID, regionID string, locked bool, actor, actorSession string) (*Region, error)
	ResetLayout(ctx context.Context, layoutID, actor, actorSession string) error
	DeleteLayout(ctx context.Context, layoutID, actor string) error
}

type LayoutServiceImpl struct {
	LayoutRepo   LayoutRepository
	AuditService audit.AuditService
	Broadcast    Broadcaster
	Logger       *zap.Logger
	GridColumns  int
}

func NewLayoutService(
	layoutRepo LayoutRepository,
	auditService audit.AuditService,
	broadcast Broadcaster,
	logger *zap.Logger,
	cfg *config.Config,
) LayoutService {
	return &LayoutServiceImpl{
		LayoutRepo:   layoutRepo,
		AuditService: auditService,
		Broadcast:    broadcast,
		Logger:       logger,
		GridColumns:  cfg.GridColumns,
	}
}

func (s *LayoutServiceImpl) GetOrCreateLayout(ctx context.Context, tenantID, ownerID string) (*DashboardLayout, error) {
	return s.LayoutRepo.GetOrCreateDefault(ctx, tenantID, ownerID, s.GridColumns)
}

func (s *LayoutServiceImpl) GetLayout(ctx context.Context, layoutID string) (*DashboardLayout, error) {
	return s.layoutForCaller(ctx, layoutID)
}

func (s *LayoutServiceImpl) ListRegions(ctx context.Context, layoutID string) ([]Region, error) {
	if _, err := s.layoutForCaller(ctx, layoutID); err != nil {
		return nil, err
	}
	return s.LayoutRepo.ListRegions(ctx, layoutID)
}

func (s *LayoutServiceImpl) AddRegion(ctx context.Context, layoutID string, region *Region, actor, actorSession string) (*Region, error) {
	lay, err := s.layoutForCaller(ctx, layoutID)
	if err != nil {
		return nil, err
	}

	siblings, err := s.LayoutRepo.ListRegions(ctx, layoutID)
	if err != nil {
		return nil, err
	}

	region.ID = "" // authority issues the id
	region.LayoutID = layoutID
	region.TenantID = lay.TenantID
	region.ModifiedBy = actor

	if region.Placement.RowSpan < 1 || region.Placement.ColSpan < 1 {
		region.Placement = grid.FirstFree(lay.GridColumns, placed(siblings), region.Placement.RowSpan, region.Placement.ColSpan)
	}
	if err := grid.Validate(lay.GridColumns, placed(siblings), region.ID, region.Placement); err != nil {
		return nil, wrapValidation(err)
	}

	if err := s.LayoutRepo.InsertRegion(ctx, region); err != nil {
		return nil, err
	}

	s.Broadcast.RegionChanged(lay.TenantID, layoutID, region.Clone(), actorSession)
	_ = s.AuditService.LogChange(ctx, common_models.AuditActionRegionAdd, layoutID, region.ID, actor, map[string]common_models.Change{
		"region": {New: region},
	})
	return region, nil
}

func (s *LayoutServiceImpl) CommitRegion(ctx context.Context, layoutID string, mutation RegionMutation, actorSession string) (*Region, error) {
	lay, err := s.layoutForCaller(ctx, layoutID)
	if err != nil {
		return nil, err
	}

	incoming := mutation.Region
	existing, err := s.LayoutRepo.GetRegion(ctx, incoming.ID)
	if err != nil {
		return nil, err
	}

	if err := s.checkLock(existing, incoming, mutation.Actor); err != nil {
		return nil, err
	}

	siblings, err := s.LayoutRepo.ListRegions(ctx, layoutID)
	if err != nil {
		return nil, err
	}
	if err := grid.Validate(lay.GridColumns, placed(siblings), incoming.ID, incoming.Placement); err != nil {
		return nil, wrapValidation(err)
	}

	incoming.LayoutID = layoutID
	incoming.TenantID = lay.TenantID
	incoming.CreatedAt = existing.CreatedAt
	incoming.ModifiedBy = mutation.Actor

	committed, err := s.LayoutRepo.CommitRegion(ctx, incoming, mutation.Token)
	if err != nil {
		return nil, err
	}

	s.Broadcast.RegionChanged(lay.TenantID, layoutID, committed.Clone(), actorSession)
	_ = s.AuditService.LogChange(ctx, common_models.AuditActionRegionUpdate, layoutID, committed.ID, mutation.Actor, map[string]common_models.Change{
		"region": {Old: existing, New: committed},
	})
	return committed, nil
}

func (s *LayoutServiceImpl) RemoveRegion(ctx context.Context, layoutID, regionID, actor, actorSession string) error {
	lay, err := s.layoutForCaller(ctx, layoutID)
	if err != nil {
		return err
	}
	existing, err := s.LayoutRepo.GetRegion(ctx, regionID)
	if err != nil {
		return err
	}
	if existing.IsLocked && existing.LockedBy != actor {
		return &apperr.LockedError{RegionID: regionID, LockedBy: existing.LockedBy}
	}

	if err := s.LayoutRepo.DeleteRegion(ctx, regionID); err != nil {
		return err
	}

	s.Broadcast.RegionRemoved(lay.TenantID, layoutID, regionID, actorSession)
	_ = s.AuditService.LogChange(ctx, common_models.AuditActionRegionRemove, layoutID, regionID, actor, map[string]common_models.Change{
		"region": {Old: existing, New: "DELETED"},
	})
	return nil
}

// SetCollapsed toggles the collapsed flag, maintaining the pre-collapse
// placement ledger. Expanding restores the remembered rectangle if it is
// still free, otherwise the region lands on the first free slot.
func (s *LayoutServiceImpl) SetCollapsed(ctx context.Context, layoutID, regionID string, collapsed bool, actor, actorSession string) (*Region, error) {
	lay, err := s.layoutForCaller(ctx, layoutID)
	if err != nil {
		return nil, err
	}
	existing, err := s.LayoutRepo.GetRegion(ctx, regionID)
	if err != nil {
		return nil, err
	}
	if existing.IsLocked && existing.LockedBy != actor {
		return nil, &apperr.LockedError{RegionID: regionID, LockedBy: existing.LockedBy}
	}
	if existing.IsCollapsed == collapsed {
		return existing, nil
	}

	updated := existing.Clone()
	updated.IsCollapsed = collapsed
	if collapsed {
		pc := existing.Placement
		updated.PreCollapse = &pc
	} else {
		siblings, err := s.LayoutRepo.ListRegions(ctx, layoutID)
		if err != nil {
			return nil, err
		}
		restore := existing.Placement
		if existing.PreCollapse != nil {
			restore = *existing.PreCollapse
		}
		if grid.Validate(lay.GridColumns, placed(siblings), regionID, restore) != nil {
			restore = grid.FirstFree(lay.GridColumns, placedExcept(siblings, regionID), restore.RowSpan, restore.ColSpan)
		}
		updated.Placement = restore
		updated.PreCollapse = nil
	}
	updated.ModifiedBy = actor

	committed, err := s.LayoutRepo.CommitRegion(ctx, updated, existing.UpdatedAt)
	if err != nil {
		return nil, err
	}

	s.Broadcast.RegionChanged(lay.TenantID, layoutID, committed.Clone(), actorSession)
	_ = s.AuditService.LogChange(ctx, common_models.AuditActionRegionUpdate, layoutID, regionID, actor, map[string]common_models.Change{
		"is_collapsed": {Old: existing.IsCollapsed, New: collapsed},
	})
	return committed, nil
}

func (s *LayoutServiceImpl) SetLocked(ctx context.Context, layoutID, regionID string, locked bool, actor, actorSession string) (*Region, error) {
	lay, err := s.layoutForCaller(ctx, layoutID)
	if err != nil {
		return nil, err
	}
	existing, err := s.LayoutRepo.GetRegion(ctx, regionID)
	if err != nil {
		return nil, err
	}
	// Only the lock owner may release it.
	if existing.IsLocked && !locked && existing.LockedBy != actor {
		return nil, &apperr.LockedError{RegionID: regionID, LockedBy: existing.LockedBy}
	}

	updated := existing.Clone()
	updated.IsLocked = locked
	if locked {
		updated.LockedBy = actor
	} else {
		updated.LockedBy = ""
	}
	updated.ModifiedBy = actor

	committed, err := s.LayoutRepo.CommitRegion(ctx, updated, existing.UpdatedAt)
	if err != nil {
		return nil, err
	}

	s.Broadcast.RegionChanged(lay.TenantID, layoutID, committed.Clone(), actorSession)
	_ = s.AuditService.LogChange(ctx, common_models.AuditActionRegionLock, layoutID, regionID, actor, map[string]common_models.Change{
		"is_locked": {Old: existing.IsLocked, New: locked},
	})
	return committed, nil
}

func (s *LayoutServiceImpl) ResetLayout(ctx context.Context, layoutID, actor, actorSession string) error {
	lay, err := s.layoutForCaller(ctx, layoutID)
	if err != nil {
		return err
	}
	if err := s.LayoutRepo.ReplaceRegions(ctx, layoutID, nil); err != nil {
		return err
	}

	s.Broadcast.LayoutReset(lay.TenantID, layoutID, actorSession)
	_ = s.AuditService.LogChange(ctx, common_models.AuditActionLayoutReset, layoutID, "", actor, nil)
	return nil
}

func (s *LayoutServiceImpl) DeleteLayout(ctx context.Context, layoutID, actor string) error {
	lay, err := s.layoutForCaller(ctx, layoutID)
	if err != nil {
		return err
	}
	if lay.OwnerID != actor {
		return apperr.ErrAuthorization
	}
	return s.LayoutRepo.DeleteLayout(ctx, layoutID)
}

// layoutForCaller loads the layout and verifies the caller's tenant, carried
// in the request context by the auth middleware, matches the layout's.
// Contexts without a tenant (in-process callers) skip the check.
func (s *LayoutServiceImpl) layoutForCaller(ctx context.Context, layoutID string) (*DashboardLayout, error) {
	lay, err := s.LayoutRepo.GetLayout(ctx, layoutID)
	if err != nil {
		return nil, err
	}
	if tenant, ok := ctx.Value(common_models.TenantIDKey).(string); ok && tenant != "" && tenant != lay.TenantID {
		return nil, apperr.Authorizationf("layout %s belongs to another tenant", layoutID)
	}
	return lay, nil
}

// checkLock rejects a mutation against a region locked by someone else.
// The lock owner may mutate freely, including releasing the lock as part
// of the same commit.
func (s *LayoutServiceImpl) checkLock(existing, incoming *Region, actor string) error {
	if !existing.IsLocked {
		return nil
	}
	if existing.LockedBy != actor {
		return &apperr.LockedError{RegionID: existing.ID, LockedBy: existing.LockedBy}
	}
	return nil
}

func placed(regions []Region) []grid.PlacedRegion {
	out := make([]grid.PlacedRegion, 0, len(regions))
	for i := range regions {
		out = append(out, regions[i].Placed())
	}
	return out
}

func placedExcept(regions []Region, excludeID string) []grid.PlacedRegion {
	out := make([]grid.PlacedRegion, 0, len(regions))
	for i := range regions {
		if regions[i].ID == excludeID {
			continue
		}
		out = append(out, regions[i].Placed())
	}
	return out
}

func wrapValidation(err error) error {
	if err == nil {
		return nil
	}
	return apperr.Validationf("%v", err)
}
