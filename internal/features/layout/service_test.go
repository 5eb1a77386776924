package layout

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go-gridboard/internal/common/apperr"
	common_models "go-gridboard/internal/common/models"
	"go-gridboard/pkg/grid"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// fakeLayoutRepo is an in-memory LayoutRepository with the same version
// token check the Mongo implementation performs.
type fakeLayoutRepo struct {
	layouts map[string]*DashboardLayout
	regions map[string]*Region
	next    int
	base    time.Time
}

func newFakeLayoutRepo() *fakeLayoutRepo {
	return &fakeLayoutRepo{
		layouts: map[string]*DashboardLayout{},
		regions: map[string]*Region{},
		base:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeLayoutRepo) tick() time.Time {
	f.next++
	return f.base.Add(time.Duration(f.next) * time.Second)
}

func (f *fakeLayoutRepo) addLayout(tenantID, ownerID string) *DashboardLayout {
	lay := &DashboardLayout{
		ID:          primitive.NewObjectID(),
		TenantID:    tenantID,
		OwnerID:     ownerID,
		Name:        "My Dashboard",
		GridColumns: 12,
		RowHeight:   80,
		IsDefault:   true,
	}
	f.layouts[lay.ID.Hex()] = lay
	return lay
}

func (f *fakeLayoutRepo) addRegion(layoutID string, row, col, rowSpan, colSpan int) *Region {
	f.next++
	r := &Region{
		ID:        fmt.Sprintf("r%d", f.next),
		LayoutID:  layoutID,
		Type:      RegionTypeMetric,
		Placement: grid.Placement{Row: row, Col: col, RowSpan: rowSpan, ColSpan: colSpan},
		UpdatedAt: f.base.Add(time.Duration(f.next) * time.Second),
	}
	f.regions[r.ID] = r
	return r
}

func (f *fakeLayoutRepo) GetOrCreateDefault(ctx context.Context, tenantID, ownerID string, gridColumns int) (*DashboardLayout, error) {
	for _, lay := range f.layouts {
		if lay.TenantID == tenantID && lay.OwnerID == ownerID && lay.IsDefault {
			return lay, nil
		}
	}
	lay := f.addLayout(tenantID, ownerID)
	lay.GridColumns = gridColumns
	return lay, nil
}

func (f *fakeLayoutRepo) GetLayout(ctx context.Context, id string) (*DashboardLayout, error) {
	if lay, ok := f.layouts[id]; ok {
		return lay, nil
	}
	return nil, apperr.NotFoundf("layout %s", id)
}

func (f *fakeLayoutRepo) ListRegions(ctx context.Context, layoutID string) ([]Region, error) {
	var out []Region
	for _, r := range f.regions {
		if r.LayoutID == layoutID {
			out = append(out, *r.Clone())
		}
	}
	return out, nil
}

func (f *fakeLayoutRepo) GetRegion(ctx context.Context, id string) (*Region, error) {
	if r, ok := f.regions[id]; ok {
		return r.Clone(), nil
	}
	return nil, apperr.NotFoundf("region %s", id)
}

func (f *fakeLayoutRepo) InsertRegion(ctx context.Context, region *Region) error {
	if region.ID == "" {
		f.next++
		region.ID = fmt.Sprintf("r%d", f.next)
	}
	now := f.tick()
	region.CreatedAt = now
	region.UpdatedAt = now
	f.regions[region.ID] = region.Clone()
	return nil
}

func (f *fakeLayoutRepo) CommitRegion(ctx context.Context, region *Region, token time.Time) (*Region, error) {
	stored, ok := f.regions[region.ID]
	if !ok {
		return nil, apperr.NotFoundf("region %s", region.ID)
	}
	if !stored.UpdatedAt.Equal(token) {
		return nil, &apperr.ConflictError{RegionID: region.ID, Remote: stored.Clone()}
	}
	updated := region.Clone()
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = f.tick()
	f.regions[region.ID] = updated
	return updated.Clone(), nil
}

func (f *fakeLayoutRepo) DeleteRegion(ctx context.Context, id string) error {
	if _, ok := f.regions[id]; !ok {
		return apperr.NotFoundf("region %s", id)
	}
	delete(f.regions, id)
	return nil
}

func (f *fakeLayoutRepo) ReplaceRegions(ctx context.Context, layoutID string, regions []Region) error {
	for id, r := range f.regions {
		if r.LayoutID == layoutID {
			delete(f.regions, id)
		}
	}
	for i := range regions {
		f.regions[regions[i].ID] = regions[i].Clone()
	}
	return nil
}

func (f *fakeLayoutRepo) DeleteLayout(ctx context.Context, id string) error {
	if _, ok := f.layouts[id]; !ok {
		return apperr.NotFoundf("layout %s", id)
	}
	delete(f.layouts, id)
	for rid, r := range f.regions {
		if r.LayoutID == id {
			delete(f.regions, rid)
		}
	}
	return nil
}

func (f *fakeLayoutRepo) EnsureIndexes(ctx context.Context) error { return nil }

// recordingBroadcaster captures published events for assertions.
type recordingBroadcaster struct {
	changed []string // region ids
	removed []string
	resets  []string // layout ids
	actors  []string
}

func (b *recordingBroadcaster) RegionChanged(tenantID, layoutID string, region *Region, actorSession string) {
	b.changed = append(b.changed, region.ID)
	b.actors = append(b.actors, actorSession)
}

func (b *recordingBroadcaster) RegionRemoved(tenantID, layoutID, regionID, actorSession string) {
	b.removed = append(b.removed, regionID)
}

func (b *recordingBroadcaster) LayoutReset(tenantID, layoutID, actorSession string) {
	b.resets = append(b.resets, layoutID)
}

type noopAudit struct{}

func (noopAudit) LogChange(ctx context.Context, action common_models.AuditAction, layoutID, regionID, actorID string, changes map[string]common_models.Change) error {
	return nil
}

func (noopAudit) History(ctx context.Context, layoutID string, limit int64) ([]common_models.AuditLog, error) {
	return nil, nil
}

func newTestService(repo *fakeLayoutRepo, b Broadcaster) *LayoutServiceImpl {
	return &LayoutServiceImpl{
		LayoutRepo:   repo,
		AuditService: noopAudit{},
		Broadcast:    b,
		Logger:       zap.NewNop(),
		GridColumns:  12,
	}
}

func TestAddRegionAutoPlacement(t *testing.T) {
	repo := newFakeLayoutRepo()
	lay := repo.addLayout("tenant-a", "u1")
	repo.addRegion(lay.ID.Hex(), 0, 0, 1, 12) // full first row

	b := &recordingBroadcaster{}
	svc := newTestService(repo, b)

	got, err := svc.AddRegion(context.Background(), lay.ID.Hex(), &Region{
		Type:  RegionTypeChart,
		Title: "Revenue",
	}, "u1", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID == "" {
		t.Error("authority did not issue an id")
	}
	if got.Placement.Row != 1 || got.Placement.Col != 0 {
		t.Errorf("auto-placement = %+v, want first free slot (1,0)", got.Placement)
	}
	if got.TenantID != "tenant-a" {
		t.Errorf("tenant not stamped: %q", got.TenantID)
	}
	if len(b.changed) != 1 || b.changed[0] != got.ID {
		t.Errorf("broadcast missing: %v", b.changed)
	}
	if b.actors[0] != "sess-1" {
		t.Errorf("actor session not propagated: %q", b.actors[0])
	}
}

func TestAddRegionOverlapRejected(t *testing.T) {
	repo := newFakeLayoutRepo()
	lay := repo.addLayout("tenant-a", "u1")
	repo.addRegion(lay.ID.Hex(), 0, 0, 2, 4)

	b := &recordingBroadcaster{}
	svc := newTestService(repo, b)

	_, err := svc.AddRegion(context.Background(), lay.ID.Hex(), &Region{
		Type:      RegionTypeMetric,
		Placement: grid.Placement{Row: 1, Col: 2, RowSpan: 1, ColSpan: 2},
	}, "u1", "sess-1")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("AddRegion() error = %v, want validation error", err)
	}
	if len(b.changed) != 0 {
		t.Error("rejected add was broadcast")
	}
}

func TestCommitRegionStaleTokenConflicts(t *testing.T) {
	repo := newFakeLayoutRepo()
	lay := repo.addLayout("tenant-a", "u1")
	r := repo.addRegion(lay.ID.Hex(), 0, 0, 1, 2)
	staleToken := r.UpdatedAt

	b := &recordingBroadcaster{}
	svc := newTestService(repo, b)

	// First writer wins.
	first := r.Clone()
	first.Placement.Row = 3
	if _, err := svc.CommitRegion(context.Background(), lay.ID.Hex(), RegionMutation{
		Region: first, Token: staleToken, Actor: "u1",
	}, "sess-1"); err != nil {
		t.Fatal(err)
	}

	// Second writer holds the stale token and must get the canonical copy.
	second := r.Clone()
	second.Placement.Row = 5
	_, err := svc.CommitRegion(context.Background(), lay.ID.Hex(), RegionMutation{
		Region: second, Token: staleToken, Actor: "u2",
	}, "sess-2")

	var ce *apperr.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("CommitRegion() error = %v, want conflict", err)
	}
	remote, ok := ce.Remote.(*Region)
	if !ok {
		t.Fatalf("conflict remote has type %T", ce.Remote)
	}
	if remote.Placement.Row != 3 {
		t.Errorf("conflict remote is not the canonical copy: %+v", remote.Placement)
	}
	if len(b.changed) != 1 {
		t.Errorf("conflicted commit was broadcast: %v", b.changed)
	}
}

func TestCommitRegionLockEnforced(t *testing.T) {
	repo := newFakeLayoutRepo()
	lay := repo.addLayout("tenant-a", "u1")
	r := repo.addRegion(lay.ID.Hex(), 0, 0, 1, 2)
	r.IsLocked = true
	r.LockedBy = "owner"

	b := &recordingBroadcaster{}
	svc := newTestService(repo, b)

	incoming := r.Clone()
	incoming.Placement.Row = 4
	_, err := svc.CommitRegion(context.Background(), lay.ID.Hex(), RegionMutation{
		Region: incoming, Token: r.UpdatedAt, Actor: "intruder",
	}, "sess-1")
	if !errors.Is(err, apperr.ErrLocked) {
		t.Fatalf("CommitRegion() error = %v, want lock violation", err)
	}

	// The lock owner mutates freely.
	owned := r.Clone()
	owned.Placement.Row = 4
	if _, err := svc.CommitRegion(context.Background(), lay.ID.Hex(), RegionMutation{
		Region: owned, Token: r.UpdatedAt, Actor: "owner",
	}, "sess-2"); err != nil {
		t.Fatalf("lock owner blocked: %v", err)
	}
}

func TestSetCollapsedLedger(t *testing.T) {
	repo := newFakeLayoutRepo()
	lay := repo.addLayout("tenant-a", "u1")
	r := repo.addRegion(lay.ID.Hex(), 2, 3, 2, 4)

	b := &recordingBroadcaster{}
	svc := newTestService(repo, b)
	ctx := context.Background()

	collapsed, err := svc.SetCollapsed(ctx, lay.ID.Hex(), r.ID, true, "u1", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !collapsed.IsCollapsed || collapsed.PreCollapse == nil {
		t.Fatalf("collapse did not record ledger: %+v", collapsed)
	}

	expanded, err := svc.SetCollapsed(ctx, lay.ID.Hex(), r.ID, false, "u1", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if expanded.IsCollapsed || expanded.PreCollapse != nil {
		t.Fatalf("expand did not clear ledger: %+v", expanded)
	}
	if expanded.Placement.Row != 2 || expanded.Placement.Col != 3 {
		t.Errorf("expand did not restore placement: %+v", expanded.Placement)
	}
}

func TestSetCollapsedExpandIntoOccupiedSlot(t *testing.T) {
	repo := newFakeLayoutRepo()
	lay := repo.addLayout("tenant-a", "u1")
	r := repo.addRegion(lay.ID.Hex(), 0, 0, 1, 4)

	b := &recordingBroadcaster{}
	svc := newTestService(repo, b)
	ctx := context.Background()

	if _, err := svc.SetCollapsed(ctx, lay.ID.Hex(), r.ID, true, "u1", "sess-1"); err != nil {
		t.Fatal(err)
	}

	// While collapsed, another region takes the slot.
	repo.addRegion(lay.ID.Hex(), 0, 0, 1, 6)

	expanded, err := svc.SetCollapsed(ctx, lay.ID.Hex(), r.ID, false, "u1", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if expanded.Placement.Row == 0 && expanded.Placement.Col == 0 {
		t.Errorf("expanded into an occupied slot: %+v", expanded.Placement)
	}
	if expanded.Placement.RowSpan != 1 || expanded.Placement.ColSpan != 4 {
		t.Errorf("spans lost on relocation: %+v", expanded.Placement)
	}
}

func TestSetLockedOnlyOwnerReleases(t *testing.T) {
	repo := newFakeLayoutRepo()
	lay := repo.addLayout("tenant-a", "u1")
	r := repo.addRegion(lay.ID.Hex(), 0, 0, 1, 2)

	b := &recordingBroadcaster{}
	svc := newTestService(repo, b)
	ctx := context.Background()

	locked, err := svc.SetLocked(ctx, lay.ID.Hex(), r.ID, true, "owner", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !locked.IsLocked || locked.LockedBy != "owner" {
		t.Fatalf("lock not acquired: %+v", locked)
	}

	if _, err := svc.SetLocked(ctx, lay.ID.Hex(), r.ID, false, "intruder", "sess-2"); !errors.Is(err, apperr.ErrLocked) {
		t.Fatalf("non-owner release error = %v, want lock violation", err)
	}

	released, err := svc.SetLocked(ctx, lay.ID.Hex(), r.ID, false, "owner", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if released.IsLocked || released.LockedBy != "" {
		t.Errorf("lock not released: %+v", released)
	}
}

func TestRemoveRegionLocked(t *testing.T) {
	repo := newFakeLayoutRepo()
	lay := repo.addLayout("tenant-a", "u1")
	r := repo.addRegion(lay.ID.Hex(), 0, 0, 1, 2)
	r.IsLocked = true
	r.LockedBy = "owner"

	b := &recordingBroadcaster{}
	svc := newTestService(repo, b)

	err := svc.RemoveRegion(context.Background(), lay.ID.Hex(), r.ID, "intruder", "sess-1")
	if !errors.Is(err, apperr.ErrLocked) {
		t.Fatalf("RemoveRegion() error = %v, want lock violation", err)
	}

	if err := svc.RemoveRegion(context.Background(), lay.ID.Hex(), r.ID, "owner", "sess-1"); err != nil {
		t.Fatal(err)
	}
	if len(b.removed) != 1 || b.removed[0] != r.ID {
		t.Errorf("removal not broadcast: %v", b.removed)
	}
}

func TestResetLayout(t *testing.T) {
	repo := newFakeLayoutRepo()
	lay := repo.addLayout("tenant-a", "u1")
	repo.addRegion(lay.ID.Hex(), 0, 0, 1, 2)
	repo.addRegion(lay.ID.Hex(), 1, 0, 1, 2)

	b := &recordingBroadcaster{}
	svc := newTestService(repo, b)

	if err := svc.ResetLayout(context.Background(), lay.ID.Hex(), "u1", "sess-1"); err != nil {
		t.Fatal(err)
	}

	regions, _ := repo.ListRegions(context.Background(), lay.ID.Hex())
	if len(regions) != 0 {
		t.Errorf("reset left %d regions", len(regions))
	}
	if len(b.resets) != 1 {
		t.Errorf("reset not broadcast: %v", b.resets)
	}
}

func TestDeleteLayoutOwnerOnly(t *testing.T) {
	repo := newFakeLayoutRepo()
	lay := repo.addLayout("tenant-a", "u1")

	svc := newTestService(repo, &recordingBroadcaster{})

	if err := svc.DeleteLayout(context.Background(), lay.ID.Hex(), "someone-else"); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("DeleteLayout() error = %v, want authorization error", err)
	}
	if err := svc.DeleteLayout(context.Background(), lay.ID.Hex(), "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetLayout(context.Background(), lay.ID.Hex()); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("layout still present after delete")
	}
}

func TestLayoutOpsScopedToCallerTenant(t *testing.T) {
	repo := newFakeLayoutRepo()
	lay := repo.addLayout("tenant-a", "u1")
	r := repo.addRegion(lay.ID.Hex(), 0, 0, 1, 2)

	b := &recordingBroadcaster{}
	svc := newTestService(repo, b)

	// An authenticated user of another tenant holds a valid layout id.
	foreign := context.WithValue(context.Background(), common_models.TenantIDKey, "tenant-b")

	if _, err := svc.ListRegions(foreign, lay.ID.Hex()); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("ListRegions() error = %v, want authorization error", err)
	}
	mutation := RegionMutation{Region: r.Clone(), Token: r.UpdatedAt, Actor: "u2"}
	if _, err := svc.CommitRegion(foreign, lay.ID.Hex(), mutation, "sess-2"); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("CommitRegion() error = %v, want authorization error", err)
	}
	if err := svc.RemoveRegion(foreign, lay.ID.Hex(), r.ID, "u2", "sess-2"); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("RemoveRegion() error = %v, want authorization error", err)
	}
	if _, err := svc.SetLocked(foreign, lay.ID.Hex(), r.ID, true, "u2", "sess-2"); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("SetLocked() error = %v, want authorization error", err)
	}
	if err := svc.ResetLayout(foreign, lay.ID.Hex(), "u2", "sess-2"); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("ResetLayout() error = %v, want authorization error", err)
	}
	if err := svc.DeleteLayout(foreign, lay.ID.Hex(), "u1"); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("DeleteLayout() error = %v, want authorization error", err)
	}
	if len(b.changed)+len(b.removed)+len(b.resets) != 0 {
		t.Error("cross-tenant operation was broadcast")
	}

	// The layout's own tenant passes the same check.
	same := context.WithValue(context.Background(), common_models.TenantIDKey, "tenant-a")
	if _, err := svc.ListRegions(same, lay.ID.Hex()); err != nil {
		t.Errorf("same-tenant ListRegions() error = %v", err)
	}
}

func TestGetOrCreateLayoutIdempotent(t *testing.T) {
	repo := newFakeLayoutRepo()
	svc := newTestService(repo, &recordingBroadcaster{})
	ctx := context.Background()

	first, err := svc.GetOrCreateLayout(ctx, "tenant-a", "u1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.GetOrCreateLayout(ctx, "tenant-a", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Error("get-or-create produced two default layouts for one owner")
	}
	if first.GridColumns != 12 {
		t.Errorf("grid columns = %d, want 12", first.GridColumns)
	}
}
