package version

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"go-gridboard/internal/common/apperr"
	common_models "go-gridboard/internal/common/models"
	"go-gridboard/internal/features/layout"
	"go-gridboard/pkg/grid"

	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type fakeVersionRepo struct {
	versions map[string]*LayoutVersion
}

func newFakeVersionRepo() *fakeVersionRepo {
	return &fakeVersionRepo{versions: map[string]*LayoutVersion{}}
}

func (f *fakeVersionRepo) Insert(ctx context.Context, v *LayoutVersion) error {
	if v.ID.IsZero() {
		v.ID = primitive.NewObjectID()
	}
	f.versions[v.ID.Hex()] = v
	return nil
}

func (f *fakeVersionRepo) Get(ctx context.Context, id string) (*LayoutVersion, error) {
	if v, ok := f.versions[id]; ok {
		return v, nil
	}
	return nil, apperr.NotFoundf("version %s", id)
}

func (f *fakeVersionRepo) ListByLayout(ctx context.Context, layoutID string) ([]LayoutVersion, error) {
	var out []LayoutVersion
	for _, v := range f.versions {
		if v.LayoutID == layoutID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out, nil
}

func (f *fakeVersionRepo) NextSeq(ctx context.Context, layoutID string) (int64, error) {
	var max int64
	for _, v := range f.versions {
		if v.LayoutID == layoutID && v.Seq > max {
			max = v.Seq
		}
	}
	return max + 1, nil
}

func (f *fakeVersionRepo) PruneUnlabeled(ctx context.Context, layoutID string, keep int) (int64, error) {
	unlabeled, _ := f.ListByLayout(ctx, layoutID)
	var deleted int64
	kept := 0
	for _, v := range unlabeled {
		if v.Label != "" {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		delete(f.versions, v.ID.Hex())
		deleted++
	}
	return deleted, nil
}

// fakeLayoutRepo covers the slice of layout.LayoutRepository the version
// service touches: layout lookup, region listing, and full-set replacement.
type fakeLayoutRepo struct {
	layouts map[string]*layout.DashboardLayout
	regions map[string]*layout.Region
	next    int
}

func newFakeLayoutRepo() *fakeLayoutRepo {
	return &fakeLayoutRepo{
		layouts: map[string]*layout.DashboardLayout{},
		regions: map[string]*layout.Region{},
	}
}

func (f *fakeLayoutRepo) addLayout(tenantID, ownerID string) *layout.DashboardLayout {
	lay := &layout.DashboardLayout{
		ID:          primitive.NewObjectID(),
		TenantID:    tenantID,
		OwnerID:     ownerID,
		GridColumns: 12,
	}
	f.layouts[lay.ID.Hex()] = lay
	return lay
}

func (f *fakeLayoutRepo) addRegion(layoutID string, row, col int) *layout.Region {
	f.next++
	r := &layout.Region{
		ID:        fmt.Sprintf("r%d", f.next),
		LayoutID:  layoutID,
		Type:      layout.RegionTypeMetric,
		Placement: grid.Placement{Row: row, Col: col, RowSpan: 1, ColSpan: 2},
	}
	f.regions[r.ID] = r
	return r
}

func (f *fakeLayoutRepo) GetOrCreateDefault(ctx context.Context, tenantID, ownerID string, gridColumns int) (*layout.DashboardLayout, error) {
	return nil, apperr.NotFoundf("not used")
}

func (f *fakeLayoutRepo) GetLayout(ctx context.Context, id string) (*layout.DashboardLayout, error) {
	if lay, ok := f.layouts[id]; ok {
		return lay, nil
	}
	return nil, apperr.NotFoundf("layout %s", id)
}

func (f *fakeLayoutRepo) ListRegions(ctx context.Context, layoutID string) ([]layout.Region, error) {
	var out []layout.Region
	for _, r := range f.regions {
		if r.LayoutID == layoutID {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeLayoutRepo) GetRegion(ctx context.Context, id string) (*layout.Region, error) {
	if r, ok := f.regions[id]; ok {
		return r.Clone(), nil
	}
	return nil, apperr.NotFoundf("region %s", id)
}

func (f *fakeLayoutRepo) InsertRegion(ctx context.Context, region *layout.Region) error {
	f.regions[region.ID] = region.Clone()
	return nil
}

func (f *fakeLayoutRepo) CommitRegion(ctx context.Context, region *layout.Region, token time.Time) (*layout.Region, error) {
	f.regions[region.ID] = region.Clone()
	return region, nil
}

func (f *fakeLayoutRepo) DeleteRegion(ctx context.Context, id string) error {
	delete(f.regions, id)
	return nil
}

func (f *fakeLayoutRepo) ReplaceRegions(ctx context.Context, layoutID string, regions []layout.Region) error {
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
	delete(f.layouts, id)
	return nil
}

func (f *fakeLayoutRepo) EnsureIndexes(ctx context.Context) error { return nil }

type recordingBroadcaster struct {
	resets []string
}

func (b *recordingBroadcaster) RegionChanged(tenantID, layoutID string, region *layout.Region, actorSession string) {
}

func (b *recordingBroadcaster) RegionRemoved(tenantID, layoutID, regionID, actorSession string) {}

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

func newTestService(vr VersionRepository, lr layout.LayoutRepository, b layout.Broadcaster) VersionService {
	return NewVersionService(vr, lr, b, noopAudit{}, zap.NewNop())
}

func TestCreateVersionSeqMonotonic(t *testing.T) {
	vr := newFakeVersionRepo()
	lr := newFakeLayoutRepo()
	lay := lr.addLayout("tenant-a", "u1")
	lr.addRegion(lay.ID.Hex(), 0, 0)

	svc := newTestService(vr, lr, &recordingBroadcaster{})
	ctx := context.Background()

	first, err := svc.CreateVersion(ctx, lay.ID.Hex(), "before rollout", "u1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.CreateVersion(ctx, lay.ID.Hex(), "", "u1")
	if err != nil {
		t.Fatal(err)
	}

	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("seq = %d, %d, want 1, 2", first.Seq, second.Seq)
	}
	if first.TenantID != "tenant-a" {
		t.Errorf("tenant not stamped: %q", first.TenantID)
	}
	if len(first.Regions) != 1 {
		t.Errorf("snapshot has %d regions, want 1", len(first.Regions))
	}
}

func TestVersionSnapshotIsIsolated(t *testing.T) {
	vr := newFakeVersionRepo()
	lr := newFakeLayoutRepo()
	lay := lr.addLayout("tenant-a", "u1")
	r := lr.addRegion(lay.ID.Hex(), 0, 0)

	svc := newTestService(vr, lr, &recordingBroadcaster{})

	v, err := svc.CreateVersion(context.Background(), lay.ID.Hex(), "v1", "u1")
	if err != nil {
		t.Fatal(err)
	}

	// Mutating the live region must not change the stored snapshot.
	r.Placement.Row = 9

	stored, err := vr.Get(context.Background(), v.ID.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if stored.Regions[0].Placement.Row != 0 {
		t.Errorf("snapshot mutated through live region: %+v", stored.Regions[0].Placement)
	}
}

func TestRevertToVersion(t *testing.T) {
	vr := newFakeVersionRepo()
	lr := newFakeLayoutRepo()
	lay := lr.addLayout("tenant-a", "u1")
	a := lr.addRegion(lay.ID.Hex(), 0, 0)
	lr.addRegion(lay.ID.Hex(), 1, 0)

	b := &recordingBroadcaster{}
	svc := newTestService(vr, lr, b)
	ctx := context.Background()

	v, err := svc.CreateVersion(ctx, lay.ID.Hex(), "v1", "u1")
	if err != nil {
		t.Fatal(err)
	}

	// Diverge the live state: move one region, drop the other, add a third.
	a.Placement.Row = 7
	_ = lr.DeleteRegion(ctx, "r2")
	lr.addRegion(lay.ID.Hex(), 3, 0)

	replaced, err := svc.RevertToVersion(ctx, lay.ID.Hex(), v.ID.Hex(), "u1", "sess-1")
	if err != nil {
		t.Fatal(err)
	}

	// The replaced set is the pre-revert live state, for the caller's undo.
	if len(replaced) != 2 {
		t.Fatalf("replaced set has %d regions, want 2", len(replaced))
	}

	live, _ := lr.ListRegions(ctx, lay.ID.Hex())
	if len(live) != 2 {
		t.Fatalf("live set has %d regions after revert, want 2", len(live))
	}
	for _, r := range live {
		if r.ID == "r1" && r.Placement.Row != 0 {
			t.Errorf("revert did not restore r1: %+v", r.Placement)
		}
	}
	if len(b.resets) != 1 {
		t.Errorf("revert not broadcast as layout reset: %v", b.resets)
	}
}

func TestRevertRejectsForeignVersion(t *testing.T) {
	vr := newFakeVersionRepo()
	lr := newFakeLayoutRepo()
	mine := lr.addLayout("tenant-a", "u1")
	other := lr.addLayout("tenant-a", "u2")

	svc := newTestService(vr, lr, &recordingBroadcaster{})
	ctx := context.Background()

	v, err := svc.CreateVersion(ctx, other.ID.Hex(), "theirs", "u2")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.RevertToVersion(ctx, mine.ID.Hex(), v.ID.Hex(), "u1", "sess-1"); err == nil {
		t.Error("revert accepted a version from another layout")
	}
}

func TestVersionOpsScopedToCallerTenant(t *testing.T) {
	vr := newFakeVersionRepo()
	lr := newFakeLayoutRepo()
	lay := lr.addLayout("tenant-a", "u1")
	lr.addRegion(lay.ID.Hex(), 0, 0)

	svc := newTestService(vr, lr, &recordingBroadcaster{})

	v, err := svc.CreateVersion(context.Background(), lay.ID.Hex(), "v1", "u1")
	if err != nil {
		t.Fatal(err)
	}

	foreign := context.WithValue(context.Background(), common_models.TenantIDKey, "tenant-b")

	if _, err := svc.CreateVersion(foreign, lay.ID.Hex(), "", "u2"); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("CreateVersion() error = %v, want authorization error", err)
	}
	if _, err := svc.ListVersions(foreign, lay.ID.Hex()); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("ListVersions() error = %v, want authorization error", err)
	}
	if _, err := svc.RevertToVersion(foreign, lay.ID.Hex(), v.ID.Hex(), "u2", "sess-2"); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("RevertToVersion() error = %v, want authorization error", err)
	}
	if _, err := svc.ExportVersions(foreign, lay.ID.Hex()); !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("ExportVersions() error = %v, want authorization error", err)
	}

	same := context.WithValue(context.Background(), common_models.TenantIDKey, "tenant-a")
	if _, err := svc.ListVersions(same, lay.ID.Hex()); err != nil {
		t.Errorf("same-tenant ListVersions() error = %v", err)
	}
}

func TestExportVersions(t *testing.T) {
	vr := newFakeVersionRepo()
	lr := newFakeLayoutRepo()
	lay := lr.addLayout("tenant-a", "u1")
	lr.addRegion(lay.ID.Hex(), 0, 0)

	svc := newTestService(vr, lr, &recordingBroadcaster{})
	ctx := context.Background()

	if _, err := svc.CreateVersion(ctx, lay.ID.Hex(), "v1", "u1"); err != nil {
		t.Fatal(err)
	}

	data, err := svc.ExportVersions(ctx, lay.ID.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("export is empty")
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("export is not a readable workbook: %v", err)
	}
	defer f.Close()

	if got, _ := f.GetCellValue("Versions", "A1"); got != "Seq" {
		t.Errorf("header A1 = %q, want Seq", got)
	}
	if got, _ := f.GetCellValue("Versions", "E2"); got != "r1" {
		t.Errorf("first region row E2 = %q, want r1", got)
	}
}

func TestPruneKeepsLabeledVersions(t *testing.T) {
	vr := newFakeVersionRepo()
	lr := newFakeLayoutRepo()
	lay := lr.addLayout("tenant-a", "u1")

	svc := newTestService(vr, lr, &recordingBroadcaster{})
	ctx := context.Background()

	if _, err := svc.CreateVersion(ctx, lay.ID.Hex(), "keep me", "u1"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := svc.CreateVersion(ctx, lay.ID.Hex(), "", "u1"); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := svc.PruneOldVersions(ctx, lay.ID.Hex(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	remaining, _ := svc.ListVersions(ctx, lay.ID.Hex())
	var labeled bool
	for _, v := range remaining {
		if v.Label == "keep me" {
			labeled = true
		}
	}
	if !labeled {
		t.Error("labeled version was pruned")
	}
}
