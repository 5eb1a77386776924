package version

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go-gridboard/internal/common/apperr"
	common_models "go-gridboard/internal/common/models"
	"go-gridboard/internal/features/audit"
	"go-gridboard/internal/features/layout"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type VersionService interface {
	CreateVersion(ctx context.Context, layoutID, label, actor string) (*LayoutVersion, error)
	ListVersions(ctx context.Context, layoutID string) ([]LayoutVersion, error)
	// RevertToVersion replaces the live region set with the snapshot and
	// returns the replaced live regions so the calling session can push
	// them onto its undo stack: a revert is itself undoable.
	RevertToVersion(ctx context.Context, layoutID, versionID, actor, actorSession string) ([]layout.Region, error)
	ExportVersions(ctx context.Context, layoutID string) ([]byte, error)
	PruneOldVersions(ctx context.Context, layoutID string, keep int) (int64, error)
}

type VersionServiceImpl struct {
	VersionRepo  VersionRepository
	LayoutRepo   layout.LayoutRepository
	Broadcast    layout.Broadcaster
	AuditService audit.AuditService
	Logger       *zap.Logger
}

func NewVersionService(
	versionRepo VersionRepository,
	layoutRepo layout.LayoutRepository,
	broadcast layout.Broadcaster,
	auditService audit.AuditService,
	logger *zap.Logger,
) VersionService {
	return &VersionServiceImpl{
		VersionRepo:  versionRepo,
		LayoutRepo:   layoutRepo,
		Broadcast:    broadcast,
		AuditService: auditService,
		Logger:       logger,
	}
}

func (s *VersionServiceImpl) CreateVersion(ctx context.Context, layoutID, label, actor string) (*LayoutVersion, error) {
	lay, err := s.layoutForCaller(ctx, layoutID)
	if err != nil {
		return nil, err
	}

	regions, err := s.LayoutRepo.ListRegions(ctx, layoutID)
	if err != nil {
		return nil, err
	}

	seq, err := s.VersionRepo.NextSeq(ctx, layoutID)
	if err != nil {
		return nil, err
	}

	v := &LayoutVersion{
		LayoutID:  layoutID,
		TenantID:  lay.TenantID,
		Seq:       seq,
		Label:     label,
		Regions:   cloneRegions(regions),
		CreatedBy: actor,
		CreatedAt: time.Now(),
	}
	if err := s.VersionRepo.Insert(ctx, v); err != nil {
		return nil, err
	}

	_ = s.AuditService.LogChange(ctx, common_models.AuditActionVersionCreate, layoutID, "", actor, map[string]common_models.Change{
		"version": {New: fmt.Sprintf("seq %d (%s)", v.Seq, v.Label)},
	})
	return v, nil
}

func (s *VersionServiceImpl) ListVersions(ctx context.Context, layoutID string) ([]LayoutVersion, error) {
	if _, err := s.layoutForCaller(ctx, layoutID); err != nil {
		return nil, err
	}
	return s.VersionRepo.ListByLayout(ctx, layoutID)
}

func (s *VersionServiceImpl) RevertToVersion(ctx context.Context, layoutID, versionID, actor, actorSession string) ([]layout.Region, error) {
	lay, err := s.layoutForCaller(ctx, layoutID)
	if err != nil {
		return nil, err
	}

	v, err := s.VersionRepo.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.LayoutID != layoutID {
		return nil, fmt.Errorf("version %s does not belong to layout %s", versionID, layoutID)
	}

	replaced, err := s.LayoutRepo.ListRegions(ctx, layoutID)
	if err != nil {
		return nil, err
	}

	if err := s.LayoutRepo.ReplaceRegions(ctx, layoutID, cloneRegions(v.Regions)); err != nil {
		return nil, err
	}

	s.Broadcast.LayoutReset(lay.TenantID, layoutID, actorSession)
	_ = s.AuditService.LogChange(ctx, common_models.AuditActionVersionRevert, layoutID, "", actor, map[string]common_models.Change{
		"version": {New: fmt.Sprintf("seq %d (%s)", v.Seq, v.Label)},
	})
	return replaced, nil
}

// ExportVersions writes the layout's version history to a spreadsheet:
// one summary sheet plus a row per region per version.
func (s *VersionServiceImpl) ExportVersions(ctx context.Context, layoutID string) ([]byte, error) {
	if _, err := s.layoutForCaller(ctx, layoutID); err != nil {
		return nil, err
	}
	versions, err := s.VersionRepo.ListByLayout(ctx, layoutID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Versions"
	f.SetSheetName("Sheet1", sheet)
	headers := []string{"Seq", "Label", "Created By", "Created At", "Region ID", "Type", "Row", "Col", "RowSpan", "ColSpan", "Locked", "Collapsed"}
	for i, hdr := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, hdr)
	}

	row := 2
	for _, v := range versions {
		for _, r := range v.Regions {
			values := []interface{}{
				v.Seq, v.Label, v.CreatedBy, v.CreatedAt.Format("2006-01-02 15:04:05"),
				r.ID, string(r.Type),
				r.Placement.Row, r.Placement.Col, r.Placement.RowSpan, r.Placement.ColSpan,
				r.IsLocked, r.IsCollapsed,
			}
			for i, val := range values {
				cell, _ := excelize.CoordinatesToCellName(i+1, row)
				f.SetCellValue(sheet, cell, val)
			}
			row++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *VersionServiceImpl) PruneOldVersions(ctx context.Context, layoutID string, keep int) (int64, error) {
	return s.VersionRepo.PruneUnlabeled(ctx, layoutID, keep)
}

// layoutForCaller loads the layout and rejects callers whose tenant, carried
// in the request context, does not match it. Background jobs run without a
// tenant and skip the check.
func (s *VersionServiceImpl) layoutForCaller(ctx context.Context, layoutID string) (*layout.DashboardLayout, error) {
	lay, err := s.LayoutRepo.GetLayout(ctx, layoutID)
	if err != nil {
		return nil, err
	}
	if tenant, ok := ctx.Value(common_models.TenantIDKey).(string); ok && tenant != "" && tenant != lay.TenantID {
		return nil, apperr.Authorizationf("layout %s belongs to another tenant", layoutID)
	}
	return lay, nil
}

func cloneRegions(regions []layout.Region) []layout.Region {
	out := make([]layout.Region, 0, len(regions))
	for i := range regions {
		out = append(out, *regions[i].Clone())
	}
	return out
}
