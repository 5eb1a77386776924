package layout

import (
	"context"
	"errors"
	"time"

	"go-gridboard/internal/common/apperr"
	"go-gridboard/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type LayoutRepository interface {
	GetOrCreateDefault(ctx context.Context, tenantID, ownerID string, gridColumns int) (*DashboardLayout, error)
	GetLayout(ctx context.Context, id string) (*DashboardLayout, error)
	ListRegions(ctx context.Context, layoutID string) ([]Region, error)
	GetRegion(ctx context.Context, id string) (*Region, error)
	InsertRegion(ctx context.Context, region *Region) error
	// CommitRegion applies a region update only if the stored updated_at
	// still equals token. A stale token yields apperr.ErrConflict with the
	// canonical copy attached.
	CommitRegion(ctx context.Context, region *Region, token time.Time) (*Region, error)
	DeleteRegion(ctx context.Context, id string) error
	ReplaceRegions(ctx context.Context, layoutID string, regions []Region) error
	DeleteLayout(ctx context.Context, id string) error
	EnsureIndexes(ctx context.Context) error
}

type LayoutRepositoryImpl struct {
	layouts *mongo.Collection
	regions *mongo.Collection
}

func NewLayoutRepository(db *database.MongodbDB) LayoutRepository {
	return &LayoutRepositoryImpl{
		layouts: db.DB.Collection("layouts"),
		regions: db.DB.Collection("regions"),
	}
}

func (r *LayoutRepositoryImpl) GetOrCreateDefault(ctx context.Context, tenantID, ownerID string, gridColumns int) (*DashboardLayout, error) {
	var layout DashboardLayout
	err := r.layouts.FindOne(ctx, bson.M{
		"tenant_id":  tenantID,
		"owner_id":   ownerID,
		"is_default": true,
	}).Decode(&layout)
	if err == nil {
		return &layout, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	now := time.Now()
	layout = DashboardLayout{
		ID:          primitive.NewObjectID(),
		TenantID:    tenantID,
		OwnerID:     ownerID,
		Name:        "My Dashboard",
		GridColumns: gridColumns,
		RowHeight:   80,
		IsDefault:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := r.layouts.InsertOne(ctx, layout); err != nil {
		// Lost a get-or-create race: another session inserted first.
		if mongo.IsDuplicateKeyError(err) {
			return r.GetOrCreateDefault(ctx, tenantID, ownerID, gridColumns)
		}
		return nil, err
	}
	return &layout, nil
}

func (r *LayoutRepositoryImpl) GetLayout(ctx context.Context, id string) (*DashboardLayout, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperr.NotFoundf("layout %s", id)
	}

	var layout DashboardLayout
	err = r.layouts.FindOne(ctx, bson.M{"_id": oid}).Decode(&layout)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFoundf("layout %s", id)
		}
		return nil, err
	}
	return &layout, nil
}

func (r *LayoutRepositoryImpl) ListRegions(ctx context.Context, layoutID string) ([]Region, error) {
	cursor, err := r.regions.Find(ctx, bson.M{"layout_id": layoutID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var regions []Region
	if err = cursor.All(ctx, &regions); err != nil {
		return nil, err
	}
	return regions, nil
}

func (r *LayoutRepositoryImpl) GetRegion(ctx context.Context, id string) (*Region, error) {
	var region Region
	err := r.regions.FindOne(ctx, bson.M{"_id": id}).Decode(&region)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFoundf("region %s", id)
		}
		return nil, err
	}
	return &region, nil
}

func (r *LayoutRepositoryImpl) InsertRegion(ctx context.Context, region *Region) error {
	if region.ID == "" {
		region.ID = primitive.NewObjectID().Hex()
	}
	now := time.Now()
	region.CreatedAt = now
	region.UpdatedAt = now

	_, err := r.regions.InsertOne(ctx, region)
	return err
}

func (r *LayoutRepositoryImpl) CommitRegion(ctx context.Context, region *Region, token time.Time) (*Region, error) {
	region.UpdatedAt = time.Now()

	update := bson.M{
		"$set": bson.M{
			"type":             region.Type,
			"title":            region.Title,
			"placement":        region.Placement,
			"is_locked":        region.IsLocked,
			"locked_by":        region.LockedBy,
			"is_collapsed":     region.IsCollapsed,
			"pre_collapse":     region.PreCollapse,
			"config":           region.Config,
			"widget_type":      region.WidgetType,
			"widget_config":    region.WidgetConfig,
			"updated_at":       region.UpdatedAt,
			"last_modified_by": region.ModifiedBy,
		},
	}

	result, err := r.regions.UpdateOne(ctx, bson.M{"_id": region.ID, "updated_at": token}, update)
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		// Either the token is stale or the region is gone; fetch decides.
		current, err := r.GetRegion(ctx, region.ID)
		if err != nil {
			return nil, err
		}
		return nil, &apperr.ConflictError{RegionID: region.ID, Remote: current.Clone()}
	}
	return region, nil
}

func (r *LayoutRepositoryImpl) DeleteRegion(ctx context.Context, id string) error {
	result, err := r.regions.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return apperr.NotFoundf("region %s", id)
	}
	return nil
}

// ReplaceRegions swaps a layout's full region set, used by version revert
// and layout reset.
func (r *LayoutRepositoryImpl) ReplaceRegions(ctx context.Context, layoutID string, regions []Region) error {
	if _, err := r.regions.DeleteMany(ctx, bson.M{"layout_id": layoutID}); err != nil {
		return err
	}
	if len(regions) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(regions))
	for i := range regions {
		docs = append(docs, regions[i])
	}
	_, err := r.regions.InsertMany(ctx, docs)
	return err
}

// DeleteLayout removes a layout and cascades to its regions so no region
// ever references a missing layout.
func (r *LayoutRepositoryImpl) DeleteLayout(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return apperr.NotFoundf("layout %s", id)
	}
	if _, err := r.regions.DeleteMany(ctx, bson.M{"layout_id": id}); err != nil {
		return err
	}
	result, err := r.layouts.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return apperr.NotFoundf("layout %s", id)
	}
	return nil
}

func (r *LayoutRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.layouts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "owner_id", Value: 1},
			{Key: "is_default", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"is_default": true}),
	})
	if err != nil {
		return err
	}
	_, err = r.regions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "layout_id", Value: 1}},
	})
	return err
}
