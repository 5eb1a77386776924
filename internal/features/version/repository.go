package version

import (
	"context"
	"errors"

	"go-gridboard/internal/common/apperr"
	"go-gridboard/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type VersionRepository interface {
	Insert(ctx context.Context, v *LayoutVersion) error
	Get(ctx context.Context, id string) (*LayoutVersion, error)
	ListByLayout(ctx context.Context, layoutID string) ([]LayoutVersion, error)
	NextSeq(ctx context.Context, layoutID string) (int64, error)
	// PruneUnlabeled keeps the newest `keep` unlabeled versions per layout
	// and deletes the rest. Labeled versions are never pruned.
	PruneUnlabeled(ctx context.Context, layoutID string, keep int) (int64, error)
}

type VersionRepositoryImpl struct {
	collection *mongo.Collection
}

func NewVersionRepository(db *database.MongodbDB) VersionRepository {
	return &VersionRepositoryImpl{
		collection: db.DB.Collection("layout_versions"),
	}
}

func (r *VersionRepositoryImpl) Insert(ctx context.Context, v *LayoutVersion) error {
	if v.ID.IsZero() {
		v.ID = primitive.NewObjectID()
	}
	_, err := r.collection.InsertOne(ctx, v)
	return err
}

func (r *VersionRepositoryImpl) Get(ctx context.Context, id string) (*LayoutVersion, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperr.NotFoundf("version %s", id)
	}

	var v LayoutVersion
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&v)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFoundf("version %s", id)
		}
		return nil, err
	}
	return &v, nil
}

func (r *VersionRepositoryImpl) ListByLayout(ctx context.Context, layoutID string) ([]LayoutVersion, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"layout_id": layoutID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var versions []LayoutVersion
	if err = cursor.All(ctx, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func (r *VersionRepositoryImpl) NextSeq(ctx context.Context, layoutID string) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})

	var latest LayoutVersion
	err := r.collection.FindOne(ctx, bson.M{"layout_id": layoutID}, opts).Decode(&latest)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 1, nil
		}
		return 0, err
	}
	return latest.Seq + 1, nil
}

func (r *VersionRepositoryImpl) PruneUnlabeled(ctx context.Context, layoutID string, keep int) (int64, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetSkip(int64(keep)).
		SetProjection(bson.M{"_id": 1})

	cursor, err := r.collection.Find(ctx, bson.M{"layout_id": layoutID, "label": ""}, opts)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var stale []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err = cursor.All(ctx, &stale); err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]primitive.ObjectID, 0, len(stale))
	for _, s := range stale {
		ids = append(ids, s.ID)
	}
	result, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}
