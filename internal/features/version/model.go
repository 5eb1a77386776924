package version

import (
	"time"

	"go-gridboard/internal/features/layout"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LayoutVersion is an immutable, named capture of a layout's full region
// set. Seq increases monotonically per layout; history is append-only.
type LayoutVersion struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	LayoutID  string             `json:"layout_id" bson:"layout_id"`
	TenantID  string             `json:"tenant_id" bson:"tenant_id"`
	Seq       int64              `json:"seq" bson:"seq"`
	Label     string             `json:"label" bson:"label"`
	Regions   []layout.Region    `json:"regions" bson:"regions"`
	CreatedBy string             `json:"created_by" bson:"created_by"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
}
