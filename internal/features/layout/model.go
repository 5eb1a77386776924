package layout

import (
	"time"

	"go-gridboard/pkg/grid"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RegionType string

const (
	RegionTypeMetric RegionType = "metric"
	RegionTypeChart  RegionType = "chart"
	RegionTypeTable  RegionType = "table"
	RegionTypeList   RegionType = "list"
	RegionTypeWidget RegionType = "widget" // sandboxed third-party widget
)

// Region is one placed, sized widget instance on a dashboard grid.
// UpdatedAt doubles as the optimistic-concurrency version token: a commit
// only applies if the token the client holds still matches the stored one.
type Region struct {
	ID           string                 `json:"id" bson:"_id"`
	LayoutID     string                 `json:"layout_id" bson:"layout_id"`
	TenantID     string                 `json:"tenant_id" bson:"tenant_id"`
	Type         RegionType             `json:"type" bson:"type"`
	Title        string                 `json:"title" bson:"title"`
	Placement    grid.Placement         `json:"placement" bson:"placement"`
	IsLocked     bool                   `json:"is_locked" bson:"is_locked"`
	LockedBy     string                 `json:"locked_by,omitempty" bson:"locked_by,omitempty"`
	IsCollapsed  bool                   `json:"is_collapsed" bson:"is_collapsed"`
	PreCollapse  *grid.Placement        `json:"pre_collapse,omitempty" bson:"pre_collapse,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty" bson:"config,omitempty"`
	WidgetType   string                 `json:"widget_type,omitempty" bson:"widget_type,omitempty"`
	WidgetConfig map[string]interface{} `json:"widget_config,omitempty" bson:"widget_config,omitempty"`
	CreatedAt    time.Time              `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at" bson:"updated_at"`
	ModifiedBy   string                 `json:"last_modified_by" bson:"last_modified_by"`
}

// Placed converts the region to the validator's view of it.
func (r *Region) Placed() grid.PlacedRegion {
	return grid.PlacedRegion{ID: r.ID, Placement: r.Placement, Collapsed: r.IsCollapsed}
}

// Clone returns a deep copy safe to hand across goroutines.
func (r *Region) Clone() *Region {
	cp := *r
	if r.PreCollapse != nil {
		pc := *r.PreCollapse
		cp.PreCollapse = &pc
	}
	cp.Config = cloneMap(r.Config)
	cp.WidgetConfig = cloneMap(r.WidgetConfig)
	return &cp
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DashboardLayout is the owning aggregate for a user's region set.
type DashboardLayout struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	TenantID    string             `json:"tenant_id" bson:"tenant_id"`
	OwnerID     string             `json:"owner_id" bson:"owner_id"`
	Name        string             `json:"name" bson:"name"`
	GridColumns int                `json:"grid_columns" bson:"grid_columns"`
	RowHeight   int                `json:"row_height" bson:"row_height"`
	StateTag    string             `json:"state_tag,omitempty" bson:"state_tag,omitempty"`
	IsShared    bool               `json:"is_shared" bson:"is_shared"`
	IsDefault   bool               `json:"is_default" bson:"is_default"`
	CreatedAt   time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" bson:"updated_at"`
}

// RegionMutation is the commit payload a session sends to the authority.
// Token is the UpdatedAt the client last saw for the region; zero for a
// brand new region.
type RegionMutation struct {
	Region *Region   `json:"region"`
	Token  time.Time `json:"token"`
	Actor  string    `json:"actor"`
}
