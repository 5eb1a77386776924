package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ContextKey string

const (
	TenantIDKey ContextKey = "tenant_id"
	UserIDKey   ContextKey = "user_id"
)

type AuditAction string

const (
	AuditActionRegionAdd     AuditAction = "REGION_ADD"
	AuditActionRegionUpdate  AuditAction = "REGION_UPDATE"
	AuditActionRegionRemove  AuditAction = "REGION_REMOVE"
	AuditActionRegionLock    AuditAction = "REGION_LOCK"
	AuditActionLayoutReset   AuditAction = "LAYOUT_RESET"
	AuditActionVersionCreate AuditAction = "VERSION_CREATE"
	AuditActionVersionRevert AuditAction = "VERSION_REVERT"
)

type Change struct {
	Old interface{} `bson:"old" json:"old"`
	New interface{} `bson:"new" json:"new"`
}

type AuditLog struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Action    AuditAction        `bson:"action" json:"action"`
	LayoutID  string             `bson:"layout_id" json:"layout_id"`
	RegionID  string             `bson:"region_id,omitempty" json:"region_id,omitempty"`
	ActorID   string             `bson:"actor_id" json:"actor_id"`
	Changes   map[string]Change  `bson:"changes,omitempty" json:"changes,omitempty"` // field -> {old, new}
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}

type Log struct {
	Message      string    `bson:"message" json:"message"`
	Caller       string    `bson:"caller" json:"caller"`
	TenantID     string    `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	LogLevelId   int       `bson:"log_level_id" json:"log_level_id"`
	AppId        string    `bson:"app_id" json:"app_id"`
	CreatedOnUtc time.Time `bson:"created_on_utc" json:"created_on_utc"`
}
