package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audited actions.
const (
	ActivityTestCreated       = "test.created"
	ActivityTestPublished     = "test.published"
	ActivityTestArchived      = "test.archived"
	ActivityTestDeleted       = "test.deleted"
	ActivityTestDuplicated    = "test.duplicated"
	ActivityTestShared        = "test.shared"
	ActivityAccessUpdated     = "test.access_updated"
	ActivityQuestionsImported = "test.questions_imported"
	ActivityInvitationsSent   = "invitation.sent"
	ActivityRoleChanged       = "user.role_changed"
)

// ActivityLog is an audit entry for an action taken by an admin or vendor.
type ActivityLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	ActorID    uint              `gorm:"not null;index" json:"actor_id"`
	ActorRole  string            `gorm:"size:32;not null" json:"actor_role"`
	Action     string            `gorm:"size:64;not null;index" json:"action"`
	EntityType string            `gorm:"size:64;not null" json:"entity_type"`
	EntityID   *uint             `json:"entity_id"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}
