package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeRoleCreated         = "authz.role_created"
	EventTypeRoleUpdated         = "authz.role_updated"
	EventTypeRoleDeleted         = "authz.role_deleted"
	EventTypeRolePermissionsSet  = "authz.role_permissions_set"
	EventTypePageVisibilitySet   = "authz.page_visibility_set"
	EventTypePhoneVisibilitySet  = "authz.phone_visibility_set"
	EventTypeRoleAssigned        = "authz.role_assigned"
	EventTypeOrganizationCreated = "authz.organization_created"
)

const (
	EntityRole            = "role"
	EntityPageVisibility  = "page_visibility"
	EntityPhoneVisibility = "phone_visibility"
	EntityUserRole        = "user_role"
	EntityOrganization    = "organization"
)

// AccessEventTypes lists every event emitted by an access mutation.
var AccessEventTypes = []string{
	EventTypeRoleCreated,
	EventTypeRoleUpdated,
	EventTypeRoleDeleted,
	EventTypeRolePermissionsSet,
	EventTypePageVisibilitySet,
	EventTypePhoneVisibilitySet,
	EventTypeRoleAssigned,
	EventTypeOrganizationCreated,
}

// AccessChangedEvent records one successful access mutation.
type AccessChangedEvent struct {
	BaseEvent
	OrganizationID string `json:"organization_id"`
	ActorID        string `json:"actor_id"`
	EntityType     string `json:"entity_type"`
	EntityID       string `json:"entity_id"`
}

func newAccessChangedEvent(eventType, orgID, actorID, entityType, entityID string, data map[string]interface{}) *AccessChangedEvent {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &AccessChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data:      data,
		},
		OrganizationID: orgID,
		ActorID:        actorID,
		EntityType:     entityType,
		EntityID:       entityID,
	}
}

func NewRoleCreatedEvent(orgID, actorID, roleID, name string) *AccessChangedEvent {
	return newAccessChangedEvent(EventTypeRoleCreated, orgID, actorID, EntityRole, roleID,
		map[string]interface{}{"name": name})
}

func NewRoleUpdatedEvent(orgID, actorID, roleID string, changes map[string]interface{}) *AccessChangedEvent {
	return newAccessChangedEvent(EventTypeRoleUpdated, orgID, actorID, EntityRole, roleID, changes)
}

func NewRoleDeletedEvent(orgID, actorID, roleID string) *AccessChangedEvent {
	return newAccessChangedEvent(EventTypeRoleDeleted, orgID, actorID, EntityRole, roleID, nil)
}

func NewRolePermissionsSetEvent(orgID, actorID, roleID string, permissionIDs []string) *AccessChangedEvent {
	return newAccessChangedEvent(EventTypeRolePermissionsSet, orgID, actorID, EntityRole, roleID,
		map[string]interface{}{"permission_ids": permissionIDs})
}

func NewPageVisibilitySetEvent(orgID, actorID, roleID, path string, visible bool) *AccessChangedEvent {
	return newAccessChangedEvent(EventTypePageVisibilitySet, orgID, actorID, EntityPageVisibility, roleID,
		map[string]interface{}{"page_path": path, "is_visible": visible})
}

func NewPhoneVisibilitySetEvent(orgID, actorID, roleID, mode string) *AccessChangedEvent {
	return newAccessChangedEvent(EventTypePhoneVisibilitySet, orgID, actorID, EntityPhoneVisibility, roleID,
		map[string]interface{}{"visibility_mode": mode})
}

func NewRoleAssignedEvent(orgID, actorID, userID, roleID string) *AccessChangedEvent {
	return newAccessChangedEvent(EventTypeRoleAssigned, orgID, actorID, EntityUserRole, userID,
		map[string]interface{}{"role_id": roleID})
}

func NewOrganizationCreatedEvent(orgID, actorID, name, slug string) *AccessChangedEvent {
	return newAccessChangedEvent(EventTypeOrganizationCreated, orgID, actorID, EntityOrganization, orgID,
		map[string]interface{}{"name": name, "slug": slug})
}
