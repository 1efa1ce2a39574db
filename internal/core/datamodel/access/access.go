package access

import "time"

type Organization struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	Name      string    `gorm:"column:name;not null"`
	Slug      string    `gorm:"column:slug;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
}

func (Organization) TableName() string { return "organizations" }

type Permission struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	Name        string    `gorm:"column:name;uniqueIndex;not null"`
	DisplayName string    `gorm:"column:display_name;not null"`
	Category    string    `gorm:"column:category;not null"`
	Description *string   `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
}

func (Permission) TableName() string { return "permissions" }

type DynamicRole struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"`
	OrganizationID *string   `gorm:"column:organization_id;type:varchar(36);uniqueIndex:idx_dynamic_roles_org_name"`
	Name           string    `gorm:"column:name;not null;uniqueIndex:idx_dynamic_roles_org_name"`
	DisplayName    string    `gorm:"column:display_name;not null"`
	Description    *string   `gorm:"column:description"`
	IsSystemRole   bool      `gorm:"column:is_system_role;not null;default:false"`
	IsOrgAdmin     bool      `gorm:"column:is_org_admin;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"column:updated_at;default:CURRENT_TIMESTAMP"`
}

func (DynamicRole) TableName() string { return "dynamic_roles" }

type RolePermission struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)"`
	RoleID       string    `gorm:"column:role_id;type:varchar(36);not null;uniqueIndex:idx_role_permissions_pair"`
	PermissionID string    `gorm:"column:permission_id;type:varchar(36);not null;uniqueIndex:idx_role_permissions_pair"`
	CreatedAt    time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
}

func (RolePermission) TableName() string { return "role_permissions" }

type UserDynamicRole struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"`
	UserID         string    `gorm:"column:user_id;type:varchar(36);not null;uniqueIndex:idx_user_dynamic_roles_user_org"`
	OrganizationID string    `gorm:"column:organization_id;type:varchar(36);not null;uniqueIndex:idx_user_dynamic_roles_user_org"`
	RoleID         string    `gorm:"column:role_id;type:varchar(36);not null"`
	CreatedAt      time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"column:updated_at;default:CURRENT_TIMESTAMP"`
}

func (UserDynamicRole) TableName() string { return "user_dynamic_roles" }

type PageVisibility struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"`
	OrganizationID string    `gorm:"column:organization_id;type:varchar(36);not null;index"`
	RoleID         string    `gorm:"column:role_id;type:varchar(36);not null;uniqueIndex:idx_page_visibility_role_path"`
	PagePath       string    `gorm:"column:page_path;not null;uniqueIndex:idx_page_visibility_role_path"`
	IsVisible      bool      `gorm:"column:is_visible;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"column:updated_at;default:CURRENT_TIMESTAMP"`
}

func (PageVisibility) TableName() string { return "page_visibility" }

type PhoneVisibilitySetting struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"`
	OrganizationID string    `gorm:"column:organization_id;type:varchar(36);not null;uniqueIndex:idx_phone_visibility_role_org"`
	RoleID         string    `gorm:"column:role_id;type:varchar(36);not null;uniqueIndex:idx_phone_visibility_role_org"`
	VisibilityMode string    `gorm:"column:visibility_mode;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"column:updated_at;default:CURRENT_TIMESTAMP"`
}

func (PhoneVisibilitySetting) TableName() string { return "phone_visibility_settings" }

type AuditLog struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"`
	OrganizationID *string   `gorm:"column:organization_id;type:varchar(36);index"`
	UserID         *string   `gorm:"column:user_id;type:varchar(36)"`
	Action         string    `gorm:"column:action;not null"`
	EntityType     string    `gorm:"column:entity_type;not null"`
	EntityID       *string   `gorm:"column:entity_id"`
	OldValues      *string   `gorm:"column:old_values"`
	NewValues      *string   `gorm:"column:new_values"`
	CreatedAt      time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// All returns every model in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&Organization{},
		&Permission{},
		&DynamicRole{},
		&RolePermission{},
		&UserDynamicRole{},
		&PageVisibility{},
		&PhoneVisibilitySetting{},
		&AuditLog{},
	}
}
