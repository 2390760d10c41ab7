package rbac

import "time"

// Action is a permission verb applied to a resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"

	// ActionManage is the aggregate "everything on this resource" verb. It is
	// part of the catalog but never independently grantable; toggling it on a
	// role materializes the four CRUD permissions instead.
	ActionManage Action = "manage"
)

// Permission is a fine-grained capability scoped to a resource.
type Permission struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	Action      Action    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns the canonical "resource:action" identifier.
func (p Permission) Key() string {
	return p.Resource + ":" + string(p.Action)
}

// Role groups permissions under a unique, case-insensitive name. IsSystem is
// persisted write-once at seed time and never derived from the name, so
// renaming a custom role to "admin" does not grant it protection.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	IsSystem    bool         `json:"is_system"`
	Permissions []Permission `json:"permissions,omitempty"`
	UserCount   int          `json:"user_count"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PermissionIDs returns the set of permission ids held by the role.
func (r Role) PermissionIDs() map[string]struct{} {
	set := make(map[string]struct{}, len(r.Permissions))
	for _, p := range r.Permissions {
		set[p.ID] = struct{}{}
	}
	return set
}

// PermissionKeys returns the set of "resource:action" keys held by the role.
func (r Role) PermissionKeys() map[string]struct{} {
	set := make(map[string]struct{}, len(r.Permissions))
	for _, p := range r.Permissions {
		set[p.Key()] = struct{}{}
	}
	return set
}

// User is an administrable account. Deletion is a soft delete: DeletedAt is
// set, the record survives and can be restored.
type User struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	RoleName        string     `json:"role"`
	IsActive        bool       `json:"is_active"`
	IsEmailVerified bool       `json:"is_email_verified"`
	Provider        string     `json:"provider"`
	PasswordHash    string     `json:"-"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	LastLogin       *time.Time `json:"last_login,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Deleted reports whether the user is soft-deleted.
func (u User) Deleted() bool { return u.DeletedAt != nil }

// RoleUpdate carries optional role field changes.
type RoleUpdate struct {
	Name        *string
	Description *string
}

// UserUpdate carries optional user field changes. Password holds a bcrypt
// hash, never plaintext.
type UserUpdate struct {
	Email           *string
	FirstName       *string
	LastName        *string
	RoleName        *string
	Provider        *string
	IsActive        *bool
	IsEmailVerified *bool
	Password        *string
	LastLogin       *time.Time
}

// UserQuery restricts and orders a user listing. All filters AND together.
type UserQuery struct {
	Page      int
	Limit     int
	Search    string
	Role      string
	Status    string // one of: all, active, inactive, verified, unverified, deleted
	Provider  string
	SortBy    string
	SortOrder string
}

// Page is pagination metadata returned with user listings.
type Page struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// UserStats summarizes users for the console dashboard. Soft-deleted users
// count only toward Deleted.
type UserStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Verified int `json:"verified"`
	Deleted  int `json:"deleted"`
}

// RoleStats summarizes roles, split by the persisted system flag.
type RoleStats struct {
	Total       int `json:"total"`
	SystemRoles int `json:"system_roles"`
	CustomRoles int `json:"custom_roles"`
}

// BulkDeleteItem is the per-target outcome of a bulk delete.
type BulkDeleteItem struct {
	UserID string `json:"user_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// BulkDeleteResult reports a bulk delete. The batch is not transactional:
// every target is processed independently. When the actor's own id was part
// of the request it is filtered out, not failed, and SelfExcluded is set.
type BulkDeleteResult struct {
	SuccessCount int              `json:"success_count"`
	FailureCount int              `json:"failure_count"`
	SelfExcluded bool             `json:"self_excluded"`
	Items        []BulkDeleteItem `json:"items"`
}
