package rbac

import "context"

// Store describes persistence operations required by the console core.
// Implementations must make each mutation atomic from the perspective of
// concurrent readers: a reader never observes a role with a half-replaced
// permission set.
type Store interface {
	// Permission catalog. Seeded once, read-only afterwards.
	EnsurePermissions(ctx context.Context, perms []Permission) error
	ListPermissions(ctx context.Context) ([]Permission, error)

	// Roles.
	CreateRole(ctx context.Context, name, description string) (Role, error)
	// EnsureRole upserts a seeded role by name, preserving an existing row.
	// The returned bool reports whether the role was created.
	EnsureRole(ctx context.Context, role Role) (Role, bool, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, roleID string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error)
	// DeleteRole must refuse, atomically with the delete itself, while any
	// user record still references the role; it returns ErrConflict in that
	// case and ErrNotFound when the role does not exist.
	DeleteRole(ctx context.Context, roleID string) error
	SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error
	RolePermissions(ctx context.Context, roleID string) ([]Permission, error)

	// Users.
	CreateUser(ctx context.Context, user User) (User, error)
	ListUsers(ctx context.Context, q UserQuery) ([]User, Page, error)
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	UpdateUser(ctx context.Context, userID string, upd UserUpdate) (User, error)
	SoftDeleteUser(ctx context.Context, userID string) error
	RestoreUser(ctx context.Context, userID string) (User, error)
	CountUsersForRole(ctx context.Context, roleName string) (int, error)
	UserPermissions(ctx context.Context, userID string) ([]string, error)
	UserStats(ctx context.Context) (UserStats, error)
	RoleStats(ctx context.Context) (RoleStats, error)
}
