package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service provides the console's permission, role and user operations on top
// of a Store. All protection rules (system-role immutability, self-targeting
// guards, referenced-role deletion) are enforced here, at the authoritative
// boundary, regardless of what the client already checked.
type Service struct {
	store Store
}

// NewService constructs a Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	return &Service{store: store}, nil
}

// EnsureBuiltins installs the permission catalog and the system roles. Safe
// to call on every start; existing rows are left untouched. Freshly created
// admin-tier roles are granted the full CRUD set.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	if err := s.store.EnsurePermissions(ctx, Catalog()); err != nil {
		return fmt.Errorf("ensure permissions: %w", err)
	}
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return err
	}
	var fullCRUD []string
	for _, p := range perms {
		if p.Action != ActionManage {
			fullCRUD = append(fullCRUD, p.ID)
		}
	}

	descriptions := map[string]string{
		"admin":       "Administers users, roles and sessions",
		"super admin": "Unrestricted administrative access",
		"user":        "Default role for regular accounts",
		"employee":    "Internal staff account",
	}
	for _, name := range SystemRoleNames {
		role, created, err := s.store.EnsureRole(ctx, Role{
			Name:        name,
			Description: descriptions[name],
			IsSystem:    true,
		})
		if err != nil {
			return fmt.Errorf("ensure role %s: %w", name, err)
		}
		if created && (name == "admin" || name == "super admin") {
			if err := s.store.SetRolePermissions(ctx, role.ID, fullCRUD); err != nil {
				return fmt.Errorf("grant %s permissions: %w", name, err)
			}
		}
	}
	return nil
}

// ListPermissions returns the full catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// Matrix builds the CRUD selection matrix over the current catalog.
func (s *Service) Matrix(ctx context.Context) (Matrix, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return Matrix{}, err
	}
	return NewMatrix(perms), nil
}

// --- Roles ---

// CreateRole creates a custom role. System roles only come from seeding.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.store.CreateRole(ctx, name, strings.TrimSpace(description))
}

// ListRoles returns all roles with user counts.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole returns a role with its permission set resolved.
func (s *Service) GetRole(ctx context.Context, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, roleID)
}

// UpdateRole renames or re-describes a role. System roles are immutable,
// with one exception: the seeded "admin" role accepts description-only
// updates so operators can annotate it.
func (s *Service) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if role.IsSystem {
		adminDescribeOnly := NormalizeID(role.Name) == "admin" && upd.Name == nil && upd.Description != nil
		if !adminDescribeOnly {
			return Role{}, fmt.Errorf("%w: system roles cannot be modified", ErrForbidden)
		}
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	return s.store.UpdateRole(ctx, roleID, upd)
}

// DeleteRole removes a custom, unreferenced role. The reference check is
// enforced atomically by the store, not by a separate count read.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system roles cannot be deleted", ErrForbidden)
	}
	return s.store.DeleteRole(ctx, roleID)
}

// GetRolePermissions returns the role's resolved permission set.
func (s *Service) GetRolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.RolePermissions(ctx, roleID)
}

// SetRolePermissions replaces the role's permission set in one atomic
// operation. Fails for system roles, unknown permission ids and bare manage
// grants: manage is never storable, only expandable via ToggleResourceAll.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system roles cannot be modified", ErrForbidden)
	}

	ids := dedupeStrings(permissionIDs)
	catalog, err := s.store.ListPermissions(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]Permission, len(catalog))
	for _, p := range catalog {
		byID[p.ID] = p
	}
	for _, id := range ids {
		perm, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: permission %s does not exist", ErrNotFound, id)
		}
		if perm.Action == ActionManage {
			return fmt.Errorf("%w: %s is an aggregate permission and cannot be granted directly", ErrInvalidInput, perm.Key())
		}
	}
	return s.store.SetRolePermissions(ctx, roleID, ids)
}

// ToggleResourceAll adds or removes every CRUD permission for one resource in
// a single logical operation (the "select all" checkbox).
func (s *Service) ToggleResourceAll(ctx context.Context, roleID, resource string, enable bool) error {
	roleID = strings.TrimSpace(roleID)
	resource = strings.TrimSpace(strings.ToLower(resource))
	if roleID == "" || resource == "" {
		return fmt.Errorf("%w: role_id and resource are required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system roles cannot be modified", ErrForbidden)
	}
	matrix, err := s.Matrix(ctx)
	if err != nil {
		return err
	}
	crud := matrix.CRUD(resource)
	if len(crud) == 0 {
		return fmt.Errorf("%w: unknown resource %s", ErrInvalidInput, resource)
	}

	next := role.PermissionIDs()
	for _, p := range crud {
		if enable {
			next[p.ID] = struct{}{}
		} else {
			delete(next, p.ID)
		}
	}
	ids := make([]string, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}
	return s.store.SetRolePermissions(ctx, roleID, ids)
}

// CountUsersForRole reports how many non-deleted users hold the role.
func (s *Service) CountUsersForRole(ctx context.Context, roleName string) (int, error) {
	roleName = strings.TrimSpace(roleName)
	if roleName == "" {
		return 0, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.store.CountUsersForRole(ctx, roleName)
}

// RoleStats returns total/system/custom counts by the persisted flag.
func (s *Service) RoleStats(ctx context.Context) (RoleStats, error) {
	return s.store.RoleStats(ctx)
}

// --- Users ---

// CreateUserInput carries user creation fields. When Password is empty a
// random credential is generated, mirroring invite-style provisioning.
type CreateUserInput struct {
	Email     string
	FirstName string
	LastName  string
	RoleName  string
	Provider  string
	Password  string
	IsActive  *bool
}

// CreateUser validates input, resolves the role by name and stores the user
// with a bcrypt password hash.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return User{}, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	roleName := strings.TrimSpace(in.RoleName)
	if roleName == "" {
		return User{}, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	role, err := s.store.GetRoleByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, fmt.Errorf("%w: role %s does not exist", ErrNotFound, roleName)
		}
		return User{}, err
	}

	password := in.Password
	if password == "" {
		password, err = GeneratePassword()
		if err != nil {
			return User{}, err
		}
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	provider := strings.TrimSpace(strings.ToLower(in.Provider))
	if provider == "" {
		provider = "local"
	}
	return s.store.CreateUser(ctx, User{
		Email:        email,
		FirstName:    first,
		LastName:     last,
		RoleName:     role.Name,
		Provider:     provider,
		IsActive:     active,
		PasswordHash: hash,
	})
}

// ListUsers lists users with filters, sorting and pagination. Soft-deleted
// users appear only under the explicit "deleted" status filter.
func (s *Service) ListUsers(ctx context.Context, q UserQuery) ([]User, Page, error) {
	q.Status = strings.TrimSpace(strings.ToLower(q.Status))
	switch q.Status {
	case "", "all", "active", "inactive", "verified", "unverified", "deleted":
	default:
		return nil, Page{}, fmt.Errorf("%w: unknown status filter %s", ErrInvalidInput, q.Status)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	q.Search = strings.TrimSpace(q.Search)
	q.Role = strings.TrimSpace(q.Role)
	q.Provider = strings.TrimSpace(strings.ToLower(q.Provider))
	q.SortOrder = strings.TrimSpace(strings.ToLower(q.SortOrder))
	if q.SortOrder != "asc" {
		q.SortOrder = "desc"
	}
	switch q.SortBy {
	case "email", "first_name", "last_name", "last_login", "created_at":
	default:
		q.SortBy = "created_at"
	}
	return s.store.ListUsers(ctx, q)
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.GetUser(ctx, userID)
}

// UpdateUser edits a user record. Self-edits are rejected before any field
// validation runs, so a failed guard leaves nothing half-applied.
func (s *Service) UpdateUser(ctx context.Context, actorID, userID string, upd UserUpdate) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if err := AssertNotSelf(actorID, userID, "edit"); err != nil {
		return User{}, err
	}
	if upd.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*upd.Email))
		if email == "" || !strings.Contains(email, "@") {
			return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		upd.Email = &email
	}
	if upd.RoleName != nil {
		roleName := strings.TrimSpace(*upd.RoleName)
		role, err := s.store.GetRoleByName(ctx, roleName)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return User{}, fmt.Errorf("%w: role %s does not exist", ErrNotFound, roleName)
			}
			return User{}, err
		}
		upd.RoleName = &role.Name
	}
	if upd.Password != nil {
		if *upd.Password == "" {
			return User{}, fmt.Errorf("%w: password cannot be empty", ErrInvalidInput)
		}
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return User{}, err
		}
		upd.Password = &hash
	}
	return s.store.UpdateUser(ctx, userID, upd)
}

// AssignRole binds a user to a role by name. The role must exist at
// assignment time.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, roleName string) (User, error) {
	roleName = strings.TrimSpace(roleName)
	if roleName == "" {
		return User{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.UpdateUser(ctx, actorID, userID, UserUpdate{RoleName: &roleName})
}

// SetUserActive toggles the active flag, refusing self-targets.
func (s *Service) SetUserActive(ctx context.Context, actorID, userID string, active bool) (User, error) {
	verb := "deactivate"
	if active {
		verb = "activate"
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if err := AssertNotSelf(actorID, userID, verb); err != nil {
		return User{}, err
	}
	return s.store.UpdateUser(ctx, userID, UserUpdate{IsActive: &active})
}

// DeleteUser soft-deletes a user. Idempotent: deleting an already-deleted
// user succeeds, so retries are harmless.
func (s *Service) DeleteUser(ctx context.Context, actorID, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if err := AssertNotSelf(actorID, userID, "delete"); err != nil {
		return err
	}
	return s.store.SoftDeleteUser(ctx, userID)
}

// RestoreUser clears the soft-delete marker.
func (s *Service) RestoreUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.RestoreUser(ctx, userID)
}

// BulkDeleteUsers deletes a batch of users independently. The actor's own id
// is silently removed from the batch rather than failing it; every remaining
// id gets a per-item outcome.
func (s *Service) BulkDeleteUsers(ctx context.Context, actorID string, userIDs []string) (BulkDeleteResult, error) {
	ids := dedupeStrings(userIDs)
	if len(ids) == 0 {
		return BulkDeleteResult{}, fmt.Errorf("%w: user ids are required", ErrInvalidInput)
	}

	result := BulkDeleteResult{}
	for _, id := range ids {
		if IsOwnAccount(actorID, id) {
			result.SelfExcluded = true
			continue
		}
		item := BulkDeleteItem{UserID: id, OK: true}
		if err := s.store.SoftDeleteUser(ctx, id); err != nil {
			item.OK = false
			item.Error = err.Error()
			result.FailureCount++
		} else {
			result.SuccessCount++
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// Authenticate checks credentials for token issuance. Deleted and inactive
// accounts fail the same way as a wrong password so the response does not
// leak account state.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return User{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, fmt.Errorf("%w: invalid credentials", ErrForbidden)
		}
		return User{}, err
	}
	if user.Deleted() || !user.IsActive || !VerifyPassword(user.PasswordHash, password) {
		return User{}, fmt.Errorf("%w: invalid credentials", ErrForbidden)
	}
	return user, nil
}

// TouchLogin stamps a successful authentication.
func (s *Service) TouchLogin(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	now := nowUTC()
	_, err := s.store.UpdateUser(ctx, userID, UserUpdate{LastLogin: &now})
	return err
}

// UserStats summarizes users for the dashboard.
func (s *Service) UserStats(ctx context.Context) (UserStats, error) {
	return s.store.UserStats(ctx)
}

// UserPermissions resolves the permission keys granted to a user through its
// role. Used by the HTTP layer to gate handlers.
func (s *Service) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.UserPermissions(ctx, userID)
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
