package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"accesshub.org/internal/ids"
)

// MemoryStore is an in-memory Store used by tests and by the API binary when
// no database is configured. All returned values are copies.
type MemoryStore struct {
	mu        sync.RWMutex
	perms     map[string]Permission          // id -> permission
	roles     map[string]Role                // id -> role (Permissions not resolved)
	grants    map[string]map[string]struct{} // role id -> permission ids
	users     map[string]User                // id -> user
	nowFn     func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		perms:  make(map[string]Permission),
		roles:  make(map[string]Role),
		grants: make(map[string]map[string]struct{}),
		users:  make(map[string]User),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) EnsurePermissions(_ context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := make(map[string]struct{}, len(m.perms))
	for _, p := range m.perms {
		existing[p.Key()] = struct{}{}
	}
	for _, p := range perms {
		if _, ok := existing[p.Key()]; ok {
			continue
		}
		p.ID = ids.New()
		p.CreatedAt = m.nowFn()
		m.perms[p.ID] = p
		existing[p.Key()] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) ListPermissions(_ context.Context) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (m *MemoryStore) CreateRole(_ context.Context, name, description string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roleByNameLocked(name); ok {
		return Role{}, fmt.Errorf("%w: role %s already exists", ErrConflict, name)
	}
	now := m.nowFn()
	role := Role{
		ID:          ids.New(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.roles[role.ID] = role
	m.grants[role.ID] = make(map[string]struct{})
	return m.resolveRoleLocked(role), nil
}

func (m *MemoryStore) EnsureRole(_ context.Context, role Role) (Role, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.roleByNameLocked(role.Name); ok {
		return m.resolveRoleLocked(existing), false, nil
	}
	now := m.nowFn()
	role.ID = ids.New()
	role.CreatedAt = now
	role.UpdatedAt = now
	role.Permissions = nil
	m.roles[role.ID] = role
	m.grants[role.ID] = make(map[string]struct{})
	return m.resolveRoleLocked(role), true, nil
}

func (m *MemoryStore) ListRoles(_ context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, m.resolveRoleLocked(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetRole(_ context.Context, roleID string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[roleID]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	return m.resolveRoleLocked(role), nil
}

func (m *MemoryStore) GetRoleByName(_ context.Context, name string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roleByNameLocked(name)
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, name)
	}
	return m.resolveRoleLocked(role), nil
}

func (m *MemoryStore) UpdateRole(_ context.Context, roleID string, upd RoleUpdate) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	if upd.Name != nil {
		if other, ok := m.roleByNameLocked(*upd.Name); ok && other.ID != roleID {
			return Role{}, fmt.Errorf("%w: role %s already exists", ErrConflict, *upd.Name)
		}
		// user rows reference roles by name, keep them bound across a rename
		for id, u := range m.users {
			if NormalizeID(u.RoleName) == NormalizeID(role.Name) {
				u.RoleName = *upd.Name
				m.users[id] = u
			}
		}
		role.Name = *upd.Name
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	role.UpdatedAt = m.nowFn()
	m.roles[roleID] = role
	return m.resolveRoleLocked(role), nil
}

func (m *MemoryStore) DeleteRole(_ context.Context, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	// soft-deleted users still pin the role; restoring one must never
	// resurrect a dangling role name
	refs := 0
	for _, u := range m.users {
		if NormalizeID(u.RoleName) == NormalizeID(role.Name) {
			refs++
		}
	}
	if refs > 0 {
		return fmt.Errorf("%w: role %s is assigned to %d user(s)", ErrConflict, role.Name, refs)
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system roles cannot be deleted", ErrForbidden)
	}
	delete(m.roles, roleID)
	delete(m.grants, roleID)
	return nil
}

func (m *MemoryStore) SetRolePermissions(_ context.Context, roleID string, permissionIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	next := make(map[string]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := m.perms[id]; !ok {
			return fmt.Errorf("%w: permission %s", ErrNotFound, id)
		}
		next[id] = struct{}{}
	}
	m.grants[roleID] = next
	role.UpdatedAt = m.nowFn()
	m.roles[roleID] = role
	return nil
}

func (m *MemoryStore) RolePermissions(_ context.Context, roleID string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.roles[roleID]; !ok {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	return m.grantedLocked(roleID), nil
}

func (m *MemoryStore) CreateUser(_ context.Context, user User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return User{}, fmt.Errorf("%w: email %s already registered", ErrConflict, user.Email)
		}
	}
	now := m.nowFn()
	user.ID = ids.New()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = user
	return user, nil
}

func (m *MemoryStore) ListUsers(_ context.Context, q UserQuery) ([]User, Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]User, 0, len(m.users))
	for _, u := range m.users {
		if !matchStatus(u, q.Status) {
			continue
		}
		if q.Role != "" && NormalizeID(u.RoleName) != NormalizeID(q.Role) {
			continue
		}
		if q.Provider != "" && u.Provider != q.Provider {
			continue
		}
		if q.Search != "" {
			needle := strings.ToLower(q.Search)
			hay := strings.ToLower(u.Email + " " + u.FirstName + " " + u.LastName)
			if !strings.Contains(hay, needle) {
				continue
			}
		}
		matched = append(matched, u)
	}

	sortUsers(matched, q.SortBy, q.SortOrder)

	total := len(matched)
	page := Page{
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}
	start := (q.Page - 1) * q.Limit
	if start >= total {
		return []User{}, page, nil
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return matched[start:end], page, nil
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return user, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("%w: user %s", ErrNotFound, email)
}

func (m *MemoryStore) UpdateUser(_ context.Context, userID string, upd UserUpdate) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if upd.Email != nil {
		for id, u := range m.users {
			if id != userID && strings.EqualFold(u.Email, *upd.Email) {
				return User{}, fmt.Errorf("%w: email %s already registered", ErrConflict, *upd.Email)
			}
		}
		user.Email = *upd.Email
	}
	if upd.FirstName != nil {
		user.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		user.LastName = *upd.LastName
	}
	if upd.RoleName != nil {
		user.RoleName = *upd.RoleName
	}
	if upd.Provider != nil {
		user.Provider = *upd.Provider
	}
	if upd.IsActive != nil {
		user.IsActive = *upd.IsActive
	}
	if upd.IsEmailVerified != nil {
		user.IsEmailVerified = *upd.IsEmailVerified
	}
	if upd.Password != nil {
		user.PasswordHash = *upd.Password
	}
	if upd.LastLogin != nil {
		t := *upd.LastLogin
		user.LastLogin = &t
	}
	user.UpdatedAt = m.nowFn()
	m.users[userID] = user
	return user, nil
}

func (m *MemoryStore) SoftDeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if user.DeletedAt != nil {
		return nil
	}
	now := m.nowFn()
	user.DeletedAt = &now
	user.UpdatedAt = now
	m.users[userID] = user
	return nil
}

func (m *MemoryStore) RestoreUser(_ context.Context, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	user.DeletedAt = nil
	user.UpdatedAt = m.nowFn()
	m.users[userID] = user
	return user, nil
}

func (m *MemoryStore) CountUsersForRole(_ context.Context, roleName string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, u := range m.users {
		if u.DeletedAt == nil && NormalizeID(u.RoleName) == NormalizeID(roleName) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) UserPermissions(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	role, ok := m.roleByNameLocked(user.RoleName)
	if !ok {
		return nil, nil
	}
	perms := m.grantedLocked(role.ID)
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key())
	}
	return keys, nil
}

func (m *MemoryStore) UserStats(_ context.Context) (UserStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats UserStats
	for _, u := range m.users {
		if u.DeletedAt != nil {
			stats.Deleted++
			continue
		}
		stats.Total++
		if u.IsActive {
			stats.Active++
		} else {
			stats.Inactive++
		}
		if u.IsEmailVerified {
			stats.Verified++
		}
	}
	return stats, nil
}

func (m *MemoryStore) RoleStats(_ context.Context) (RoleStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats RoleStats
	for _, r := range m.roles {
		stats.Total++
		if r.IsSystem {
			stats.SystemRoles++
		} else {
			stats.CustomRoles++
		}
	}
	return stats, nil
}

func (m *MemoryStore) roleByNameLocked(name string) (Role, bool) {
	norm := NormalizeID(name)
	for _, r := range m.roles {
		if NormalizeID(r.Name) == norm {
			return r, true
		}
	}
	return Role{}, false
}

func (m *MemoryStore) resolveRoleLocked(role Role) Role {
	role.Permissions = m.grantedLocked(role.ID)
	role.UserCount = 0
	for _, u := range m.users {
		if u.DeletedAt == nil && NormalizeID(u.RoleName) == NormalizeID(role.Name) {
			role.UserCount++
		}
	}
	return role
}

func (m *MemoryStore) grantedLocked(roleID string) []Permission {
	granted := m.grants[roleID]
	out := make([]Permission, 0, len(granted))
	for id := range granted {
		if p, ok := m.perms[id]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func matchStatus(u User, status string) bool {
	switch status {
	case "deleted":
		return u.DeletedAt != nil
	case "active":
		return u.DeletedAt == nil && u.IsActive
	case "inactive":
		return u.DeletedAt == nil && !u.IsActive
	case "verified":
		return u.DeletedAt == nil && u.IsEmailVerified
	case "unverified":
		return u.DeletedAt == nil && !u.IsEmailVerified
	default:
		return u.DeletedAt == nil
	}
}

func sortUsers(users []User, sortBy, order string) {
	less := func(i, j int) bool {
		a, b := users[i], users[j]
		switch sortBy {
		case "email":
			return strings.ToLower(a.Email) < strings.ToLower(b.Email)
		case "first_name":
			return strings.ToLower(a.FirstName) < strings.ToLower(b.FirstName)
		case "last_name":
			return strings.ToLower(a.LastName) < strings.ToLower(b.LastName)
		case "last_login":
			switch {
			case a.LastLogin == nil:
				return b.LastLogin != nil
			case b.LastLogin == nil:
				return false
			default:
				return a.LastLogin.Before(*b.LastLogin)
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		}
	}
	if order == "desc" {
		sort.SliceStable(users, func(i, j int) bool { return less(j, i) })
		return
	}
	sort.SliceStable(users, less)
}
