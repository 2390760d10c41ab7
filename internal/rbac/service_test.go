package rbac

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	return svc, store
}

func permID(t *testing.T, svc *Service, key string) string {
	t.Helper()
	perms, err := svc.ListPermissions(context.Background())
	if err != nil {
		t.Fatalf("ListPermissions: %v", err)
	}
	for _, p := range perms {
		if p.Key() == key {
			return p.ID
		}
	}
	t.Fatalf("permission %s not in catalog", key)
	return ""
}

func seedUser(t *testing.T, svc *Service, email, role string) User {
	t.Helper()
	u, err := svc.CreateUser(context.Background(), CreateUserInput{
		Email:     email,
		FirstName: "Test",
		LastName:  "User",
		RoleName:  role,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func TestEnsureBuiltinsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("second EnsureBuiltins: %v", err)
	}
	roles, err := svc.ListRoles(ctx)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(roles) != len(SystemRoleNames) {
		t.Fatalf("got %d roles after reseed, want %d", len(roles), len(SystemRoleNames))
	}
	for _, r := range roles {
		if !r.IsSystem {
			t.Fatalf("seeded role %s not marked system", r.Name)
		}
	}

	admin, err := svc.GetRole(ctx, findRole(t, roles, "admin").ID)
	if err != nil {
		t.Fatalf("GetRole(admin): %v", err)
	}
	wantPerms := len(Resources) * len(CRUDActions)
	if len(admin.Permissions) != wantPerms {
		t.Fatalf("admin holds %d permissions, want %d", len(admin.Permissions), wantPerms)
	}
	for _, p := range admin.Permissions {
		if p.Action == ActionManage {
			t.Fatalf("admin granted aggregate permission %s", p.Key())
		}
	}
}

func findRole(t *testing.T, roles []Role, name string) Role {
	t.Helper()
	for _, r := range roles {
		if NormalizeID(r.Name) == name {
			return r
		}
	}
	t.Fatalf("role %s not found", name)
	return Role{}
}

func TestCreateRoleIsAlwaysCustom(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, "Editor", "Edits content")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if role.IsSystem {
		t.Fatalf("created role marked system")
	}

	if _, err := svc.CreateRole(ctx, "  editor ", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("case-insensitive duplicate: got %v, want ErrConflict", err)
	}
	if _, err := svc.CreateRole(ctx, "Admin", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("system name collision: got %v, want ErrConflict", err)
	}
	if _, err := svc.CreateRole(ctx, "   ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank name: got %v, want ErrInvalidInput", err)
	}
}

func TestUpdateRoleSystemProtection(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	roles, _ := svc.ListRoles(ctx)

	employee := findRole(t, roles, "employee")
	name := "Staff"
	if _, err := svc.UpdateRole(ctx, employee.ID, RoleUpdate{Name: &name}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("rename system role: got %v, want ErrForbidden", err)
	}

	admin := findRole(t, roles, "admin")
	desc := "Root operators"
	updated, err := svc.UpdateRole(ctx, admin.ID, RoleUpdate{Description: &desc})
	if err != nil {
		t.Fatalf("describe admin: %v", err)
	}
	if updated.Description != desc {
		t.Fatalf("admin description = %q, want %q", updated.Description, desc)
	}
	if _, err := svc.UpdateRole(ctx, admin.ID, RoleUpdate{Name: &name, Description: &desc}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("rename admin: got %v, want ErrForbidden", err)
	}

	custom, _ := svc.CreateRole(ctx, "Editor", "")
	renamed, err := svc.UpdateRole(ctx, custom.ID, RoleUpdate{Name: &name})
	if err != nil {
		t.Fatalf("rename custom role: %v", err)
	}
	if renamed.Name != "Staff" || renamed.IsSystem {
		t.Fatalf("rename result = %+v", renamed)
	}
}

func TestRenamedCustomRoleGainsNoProtection(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	role, _ := svc.CreateRole(ctx, "Temp", "")
	name := "Administrator"
	if _, err := svc.UpdateRole(ctx, role.ID, RoleUpdate{Name: &name}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := svc.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("delete renamed custom role: %v", err)
	}
}

func TestSetRolePermissionsRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	role, _ := svc.CreateRole(ctx, "Support Staff", "Helpdesk")
	want := []string{
		permID(t, svc, PermUsersRead),
		permID(t, svc, PermUsersUpdate),
		permID(t, svc, PermSessionsRead),
	}
	if err := svc.SetRolePermissions(ctx, role.ID, want); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	got, err := svc.GetRolePermissions(ctx, role.ID)
	if err != nil {
		t.Fatalf("GetRolePermissions: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("round trip returned %d permissions, want %d", len(got), len(want))
	}

	// replacement, not merge
	next := []string{permID(t, svc, PermAuditRead)}
	if err := svc.SetRolePermissions(ctx, role.ID, next); err != nil {
		t.Fatalf("replace permissions: %v", err)
	}
	got, _ = svc.GetRolePermissions(ctx, role.ID)
	if len(got) != 1 || got[0].Key() != PermAuditRead {
		t.Fatalf("after replace got %v", got)
	}
}

func TestSetRolePermissionsRejections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	role, _ := svc.CreateRole(ctx, "Editor", "")
	readID := permID(t, svc, PermUsersRead)
	if err := svc.SetRolePermissions(ctx, role.ID, []string{readID}); err != nil {
		t.Fatalf("initial grant: %v", err)
	}

	manageID := permID(t, svc, "users:manage")
	if err := svc.SetRolePermissions(ctx, role.ID, []string{readID, manageID}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("manage grant: got %v, want ErrInvalidInput", err)
	}
	if err := svc.SetRolePermissions(ctx, role.ID, []string{"missing-perm"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: got %v, want ErrNotFound", err)
	}

	// failed writes leave the set untouched
	got, _ := svc.GetRolePermissions(ctx, role.ID)
	if len(got) != 1 || got[0].ID != readID {
		t.Fatalf("permission set changed after rejected writes: %v", got)
	}

	roles, _ := svc.ListRoles(ctx)
	admin := findRole(t, roles, "admin")
	if err := svc.SetRolePermissions(ctx, admin.ID, []string{readID}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("system role grant: got %v, want ErrForbidden", err)
	}
}

func TestToggleResourceAll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	role, _ := svc.CreateRole(ctx, "Auditor", "")
	if err := svc.SetRolePermissions(ctx, role.ID, []string{permID(t, svc, PermAuditRead)}); err != nil {
		t.Fatalf("seed grant: %v", err)
	}

	if err := svc.ToggleResourceAll(ctx, role.ID, "users", true); err != nil {
		t.Fatalf("enable users: %v", err)
	}
	got, _ := svc.GetRole(ctx, role.ID)
	matrix, _ := svc.Matrix(ctx)
	if !matrix.FullySelected(got, "users") {
		t.Fatalf("users not fully selected after enable")
	}
	if len(got.Permissions) != len(CRUDActions)+1 {
		t.Fatalf("enable dropped unrelated grants: %d permissions", len(got.Permissions))
	}

	if err := svc.ToggleResourceAll(ctx, role.ID, "users", false); err != nil {
		t.Fatalf("disable users: %v", err)
	}
	got, _ = svc.GetRole(ctx, role.ID)
	if len(got.Permissions) != 1 || got.Permissions[0].Key() != PermAuditRead {
		t.Fatalf("disable left %v", got.Permissions)
	}

	if err := svc.ToggleResourceAll(ctx, role.ID, "invoices", true); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown resource: got %v, want ErrInvalidInput", err)
	}
}

func TestDeleteRoleGuards(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	role, _ := svc.CreateRole(ctx, "Contractor", "")
	user := seedUser(t, svc, "c1@example.com", "Contractor")

	err := svc.DeleteRole(ctx, role.ID)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("delete referenced role: got %v, want ErrConflict", err)
	}

	// still referenced while soft-deleted
	if err := svc.DeleteUser(ctx, "actor-1", user.ID); err != nil {
		t.Fatalf("soft delete user: %v", err)
	}
	if err := svc.DeleteRole(ctx, role.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("delete role pinned by deleted user: got %v, want ErrConflict", err)
	}

	if _, err := svc.AssignRole(ctx, "actor-1", user.ID, "user"); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if err := svc.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("delete unreferenced role: %v", err)
	}
	if _, err := svc.GetRole(ctx, role.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted role still readable: %v", err)
	}

	roles, _ := svc.ListRoles(ctx)
	admin := findRole(t, roles, "admin")
	if err := svc.DeleteRole(ctx, admin.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete system role: got %v, want ErrForbidden", err)
	}
	if err := svc.DeleteRole(ctx, "no-such-role"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing role: got %v, want ErrNotFound", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateUserInput
		want error
	}{
		{"missing email", CreateUserInput{FirstName: "A", LastName: "B", RoleName: "user"}, ErrInvalidInput},
		{"malformed email", CreateUserInput{Email: "nope", FirstName: "A", LastName: "B", RoleName: "user"}, ErrInvalidInput},
		{"missing names", CreateUserInput{Email: "a@example.com", RoleName: "user"}, ErrInvalidInput},
		{"missing role", CreateUserInput{Email: "a@example.com", FirstName: "A", LastName: "B"}, ErrInvalidInput},
		{"unknown role", CreateUserInput{Email: "a@example.com", FirstName: "A", LastName: "B", RoleName: "ghost"}, ErrNotFound},
	}
	for _, tc := range cases {
		if _, err := svc.CreateUser(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}

	u, err := svc.CreateUser(ctx, CreateUserInput{
		Email:     "  Dana@Example.COM ",
		FirstName: "Dana",
		LastName:  "Reyes",
		RoleName:  "ADMIN",
		Password:  "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Email != "dana@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if NormalizeID(u.RoleName) != "admin" {
		t.Fatalf("role not resolved: %q", u.RoleName)
	}
	if !u.IsActive || u.Provider != "local" {
		t.Fatalf("defaults not applied: %+v", u)
	}
	stored, _ := svc.GetUser(ctx, u.ID)
	if stored.PasswordHash == "" || stored.PasswordHash == "hunter2hunter2" {
		t.Fatalf("password stored without hashing")
	}
	if !VerifyPassword(stored.PasswordHash, "hunter2hunter2") {
		t.Fatalf("stored hash does not verify")
	}

	if _, err := svc.CreateUser(ctx, CreateUserInput{
		Email: "DANA@example.com", FirstName: "D", LastName: "R", RoleName: "user",
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email: got %v, want ErrConflict", err)
	}

	invited, err := svc.CreateUser(ctx, CreateUserInput{
		Email: "invite@example.com", FirstName: "I", LastName: "N", RoleName: "user",
	})
	if err != nil {
		t.Fatalf("invite-style create: %v", err)
	}
	stored, _ = svc.GetUser(ctx, invited.ID)
	if stored.PasswordHash == "" {
		t.Fatalf("generated credential not hashed and stored")
	}
}

func TestSelfTargetingGuards(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	actor := seedUser(t, svc, "actor@example.com", "admin")
	other := seedUser(t, svc, "other@example.com", "user")

	first := "Changed"
	if _, err := svc.UpdateUser(ctx, actor.ID, actor.ID, UserUpdate{FirstName: &first}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("self edit: got %v, want ErrForbidden", err)
	}
	if _, err := svc.SetUserActive(ctx, actor.ID, strings.ToUpper(actor.ID), false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("self deactivate with case-varied id: got %v, want ErrForbidden", err)
	}
	if err := svc.DeleteUser(ctx, actor.ID, actor.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("self delete: got %v, want ErrForbidden", err)
	}

	// the guard never blocks other targets
	if _, err := svc.UpdateUser(ctx, actor.ID, other.ID, UserUpdate{FirstName: &first}); err != nil {
		t.Fatalf("edit other: %v", err)
	}
	if _, err := svc.SetUserActive(ctx, actor.ID, other.ID, false); err != nil {
		t.Fatalf("deactivate other: %v", err)
	}
	if err := svc.DeleteUser(ctx, actor.ID, other.ID); err != nil {
		t.Fatalf("delete other: %v", err)
	}
}

func TestBulkDeleteFiltersActor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	actor := seedUser(t, svc, "actor@example.com", "admin")
	u1 := seedUser(t, svc, "u1@example.com", "user")
	u2 := seedUser(t, svc, "u2@example.com", "user")

	res, err := svc.BulkDeleteUsers(ctx, actor.ID, []string{u1.ID, actor.ID, u2.ID, u1.ID, "ghost"})
	if err != nil {
		t.Fatalf("BulkDeleteUsers: %v", err)
	}
	if !res.SelfExcluded {
		t.Fatalf("actor id in batch but SelfExcluded false")
	}
	if len(res.Items) != 3 {
		t.Fatalf("got %d items, want 3 (self filtered, duplicate collapsed)", len(res.Items))
	}
	if res.SuccessCount != 2 || res.FailureCount != 1 {
		t.Fatalf("counts = %d/%d, want 2 success 1 failure", res.SuccessCount, res.FailureCount)
	}
	if me, err := svc.GetUser(ctx, actor.ID); err != nil || me.Deleted() {
		t.Fatalf("actor was deleted by bulk operation: %v %v", me, err)
	}
	for _, id := range []string{u1.ID, u2.ID} {
		u, _ := svc.GetUser(ctx, id)
		if !u.Deleted() {
			t.Fatalf("user %s not deleted", id)
		}
	}

	res, err = svc.BulkDeleteUsers(ctx, actor.ID, []string{actor.ID})
	if err != nil {
		t.Fatalf("self-only batch: %v", err)
	}
	if !res.SelfExcluded || len(res.Items) != 0 || res.SuccessCount != 0 {
		t.Fatalf("self-only batch result = %+v", res)
	}
}

func TestSoftDeleteRestoreAndStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, svc, "gone@example.com", "user")
	seedUser(t, svc, "stays@example.com", "user")

	if err := svc.DeleteUser(ctx, "actor", u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// idempotent
	if err := svc.DeleteUser(ctx, "actor", u.ID); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}

	users, page, err := svc.ListUsers(ctx, UserQuery{})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if page.Total != 1 || len(users) != 1 || users[0].Email != "stays@example.com" {
		t.Fatalf("default listing includes deleted user: %v", users)
	}
	deleted, _, err := svc.ListUsers(ctx, UserQuery{Status: "deleted"})
	if err != nil {
		t.Fatalf("ListUsers(deleted): %v", err)
	}
	if len(deleted) != 1 || deleted[0].ID != u.ID {
		t.Fatalf("deleted filter returned %v", deleted)
	}

	stats, _ := svc.UserStats(ctx)
	if stats.Total != 1 || stats.Deleted != 1 {
		t.Fatalf("stats after delete = %+v", stats)
	}

	restored, err := svc.RestoreUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Deleted() {
		t.Fatalf("restored user still deleted")
	}
	stats, _ = svc.UserStats(ctx)
	if stats.Total != 2 || stats.Deleted != 0 {
		t.Fatalf("stats after restore = %+v", stats)
	}
}

func TestListUsersFiltersAndPaging(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, svc, "alice@example.com", "admin")
	seedUser(t, svc, "bob@example.com", "user")
	seedUser(t, svc, "carol@other.net", "user")

	byRole, _, err := svc.ListUsers(ctx, UserQuery{Role: "User"})
	if err != nil {
		t.Fatalf("role filter: %v", err)
	}
	if len(byRole) != 2 {
		t.Fatalf("role filter returned %d users, want 2", len(byRole))
	}

	bySearch, _, err := svc.ListUsers(ctx, UserQuery{Search: "ALICE"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(bySearch) != 1 || bySearch[0].Email != "alice@example.com" {
		t.Fatalf("search returned %v", bySearch)
	}

	sorted, _, err := svc.ListUsers(ctx, UserQuery{SortBy: "email", SortOrder: "asc"})
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if sorted[0].Email != "alice@example.com" || sorted[2].Email != "carol@other.net" {
		t.Fatalf("sort order wrong: %v", sorted)
	}

	pageOne, page, err := svc.ListUsers(ctx, UserQuery{Limit: 2, Page: 1, SortBy: "email", SortOrder: "asc"})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(pageOne) != 2 || page.Total != 3 || page.TotalPages != 2 {
		t.Fatalf("page 1 = %d users, meta %+v", len(pageOne), page)
	}
	pageTwo, _, _ := svc.ListUsers(ctx, UserQuery{Limit: 2, Page: 2, SortBy: "email", SortOrder: "asc"})
	if len(pageTwo) != 1 {
		t.Fatalf("page 2 = %d users, want 1", len(pageTwo))
	}

	if _, _, err := svc.ListUsers(ctx, UserQuery{Status: "bogus"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad status: got %v, want ErrInvalidInput", err)
	}
}

func TestUserPermissionsResolution(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	role, _ := svc.CreateRole(ctx, "Viewer", "")
	if err := svc.SetRolePermissions(ctx, role.ID, []string{
		permID(t, svc, PermUsersRead),
		permID(t, svc, PermRolesRead),
	}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	u := seedUser(t, svc, "viewer@example.com", "Viewer")

	keys, err := svc.UserPermissions(ctx, u.ID)
	if err != nil {
		t.Fatalf("UserPermissions: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2: %v", len(keys), keys)
	}
	have := map[string]bool{}
	for _, k := range keys {
		have[k] = true
	}
	if !have[PermUsersRead] || !have[PermRolesRead] {
		t.Fatalf("keys = %v", keys)
	}
}

func TestCountUsersForRoleExcludesDeleted(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u1 := seedUser(t, svc, "one@example.com", "user")
	seedUser(t, svc, "two@example.com", "user")

	if err := svc.DeleteUser(ctx, "actor", u1.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, err := svc.CountUsersForRole(ctx, "user")
	if err != nil {
		t.Fatalf("CountUsersForRole: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestRoleStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.CreateRole(ctx, "Editor", ""); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	stats, err := svc.RoleStats(ctx)
	if err != nil {
		t.Fatalf("RoleStats: %v", err)
	}
	if stats.SystemRoles != len(SystemRoleNames) || stats.CustomRoles != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Total != stats.SystemRoles+stats.CustomRoles {
		t.Fatalf("totals disagree: %+v", stats)
	}
}
