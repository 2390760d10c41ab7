package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"accesshub.org/internal/rbac"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateRoleMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into roles").
		WithArgs(sqlmock.AnyArg(), "Editor", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreateRole(context.Background(), "Editor", "")
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	expectationsMet(t, mock)
}

func TestDeleteRoleAtomicGuard(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	// clean delete
	mock.ExpectExec("delete from roles").WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.DeleteRole(ctx, "r1"); err != nil {
		t.Fatalf("clean delete: %v", err)
	}

	// blocked by references, soft-deleted holders included
	mock.ExpectExec("delete from roles").WithArgs("r2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name, is_system from roles").WithArgs("r2").
		WillReturnRows(sqlmock.NewRows([]string{"name", "is_system"}).AddRow("Contractor", false))
	mock.ExpectQuery("select count").WithArgs("Contractor").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	if err := store.DeleteRole(ctx, "r2"); !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("referenced delete: got %v, want ErrConflict", err)
	}

	// blocked because the role is system
	mock.ExpectExec("delete from roles").WithArgs("r3").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name, is_system from roles").WithArgs("r3").
		WillReturnRows(sqlmock.NewRows([]string{"name", "is_system"}).AddRow("admin", true))
	mock.ExpectQuery("select count").WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	if err := store.DeleteRole(ctx, "r3"); !errors.Is(err, rbac.ErrForbidden) {
		t.Fatalf("system delete: got %v, want ErrForbidden", err)
	}

	// gone entirely
	mock.ExpectExec("delete from roles").WithArgs("r4").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name, is_system from roles").WithArgs("r4").
		WillReturnRows(sqlmock.NewRows([]string{"name", "is_system"}))
	if err := store.DeleteRole(ctx, "r4"); !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("missing delete: got %v, want ErrNotFound", err)
	}

	expectationsMet(t, mock)
}

func TestSoftDeleteUserIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("update users set deleted_at").WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.SoftDeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("first delete: %v", err)
	}

	mock.ExpectExec("update users set deleted_at").WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from users").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	if err := store.SoftDeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}

	mock.ExpectExec("update users set deleted_at").WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from users").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	if err := store.SoftDeleteUser(ctx, "ghost"); !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("missing user: got %v, want ErrNotFound", err)
	}

	expectationsMet(t, mock)
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into users").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreateUser(context.Background(), rbac.User{Email: "dup@example.com"})
	if !errors.Is(err, rbac.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	expectationsMet(t, mock)
}

func TestSetRolePermissionsReplacesAtomically(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("delete from role_permissions").WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into role_permissions").WithArgs("r1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_permissions").WithArgs("r1", "p2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update roles set updated_at").WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.SetRolePermissions(context.Background(), "r1", []string{"p1", "p2"}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	expectationsMet(t, mock)
}

func TestSetRolePermissionsUnknownPermission(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles").WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("delete from role_permissions").WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into role_permissions").WithArgs("r1", "ghost").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	err := store.SetRolePermissions(context.Background(), "r1", []string{"ghost"})
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestUserStatsScan(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select").
		WillReturnRows(sqlmock.NewRows([]string{"total", "active", "inactive", "verified", "deleted"}).
			AddRow(10, 7, 3, 6, 2))

	stats, err := store.UserStats(context.Background())
	if err != nil {
		t.Fatalf("UserStats: %v", err)
	}
	if stats.Total != 10 || stats.Active != 7 || stats.Deleted != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	expectationsMet(t, mock)
}

func TestListUsersBuildsFilters(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("select count").
		WithArgs("admin", "%smith%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("select id, email").
		WithArgs("admin", "%smith%", 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "first_name", "last_name", "role_name", "is_active",
			"is_email_verified", "provider", "password_hash", "deleted_at",
			"last_login", "created_at", "updated_at",
		}).AddRow("u1", "smith@example.com", "Sam", "Smith", "admin", true,
			true, "local", "hash", nil, nil, now, now))

	users, page, err := store.ListUsers(context.Background(), rbac.UserQuery{
		Page: 1, Limit: 20, Role: "admin", Search: "smith", SortBy: "created_at", SortOrder: "desc",
	})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 || users[0].Email != "smith@example.com" {
		t.Fatalf("users = %v", users)
	}
	if page.Total != 1 || page.TotalPages != 1 {
		t.Fatalf("page = %+v", page)
	}
	expectationsMet(t, mock)
}
