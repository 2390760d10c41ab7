package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"accesshub.org/internal/ids"
	"accesshub.org/internal/rbac"
)

var _ rbac.Store = (*Store)(nil)

func (s *Store) EnsurePermissions(ctx context.Context, perms []rbac.Permission) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, resource, action, description)
			values ($1, $2, $3, $4)
			on conflict (resource, action) do nothing
		`, ids.New(), p.Resource, string(p.Action), nullIfEmpty(p.Description)); err != nil {
			return fmt.Errorf("ensure permission %s: %w", p.Key(), err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, resource, action, coalesce(description, ''), created_at
		from permissions
		order by resource, action
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		var action string
		if err := rows.Scan(&p.ID, &p.Resource, &action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Action = rbac.Action(action)
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) CreateRole(ctx context.Context, name, description string) (rbac.Role, error) {
	if s.db == nil {
		return rbac.Role{}, errors.New("database connection unavailable")
	}
	var role rbac.Role
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description, is_system)
		values ($1, $2, $3, false)
		returning id, name, description, is_system, created_at, updated_at
	`, ids.New(), name, nullIfEmpty(description)).Scan(
		&role.ID, &role.Name, &desc, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.Role{}, fmt.Errorf("%w: role %s already exists", rbac.ErrConflict, name)
		}
		return rbac.Role{}, err
	}
	role.Description = desc.String
	role.Permissions = []rbac.Permission{}
	return role, nil
}

func (s *Store) EnsureRole(ctx context.Context, role rbac.Role) (rbac.Role, bool, error) {
	if s.db == nil {
		return rbac.Role{}, false, errors.New("database connection unavailable")
	}
	existing, err := s.GetRoleByName(ctx, role.Name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, rbac.ErrNotFound) {
		return rbac.Role{}, false, err
	}

	var created rbac.Role
	var desc sql.NullString
	err = s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description, is_system)
		values ($1, $2, $3, $4)
		returning id, name, description, is_system, created_at, updated_at
	`, ids.New(), role.Name, nullIfEmpty(role.Description), role.IsSystem).Scan(
		&created.ID, &created.Name, &desc, &created.IsSystem, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		// lost a seeding race, the row is there now
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			existing, gerr := s.GetRoleByName(ctx, role.Name)
			if gerr != nil {
				return rbac.Role{}, false, gerr
			}
			return existing, false, nil
		}
		return rbac.Role{}, false, err
	}
	created.Description = desc.String
	created.Permissions = []rbac.Permission{}
	return created, true, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, coalesce(r.description, ''), r.is_system, r.created_at, r.updated_at,
		       (select count(*) from users u where lower(u.role_name) = lower(r.name) and u.deleted_at is null)
		from roles r
		order by r.is_system desc, r.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rbac.Role
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem,
			&role.CreatedAt, &role.UpdatedAt, &role.UserCount); err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		perms, err := s.RolePermissions(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Permissions = perms
	}
	return result, nil
}

func (s *Store) GetRole(ctx context.Context, roleID string) (rbac.Role, error) {
	return s.getRoleWhere(ctx, `id = $1`, roleID)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	return s.getRoleWhere(ctx, `lower(name) = lower($1)`, strings.TrimSpace(name))
}

func (s *Store) getRoleWhere(ctx context.Context, where string, arg any) (rbac.Role, error) {
	if s.db == nil {
		return rbac.Role{}, errors.New("database connection unavailable")
	}
	var role rbac.Role
	err := s.db.QueryRowContext(ctx, `
		select r.id, r.name, coalesce(r.description, ''), r.is_system, r.created_at, r.updated_at,
		       (select count(*) from users u where lower(u.role_name) = lower(r.name) and u.deleted_at is null)
		from roles r
		where r.`+where, arg).Scan(
		&role.ID, &role.Name, &role.Description, &role.IsSystem,
		&role.CreatedAt, &role.UpdatedAt, &role.UserCount)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, fmt.Errorf("%w: role %v", rbac.ErrNotFound, arg)
	}
	if err != nil {
		return rbac.Role{}, err
	}
	perms, err := s.RolePermissions(ctx, role.ID)
	if err != nil {
		return rbac.Role{}, err
	}
	role.Permissions = perms
	return role, nil
}

func (s *Store) UpdateRole(ctx context.Context, roleID string, upd rbac.RoleUpdate) (rbac.Role, error) {
	if s.db == nil {
		return rbac.Role{}, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rbac.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var oldName string
	err = tx.QueryRowContext(ctx, `select name from roles where id = $1 for update`, roleID).Scan(&oldName)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, fmt.Errorf("%w: role %s", rbac.ErrNotFound, roleID)
	}
	if err != nil {
		return rbac.Role{}, err
	}

	set := []string{"updated_at = now()"}
	args := []any{roleID}
	if upd.Name != nil {
		args = append(args, *upd.Name)
		set = append(set, fmt.Sprintf("name = $%d", len(args)))
	}
	if upd.Description != nil {
		args = append(args, nullIfEmpty(*upd.Description))
		set = append(set, fmt.Sprintf("description = $%d", len(args)))
	}
	if _, err := tx.ExecContext(ctx,
		`update roles set `+strings.Join(set, ", ")+` where id = $1`, args...); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.Role{}, fmt.Errorf("%w: role %s already exists", rbac.ErrConflict, *upd.Name)
		}
		return rbac.Role{}, err
	}
	// user rows reference roles by name, keep them bound across a rename
	if upd.Name != nil && !strings.EqualFold(oldName, *upd.Name) {
		if _, err := tx.ExecContext(ctx,
			`update users set role_name = $1 where lower(role_name) = lower($2)`, *upd.Name, oldName); err != nil {
			return rbac.Role{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return rbac.Role{}, err
	}
	return s.GetRole(ctx, roleID)
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	// one statement so a concurrent assignment cannot slip between the
	// reference check and the delete
	res, err := s.db.ExecContext(ctx, `
		delete from roles r
		where r.id = $1
		  and r.is_system = false
		  and not exists (
			select 1 from users u where lower(u.role_name) = lower(r.name)
		  )
	`, roleID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var name string
	var isSystem bool
	err = s.db.QueryRowContext(ctx,
		`select name, is_system from roles where id = $1`, roleID).Scan(&name, &isSystem)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: role %s", rbac.ErrNotFound, roleID)
	}
	if err != nil {
		return err
	}
	var refs int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from users where lower(role_name) = lower($1)`, name).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: role %s is assigned to %d user(s)", rbac.ErrConflict, name, refs)
	}
	if isSystem {
		return fmt.Errorf("%w: system roles cannot be deleted", rbac.ErrForbidden)
	}
	return fmt.Errorf("%w: role %s", rbac.ErrNotFound, roleID)
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	err = tx.QueryRowContext(ctx, `select 1 from roles where id = $1 for update`, roleID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: role %s", rbac.ErrNotFound, roleID)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
			on conflict do nothing
		`, roleID, permID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: permission %s", rbac.ErrNotFound, permID)
			}
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `update roles set updated_at = now() where id = $1`, roleID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RolePermissions(ctx context.Context, roleID string) ([]rbac.Permission, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.resource, p.action, coalesce(p.description, ''), p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.resource, p.action
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []rbac.Permission{}
	for rows.Next() {
		var p rbac.Permission
		var action string
		if err := rows.Scan(&p.ID, &p.Resource, &action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Action = rbac.Action(action)
		result = append(result, p)
	}
	return result, rows.Err()
}

const userColumns = `id, email, first_name, last_name, role_name, is_active, is_email_verified,
	provider, password_hash, deleted_at, last_login, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (rbac.User, error) {
	var u rbac.User
	var deletedAt, lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.RoleName,
		&u.IsActive, &u.IsEmailVerified, &u.Provider, &u.PasswordHash,
		&deletedAt, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return rbac.User{}, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, user rbac.User) (rbac.User, error) {
	if s.db == nil {
		return rbac.User{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, first_name, last_name, role_name, is_active, is_email_verified, provider, password_hash)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+userColumns+`
	`, ids.New(), user.Email, user.FirstName, user.LastName, user.RoleName,
		user.IsActive, user.IsEmailVerified, user.Provider, user.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.User{}, fmt.Errorf("%w: email %s already registered", rbac.ErrConflict, user.Email)
		}
		return rbac.User{}, err
	}
	return created, nil
}

var userSortColumns = map[string]string{
	"email":      "lower(email)",
	"first_name": "lower(first_name)",
	"last_name":  "lower(last_name)",
	"last_login": "last_login",
	"created_at": "created_at",
}

func (s *Store) ListUsers(ctx context.Context, q rbac.UserQuery) ([]rbac.User, rbac.Page, error) {
	if s.db == nil {
		return nil, rbac.Page{}, errors.New("database connection unavailable")
	}
	where := []string{"1=1"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch q.Status {
	case "deleted":
		where = append(where, "deleted_at is not null")
	case "active":
		where = append(where, "deleted_at is null", "is_active = true")
	case "inactive":
		where = append(where, "deleted_at is null", "is_active = false")
	case "verified":
		where = append(where, "deleted_at is null", "is_email_verified = true")
	case "unverified":
		where = append(where, "deleted_at is null", "is_email_verified = false")
	default:
		where = append(where, "deleted_at is null")
	}
	if q.Role != "" {
		where = append(where, "lower(role_name) = lower("+arg(q.Role)+")")
	}
	if q.Provider != "" {
		where = append(where, "provider = "+arg(q.Provider))
	}
	if q.Search != "" {
		pattern := "%" + q.Search + "%"
		p := arg(pattern)
		where = append(where, "(email ilike "+p+" or first_name ilike "+p+" or last_name ilike "+p+")")
	}
	cond := strings.Join(where, " and ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from users where `+cond, args...).Scan(&total); err != nil {
		return nil, rbac.Page{}, err
	}

	sortCol, ok := userSortColumns[q.SortBy]
	if !ok {
		sortCol = "created_at"
	}
	dir := "desc"
	if q.SortOrder == "asc" {
		dir = "asc"
	}
	query := `select ` + userColumns + ` from users where ` + cond +
		` order by ` + sortCol + ` ` + dir + ` nulls last, id ` + dir +
		` limit ` + arg(q.Limit) + ` offset ` + arg((q.Page-1)*q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rbac.Page{}, err
	}
	defer rows.Close()

	users := []rbac.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, rbac.Page{}, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, rbac.Page{}, err
	}
	page := rbac.Page{
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}
	return users, page, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (rbac.User, error) {
	if s.db == nil {
		return rbac.User{}, errors.New("database connection unavailable")
	}
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.User{}, fmt.Errorf("%w: user %s", rbac.ErrNotFound, userID)
	}
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (rbac.User, error) {
	if s.db == nil {
		return rbac.User{}, errors.New("database connection unavailable")
	}
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email) = lower($1)`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.User{}, fmt.Errorf("%w: user %s", rbac.ErrNotFound, email)
	}
	return u, err
}

func (s *Store) UpdateUser(ctx context.Context, userID string, upd rbac.UserUpdate) (rbac.User, error) {
	if s.db == nil {
		return rbac.User{}, errors.New("database connection unavailable")
	}
	set := []string{"updated_at = now()"}
	args := []any{userID}
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.FirstName != nil {
		add("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		add("last_name", *upd.LastName)
	}
	if upd.RoleName != nil {
		add("role_name", *upd.RoleName)
	}
	if upd.Provider != nil {
		add("provider", *upd.Provider)
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	if upd.IsEmailVerified != nil {
		add("is_email_verified", *upd.IsEmailVerified)
	}
	if upd.Password != nil {
		add("password_hash", *upd.Password)
	}
	if upd.LastLogin != nil {
		add("last_login", *upd.LastLogin)
	}

	row := s.db.QueryRowContext(ctx,
		`update users set `+strings.Join(set, ", ")+` where id = $1 returning `+userColumns, args...)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.User{}, fmt.Errorf("%w: user %s", rbac.ErrNotFound, userID)
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.User{}, fmt.Errorf("%w: email already registered", rbac.ErrConflict)
		}
		return rbac.User{}, err
	}
	return u, nil
}

func (s *Store) SoftDeleteUser(ctx context.Context, userID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update users set deleted_at = now(), updated_at = now()
		where id = $1 and deleted_at is null
	`, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	// already deleted is a success, missing is not
	var dummy int
	err = s.db.QueryRowContext(ctx, `select 1 from users where id = $1`, userID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: user %s", rbac.ErrNotFound, userID)
	}
	return err
}

func (s *Store) RestoreUser(ctx context.Context, userID string) (rbac.User, error) {
	if s.db == nil {
		return rbac.User{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		update users set deleted_at = null, updated_at = now()
		where id = $1
		returning `+userColumns, userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.User{}, fmt.Errorf("%w: user %s", rbac.ErrNotFound, userID)
	}
	return u, err
}

func (s *Store) CountUsersForRole(ctx context.Context, roleName string) (int, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from users
		where lower(role_name) = lower($1) and deleted_at is null
	`, roleName).Scan(&count)
	return count, err
}

func (s *Store) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select p.resource || ':' || p.action
		from users u
		join roles r on lower(r.name) = lower(u.role_name)
		join role_permissions rp on rp.role_id = r.id
		join permissions p on p.id = rp.permission_id
		where u.id = $1
		order by 1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) UserStats(ctx context.Context) (rbac.UserStats, error) {
	if s.db == nil {
		return rbac.UserStats{}, errors.New("database connection unavailable")
	}
	var stats rbac.UserStats
	err := s.db.QueryRowContext(ctx, `
		select
			count(*) filter (where deleted_at is null),
			count(*) filter (where deleted_at is null and is_active),
			count(*) filter (where deleted_at is null and not is_active),
			count(*) filter (where deleted_at is null and is_email_verified),
			count(*) filter (where deleted_at is not null)
		from users
	`).Scan(&stats.Total, &stats.Active, &stats.Inactive, &stats.Verified, &stats.Deleted)
	return stats, err
}

func (s *Store) RoleStats(ctx context.Context) (rbac.RoleStats, error) {
	if s.db == nil {
		return rbac.RoleStats{}, errors.New("database connection unavailable")
	}
	var stats rbac.RoleStats
	err := s.db.QueryRowContext(ctx, `
		select count(*),
		       count(*) filter (where is_system),
		       count(*) filter (where not is_system)
		from roles
	`).Scan(&stats.Total, &stats.SystemRoles, &stats.CustomRoles)
	return stats, err
}
