package httpapi

import (
	"net/http"
	"strings"

	"accesshub.org/internal/audit"
	"accesshub.org/internal/rbac"
)

type createUserRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	Provider  string `json:"provider"`
	Password  string `json:"password"`
	IsActive  *bool  `json:"is_active"`
}

type updateUserRequest struct {
	Email           *string `json:"email"`
	FirstName       *string `json:"first_name"`
	LastName        *string `json:"last_name"`
	Role            *string `json:"role"`
	Provider        *string `json:"provider"`
	IsEmailVerified *bool   `json:"is_email_verified"`
	Password        *string `json:"password"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensurePermission(w, r, rbac.PermUsersRead); !ok {
			return
		}
		q := r.URL.Query()
		page, err := parsePositiveInt(q.Get("page"), 1, 1, 1<<30)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "page "+err.Error())
			return
		}
		limit, err := parsePositiveInt(q.Get("limit"), 20, 1, 100)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "limit "+err.Error())
			return
		}
		users, meta, err := a.rbac.ListUsers(r.Context(), rbac.UserQuery{
			Page:      page,
			Limit:     limit,
			Search:    q.Get("search"),
			Role:      q.Get("role"),
			Status:    q.Get("status"),
			Provider:  q.Get("provider"),
			SortBy:    q.Get("sort_by"),
			SortOrder: q.Get("sort_order"),
		})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"users":      users,
			"pagination": meta,
		})
	case http.MethodPost:
		actorID, ok := a.ensurePermission(w, r, rbac.PermUsersCreate)
		if !ok {
			return
		}
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.rbac.CreateUser(r.Context(), rbac.CreateUserInput{
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			RoleName:  req.Role,
			Provider:  req.Provider,
			Password:  req.Password,
			IsActive:  req.IsActive,
		})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.record(r, actorID, "", "user.create", "user", user.ID, user.Email, nil)
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "stats":
		a.handleUserStats(w, r)
	case len(parts) == 1 && parts[0] == "bulk-delete":
		a.handleBulkDelete(w, r)
	case len(parts) == 1 && parts[0] != "":
		a.handleUserByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "restore":
		a.handleUserRestore(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "active":
		a.handleUserActive(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "role":
		a.handleUserRole(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "sessions":
		a.handleUserSessions(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "sessions":
		a.handleUserSessionDelete(w, r, parts[0], parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (a *API) handleUserStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.ensurePermission(w, r, rbac.PermUsersRead); !ok {
		return
	}
	stats, err := a.rbac.UserStats(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type bulkDeleteRequest struct {
	UserIDs []string `json:"user_ids"`
}

func (a *API) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actorID, ok := a.ensurePermission(w, r, rbac.PermUsersDelete)
	if !ok {
		return
	}
	var req bulkDeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.rbac.BulkDeleteUsers(r.Context(), actorID, req.UserIDs)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.record(r, actorID, "", "user.bulk_delete", "user", "", "", nil)
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleUserByID(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensurePermission(w, r, rbac.PermUsersRead); !ok {
			return
		}
		user, err := a.rbac.GetUser(r.Context(), userID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch, http.MethodPut:
		actorID, ok := a.ensurePermission(w, r, rbac.PermUsersUpdate)
		if !ok {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		before, err := a.rbac.GetUser(r.Context(), userID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		user, err := a.rbac.UpdateUser(r.Context(), actorID, userID, rbac.UserUpdate{
			Email:           req.Email,
			FirstName:       req.FirstName,
			LastName:        req.LastName,
			RoleName:        req.Role,
			Provider:        req.Provider,
			IsEmailVerified: req.IsEmailVerified,
			Password:        req.Password,
		})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.record(r, actorID, "", "user.update", "user", user.ID, user.Email, audit.Diff(map[string][2]any{
			"email":      {before.Email, user.Email},
			"first_name": {before.FirstName, user.FirstName},
			"last_name":  {before.LastName, user.LastName},
			"role":       {before.RoleName, user.RoleName},
		}))
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		actorID, ok := a.ensurePermission(w, r, rbac.PermUsersDelete)
		if !ok {
			return
		}
		user, err := a.rbac.GetUser(r.Context(), userID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		if err := a.rbac.DeleteUser(r.Context(), actorID, userID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.record(r, actorID, "", "user.delete", "user", user.ID, user.Email, nil)
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleUserRestore(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actorID, ok := a.ensurePermission(w, r, rbac.PermUsersUpdate)
	if !ok {
		return
	}
	user, err := a.rbac.RestoreUser(r.Context(), userID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.record(r, actorID, "", "user.restore", "user", user.ID, user.Email, nil)
	writeJSON(w, http.StatusOK, user)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (a *API) handleUserActive(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actorID, ok := a.ensurePermission(w, r, rbac.PermUsersUpdate)
	if !ok {
		return
	}
	var req setActiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.rbac.SetUserActive(r.Context(), actorID, userID, req.Active)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.record(r, actorID, "", "user.set_active", "user", user.ID, user.Email,
		[]audit.FieldChange{{Field: "is_active", New: req.Active}})
	writeJSON(w, http.StatusOK, user)
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actorID, ok := a.ensurePermission(w, r, rbac.PermUsersUpdate)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	before, err := a.rbac.GetUser(r.Context(), userID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	user, err := a.rbac.AssignRole(r.Context(), actorID, userID, req.Role)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.record(r, actorID, "", "user.assign_role", "user", user.ID, user.Email,
		[]audit.FieldChange{{Field: "role", Old: before.RoleName, New: user.RoleName}})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUserSessions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.ensurePermission(w, r, rbac.PermSessionsRead); !ok {
		return
	}
	sessions, err := a.sessions.List(r.Context(), userID, "")
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleUserSessionDelete(w http.ResponseWriter, r *http.Request, userID, sessionID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	actorID, ok := a.ensurePermission(w, r, rbac.PermSessionsDelete)
	if !ok {
		return
	}
	if err := a.sessions.Terminate(r.Context(), userID, sessionID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.record(r, actorID, "", "session.terminate", "session", sessionID, "", nil)
	writeJSON(w, http.StatusOK, map[string]any{"terminated": true})
}
