package httpapi

import (
	"net/http"
	"strings"

	"accesshub.org/internal/audit"
	"accesshub.org/internal/rbac"
)

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.ensurePermission(w, r, rbac.PermRolesRead); !ok {
		return
	}
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	matrix, err := a.rbac.Matrix(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": perms,
		"groups":      rbac.GroupByResource(perms),
		"resources":   matrix.Resources(),
	})
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensurePermission(w, r, rbac.PermRolesRead); !ok {
			return
		}
		roles, err := a.rbac.ListRoles(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		actorID, ok := a.ensurePermission(w, r, rbac.PermRolesCreate)
		if !ok {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.CreateRole(r.Context(), req.Name, req.Description)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.record(r, actorID, "", "role.create", "role", role.ID, role.Name, nil)
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "stats":
		a.handleRoleStats(w, r)
	case len(parts) == 1 && parts[0] != "":
		a.handleRoleByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRolePermissions(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "permissions" && parts[2] == "toggle":
		a.handleRolePermissionToggle(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (a *API) handleRoleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.ensurePermission(w, r, rbac.PermRolesRead); !ok {
		return
	}
	stats, err := a.rbac.RoleStats(r.Context())
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleRoleByID(w http.ResponseWriter, r *http.Request, roleID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensurePermission(w, r, rbac.PermRolesRead); !ok {
			return
		}
		role, err := a.rbac.GetRole(r.Context(), roleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPatch, http.MethodPut:
		actorID, ok := a.ensurePermission(w, r, rbac.PermRolesUpdate)
		if !ok {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		before, err := a.rbac.GetRole(r.Context(), roleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		role, err := a.rbac.UpdateRole(r.Context(), roleID, rbac.RoleUpdate{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.record(r, actorID, "", "role.update", "role", role.ID, role.Name, audit.Diff(map[string][2]any{
			"name":        {before.Name, role.Name},
			"description": {before.Description, role.Description},
		}))
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		actorID, ok := a.ensurePermission(w, r, rbac.PermRolesDelete)
		if !ok {
			return
		}
		role, err := a.rbac.GetRole(r.Context(), roleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		if err := a.rbac.DeleteRole(r.Context(), roleID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.record(r, actorID, "", "role.delete", "role", role.ID, role.Name, nil)
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodPut, http.MethodDelete)
	}
}

type setPermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids"`
}

type toggleResourceRequest struct {
	Resource string `json:"resource"`
	Enabled  bool   `json:"enabled"`
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.ensurePermission(w, r, rbac.PermRolesRead); !ok {
			return
		}
		perms, err := a.rbac.GetRolePermissions(r.Context(), roleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
	case http.MethodPut:
		actorID, ok := a.ensurePermission(w, r, rbac.PermRolesUpdate)
		if !ok {
			return
		}
		var req setPermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rbac.SetRolePermissions(r.Context(), roleID, req.PermissionIDs); err != nil {
			handleRBACError(w, r, err)
			return
		}
		role, err := a.rbac.GetRole(r.Context(), roleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.record(r, actorID, "", "role.permissions.set", "role", role.ID, role.Name, nil)
		writeJSON(w, http.StatusOK, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleRolePermissionToggle(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actorID, ok := a.ensurePermission(w, r, rbac.PermRolesUpdate)
	if !ok {
		return
	}
	var req toggleResourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.rbac.ToggleResourceAll(r.Context(), roleID, req.Resource, req.Enabled); err != nil {
		handleRBACError(w, r, err)
		return
	}
	role, err := a.rbac.GetRole(r.Context(), roleID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.record(r, actorID, "", "role.permissions.toggle", "role", role.ID, role.Name,
		[]audit.FieldChange{{Field: req.Resource, New: req.Enabled}})
	writeJSON(w, http.StatusOK, role)
}
