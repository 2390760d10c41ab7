package httpapi

import (
	"net/http"
	"strings"

	"accesshub.org/internal/audit"
	"accesshub.org/internal/auth"
	"accesshub.org/internal/rbac"
)

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := requireUser(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	current, _ := auth.SessionIDFromContext(r.Context())
	sessions, err := a.sessions.List(r.Context(), userID, current)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleSessionSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"), "/")
	userID, ok := requireUser(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	if rest == "terminate-others" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		current, _ := auth.SessionIDFromContext(r.Context())
		removed, err := a.sessions.TerminateOthers(r.Context(), userID, current)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.record(r, userID, "", "session.terminate_others", "session", "", "", nil)
		writeJSON(w, http.StatusOK, map[string]any{"terminated": removed})
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.sessions.Terminate(r.Context(), userID, rest); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.record(r, userID, "", "session.terminate", "session", rest, "", nil)
	writeJSON(w, http.StatusOK, map[string]any{"terminated": true})
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.ensurePermission(w, r, rbac.PermAuditRead); !ok {
		return
	}
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit "+err.Error())
		return
	}
	entries, err := a.auditLog.List(r.Context(), audit.Query{
		ActorID:      q.Get("actor_id"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		Limit:        limit,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
