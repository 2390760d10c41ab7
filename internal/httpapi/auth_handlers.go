package httpapi

import (
	"net/http"

	"accesshub.org/internal/audit"
	"accesshub.org/internal/auth"
	"accesshub.org/internal/obs"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.rbac.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		// credential failures always read the same from outside
		obs.CountGuardTrip("login_failed")
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	sess, err := a.sessions.Track(r.Context(), user.ID, clientIP(r), r.UserAgent())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	token, err := auth.GenerateToken(user.ID, user.RoleName, sess.ID, a.opts.TokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := a.rbac.TouchLogin(r.Context(), user.ID); err != nil {
		obs.LogEvent(map[string]any{
			"type":  "touch_login_failed",
			"user":  user.ID,
			"error": err.Error(),
		})
	}
	a.record(r, user.ID, user.Email, "auth.login", "session", sess.ID, "", nil)

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(a.opts.TokenTTL.Seconds()),
		"user":       user,
	})
}

// record queues an audit entry enriched with request metadata.
func (a *API) record(r *http.Request, actorID, actorEmail, action, resourceType, resourceID, resourceName string, changes []audit.FieldChange) {
	a.auditor.Record(audit.Entry{
		ActorID:      actorID,
		ActorEmail:   actorEmail,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ResourceName: resourceName,
		Changes:      changes,
		IP:           clientIP(r),
		UserAgent:    r.UserAgent(),
	})
}
