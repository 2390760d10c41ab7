package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"accesshub.org/internal/auth"
	"accesshub.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Role, claims.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermission resolves the actor's permission set through their role
// and rejects the request when the key is missing. Grants are read fresh on
// every call so a permission edit takes effect immediately.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, perm string) (actorID string, ok bool) {
	actorID, found := auth.UserIDFromContext(r.Context())
	if !found {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	keys, err := a.rbac.UserPermissions(r.Context(), actorID)
	if err != nil {
		handleRBACError(w, r, err)
		return "", false
	}
	for _, key := range keys {
		if key == perm {
			return actorID, true
		}
	}
	obs.CountGuardTrip("permission_denied")
	writeError(w, r, http.StatusForbidden, "permission denied: "+perm)
	return "", false
}

func requireUser(ctx context.Context) (string, bool) {
	return auth.UserIDFromContext(ctx)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
