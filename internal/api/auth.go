package api

import (
	"context"
	"net/http"
	"strings"

	"goldmarket/internal/users"
)

type contextKey string

const principalKey contextKey = "principal"

// principalID returns the authenticated user id from the request context.
func principalID(r *http.Request) (uint64, bool) {
	id, ok := r.Context().Value(principalKey).(uint64)
	return id, ok
}

// requireAuth resolves the Bearer session token and injects the principal
// into the request context. Requests without a valid session get 401.
func requireAuth(sessions *users.Sessions, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "auth_required", "not logged in")
			return
		}

		userID, err := sessions.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "auth_required", "invalid session")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), principalKey, userID)))
	}
}
