package api

import (
	"net/http"
	"strings"

	"openchat/backend/internal/auth"
	app_errors "openchat/backend/internal/errors"
)

// TokenValidator returns the user id carried by a bearer token.
type TokenValidator interface {
	ValidateJWT(token string) (string, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's id in the request context.
func RequireAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				respondWithError(w, app_errors.ErrUnauthorized)
				return
			}

			userID, err := tokens.ValidateJWT(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				respondWithError(w, app_errors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
		})
	}
}

// callerID returns the authenticated user id. Handlers behind RequireAuth
// always have one.
func callerID(r *http.Request) (string, bool) {
	return auth.UserIDFromContext(r.Context())
}
