package middleware

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/dukerupert/kudos/internal/auth"
)

// RequireToken validates the bearer token and populates AuthContext. A token
// whose role is not in roles is rejected with 403.
func RequireToken(secret string, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="kudos"`)
				jsonError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := auth.Parse(raw, secret)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="kudos", error="invalid_token"`)
				jsonError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
				jsonError(w, http.StatusForbidden, "forbidden")
				return
			}

			ac := claims.Context()
			noteCaller(r.Context(), ac)
			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin checks that the authenticated caller has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			jsonError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
