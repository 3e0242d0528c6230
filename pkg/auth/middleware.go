// Package auth identifies the caller of a request from a signed JWT.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
)

// Roles a principal may carry.
const (
	RoleDonor      = "donor"
	RoleFundraiser = "fundraiser"
	RoleAdmin      = "admin"
)

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Role string
}

type contextKey string

const principalKey contextKey = "principal"

// tokenCookieName is checked when no Authorization header is sent.
const tokenCookieName = "goodeed_token"

// PrincipalFromContext は context から Principal を取得する
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok && p.ID != ""
}

// WithPrincipal は context に Principal をセットする
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(tokenCookieName); err == nil {
		return c.Value
	}
	return ""
}

// RequireAuth は認証必須ミドルウェア。JWT を検証し、Principal を context にセットする
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			p, err := ParseToken(token, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole rejects principals whose role is not one of roles. It must run after RequireAuth or DevAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !slices.Contains(roles, p.Role) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DevDonorID は開発用のダミー donor ID（AUTH_REQUIRED=false 時に使用）
const DevDonorID = "00000000-0000-0000-0000-000000000001"

// DevAuth は開発用ミドルウェア。ダミーの donor を context にセットする
func DevAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithPrincipal(r.Context(), Principal{ID: DevDonorID, Role: RoleDonor})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
