package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/clearspend/backend/internal/security"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the bearer token payload.
type Claims struct {
	UserID            string   `json:"user_id"`
	BusinessID        string   `json:"business_id,omitempty"`
	Permissions       []string `json:"permissions,omitempty"`
	GlobalPermissions []string `json:"global_permissions,omitempty"`
	jwt.RegisteredClaims
}

// PermissionSet resolves the claims into the caller's permission set.
func (c *Claims) PermissionSet() (security.Permissions, error) {
	perms := security.Permissions{UserID: c.UserID}
	if c.BusinessID != "" {
		id, err := uuid.Parse(c.BusinessID)
		if err != nil {
			return security.Permissions{}, errors.New("invalid business_id claim")
		}
		perms.BusinessID = id
	}
	for _, p := range c.Permissions {
		perms.Business = append(perms.Business, security.Permission(p))
	}
	for _, p := range c.GlobalPermissions {
		perms.Global = append(perms.Global, security.Permission(p))
	}
	return perms, nil
}

// Auth validates the HS256 bearer token and stores the caller's permissions in the request
// context.
func Auth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := validateToken(parts[1], secret)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			perms, err := claims.PermissionSet()
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := security.WithPermissions(r.Context(), perms)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validateToken(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
