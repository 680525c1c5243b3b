package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clearspend/backend/internal/security"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func signedToken(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func serve(t *testing.T, authHeader string) (*httptest.ResponseRecorder, *security.Permissions) {
	t.Helper()
	var seen *security.Permissions
	handler := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		perms, ok := security.FromContext(r.Context())
		require.True(t, ok)
		seen = &perms
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, seen
}

func TestAuth(t *testing.T) {
	businessID := uuid.New()
	valid := Claims{
		UserID:            "user-1",
		BusinessID:        businessID.String(),
		Permissions:       []string{"READ", "MANAGE_FUNDS"},
		GlobalPermissions: []string{"CUSTOMER_SERVICE"},
		RegisteredClaims:  jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}

	t.Run("valid token", func(t *testing.T) {
		w, perms := serve(t, "Bearer "+signedToken(t, jwt.SigningMethodHS256, secret, valid))

		assert.Equal(t, http.StatusNoContent, w.Code)
		require.NotNil(t, perms)
		assert.Equal(t, "user-1", perms.UserID)
		assert.Equal(t, businessID, perms.BusinessID)
		assert.True(t, perms.Has(businessID, security.PermissionManageFunds))
		assert.True(t, perms.HasGlobal(security.GlobalCustomerService))
	})

	t.Run("missing header", func(t *testing.T) {
		w, perms := serve(t, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Nil(t, perms)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		w, _ := serve(t, "Basic abc")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		w, _ := serve(t, "Bearer "+signedToken(t, jwt.SigningMethodHS256, []byte("other"), valid))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired", func(t *testing.T) {
		expired := valid
		expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		w, _ := serve(t, "Bearer "+signedToken(t, jwt.SigningMethodHS256, secret, expired))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("other algorithm", func(t *testing.T) {
		w, _ := serve(t, "Bearer "+signedToken(t, jwt.SigningMethodHS512, secret, valid))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed business id", func(t *testing.T) {
		bad := valid
		bad.BusinessID = "not-a-uuid"
		w, _ := serve(t, "Bearer "+signedToken(t, jwt.SigningMethodHS256, secret, bad))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
