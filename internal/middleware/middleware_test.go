package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aura-webinar/recording-sync/internal/auth"
)

func init() { gin.SetMode(gin.TestMode) }

func validator(jwtService *auth.JWTService) TokenValidator {
	return func(token string) (string, string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID, claims.Role, nil
	}
}

func newRouter(jwtService *auth.JWTService) *gin.Engine {
	r := gin.New()
	r.Use(Logger(zap.NewNop()), CORS([]string{"https://lms.example.com"}))
	admin := r.Group("/admin", RequireAdmin(validator(jwtService), auth.RoleAdmin, nil))
	admin.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	return r
}

func TestAdminRouteAuth(t *testing.T) {
	jwtService := auth.NewJWTService("secret", "lms", time.Hour)
	adminToken, err := jwtService.Generate("7", "", auth.RoleAdmin)
	require.NoError(t, err)
	studentToken, err := jwtService.Generate("8", "", "student")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + adminToken, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + studentToken, http.StatusForbidden},
		{"admin", "Bearer " + adminToken, http.StatusOK},
		{"lowercase scheme", "bearer " + adminToken, http.StatusOK},
		{"empty token", "Bearer   ", http.StatusUnauthorized},
	}
	r := newRouter(jwtService)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "7", w.Body.String())
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"  BEARER  abc ", "abc", true},
		{"Bearer", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := bearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}

func TestRequireAdminLogsDenial(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	validate := func(token string) (string, string, error) { return "8", "student", nil }
	r := gin.New()
	r.GET("/admin/ping", RequireAdmin(validate, auth.RoleAdmin, zap.New(core)), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "admin route denied", entry.Message)
	assert.Equal(t, "8", entry.ContextMap()["user_id"])
	assert.NotContains(t, w.Body.String(), "secret-token")
}

func TestCORS(t *testing.T) {
	r := newRouter(auth.NewJWTService("secret", "", time.Hour))

	req := httptest.NewRequest(http.MethodOptions, "/admin/ping", nil)
	req.Header.Set("Origin", "https://lms.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://lms.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/admin/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
