package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(logger.NewNop()))

	m := NewJWTMiddleware(logger.NewNop(), &DefaultTokenValidator{Secret: secret})
	r.GET("/admin", m.RequireAuth(ScopeAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(string(ContextSubjectKey)))
	})
	return r
}

func TestRequireAuth(t *testing.T) {
	valid, err := IssueToken(secret, "ops", "read admin", time.Hour)
	require.NoError(t, err)
	wrongScope, err := IssueToken(secret, "ops", "read", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "ops", ScopeAdmin, -time.Minute)
	require.NoError(t, err)
	foreign, err := IssueToken([]byte("other"), "ops", ScopeAdmin, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "valid", header: "Bearer " + valid, status: http.StatusOK},
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "no bearer prefix", header: valid, status: http.StatusUnauthorized},
		{name: "wrong scope", header: "Bearer " + wrongScope, status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized},
		{name: "foreign signature", header: "Bearer " + foreign, status: http.StatusUnauthorized},
	}

	r := newRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "ops", w.Body.String())
			}
		})
	}
}

func TestValidatorWithoutSecret(t *testing.T) {
	_, err := (&DefaultTokenValidator{}).Validate("anything")
	assert.Error(t, err)
}
