package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"memorial-server/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type stubVerifier struct {
	claims *models.Claims
	err    error
}

func (s stubVerifier) VerifyToken(_ context.Context, _ string) (*models.Claims, error) {
	return s.claims, s.err
}

func newAuthRouter(v TokenVerifier, required bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()), Auth(v, required, zap.NewNop()))
	r.GET("/who", func(c *gin.Context) {
		id, ok := models.GetUserIDFromContext(c.Request.Context())
		if !ok {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, id.String())
	})
	return r
}

func TestAuth(t *testing.T) {
	userID := uuid.New()
	good := stubVerifier{claims: &models.Claims{UserID: userID}}

	tests := []struct {
		name       string
		verifier   TokenVerifier
		required   bool
		header     string
		wantStatus int
		wantBody   string
	}{
		{"optional without header passes anonymously", good, false, "", http.StatusOK, "anonymous"},
		{"required without header rejected", good, true, "", http.StatusUnauthorized, ""},
		{"malformed header rejected", good, false, "Token abc", http.StatusUnauthorized, ""},
		{"valid token sets user", good, true, "Bearer abc", http.StatusOK, userID.String()},
		{"expired token rejected", stubVerifier{err: models.ErrTokenExpired}, false, "Bearer abc", http.StatusUnauthorized, "expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAuthRouter(tt.verifier, tt.required)
			req := httptest.NewRequest(http.MethodGet, "/who", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRequestLoggerKeepsIncomingRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}
