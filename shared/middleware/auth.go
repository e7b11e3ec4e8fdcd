package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"memorial-server/shared/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenVerifier is satisfied by authutils.JWTVerifier.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*models.Claims, error)
}

// Auth кладет claims, user id и сырой токен в контекст запроса.
// При required=false запрос без заголовка проходит анонимно, но битый
// токен все равно отклоняется.
func Auth(verifier TokenVerifier, required bool, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("AuthMiddleware")
	return func(c *gin.Context) {
		token, present, ok := bearerToken(c.GetHeader("Authorization"))
		if !present {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authorization header missing"})
				return
			}
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid Authorization header format"})
			return
		}

		claims, err := verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			log.Debug("Token verification failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
			msg := "Invalid token"
			if errors.Is(err, models.ErrTokenExpired) {
				msg = "Token has expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": msg})
			return
		}

		c.Set(string(models.UserContextKey), claims.UserID)
		c.Set(string(models.ClaimsContextKey), claims)
		c.Set(string(models.TokenContextKey), token)

		ctx := context.WithValue(c.Request.Context(), models.UserContextKey, claims.UserID)
		ctx = context.WithValue(ctx, models.ClaimsContextKey, claims)
		ctx = context.WithValue(ctx, models.TokenContextKey, token)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// bearerToken returns (token, header present, well formed).
func bearerToken(header string) (string, bool, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false, false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", true, false
	}
	return strings.TrimSpace(parts[1]), true, true
}
