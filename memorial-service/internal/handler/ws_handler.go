package handler

import (
	"net/http"

	sharedModels "memorial-server/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin проверяет CORS на уровне gateway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWS подключает поток уведомлений. Браузер не может выставить
// заголовки, поэтому токен и ключ клиента передаются в query (token, client).
func (h *MemorialHandler) serveWS(c *gin.Context) {
	identity := sharedModels.Session{ClientKey: c.Query("client")}
	if token := c.Query("token"); token != "" {
		claims, err := h.verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			h.logger.Warn("Invalid token on websocket connect", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{Message: "Invalid token"})
			return
		}
		identity.UserID = claims.UserID
	}
	if !identity.Authenticated() && !clientKeyPattern.MatchString(identity.ClientKey) {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "token or client query parameter is required", Field: "client"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.String("recipient", identity.Namespace()), zap.Error(err))
		return
	}
	// Serve блокирует до закрытия соединения.
	h.hub.Serve(c.Request.Context(), identity.Namespace(), conn)
}
