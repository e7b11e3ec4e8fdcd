package handler

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"memorial-server/memorial-service/internal/notify"
	"memorial-server/memorial-service/internal/service"
	"memorial-server/memorial-service/internal/uploads"
	sharedMiddleware "memorial-server/shared/middleware"
	sharedModels "memorial-server/shared/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ClientKeyHeader identifies an anonymous browser across requests.
const ClientKeyHeader = "X-Wizard-Client"

var clientKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// APIError представляет стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// UploadLimits bounds what one upload request may buffer in memory.
// Zero disables a limit.
type UploadLimits struct {
	MaxFileBytes    int64
	MaxFiles        int
	MaxRequestBytes int64
}

// MemorialHandler обрабатывает HTTP запросы мастера мемориалов.
type MemorialHandler struct {
	wizard       service.WizardService
	assets       service.AssetService
	previews     *uploads.PreviewRegistry
	hub          *notify.Hub
	verifier     sharedMiddleware.TokenVerifier
	uploadLimits UploadLimits
	logger       *zap.Logger
}

// NewMemorialHandler создает новый MemorialHandler.
func NewMemorialHandler(
	wizard service.WizardService,
	assets service.AssetService,
	previews *uploads.PreviewRegistry,
	hub *notify.Hub,
	verifier sharedMiddleware.TokenVerifier,
	uploadLimits UploadLimits,
	logger *zap.Logger,
) *MemorialHandler {
	return &MemorialHandler{
		wizard:       wizard,
		assets:       assets,
		previews:     previews,
		hub:          hub,
		verifier:     verifier,
		uploadLimits: uploadLimits,
		logger:       logger.Named("MemorialHandler"),
	}
}

// RegisterRoutes регистрирует маршруты мастера под /api/v1.
// rateLimit (может быть nil) ограничивает дорогие операции: загрузки,
// сохранение, публикацию и удаление файлов.
func (h *MemorialHandler) RegisterRoutes(r gin.IRouter, rateLimit gin.HandlerFunc) {
	optionalAuth := sharedMiddleware.Auth(h.verifier, false, h.logger)
	requiredAuth := sharedMiddleware.Auth(h.verifier, true, h.logger)
	limited := func(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
		if rateLimit == nil {
			return handlers
		}
		return append([]gin.HandlerFunc{rateLimit}, handlers...)
	}

	api := r.Group("/api/v1")

	// --- Мастер (анонимные сессии допускаются) ---
	wizardGroup := api.Group("/wizard", optionalAuth)
	{
		wizardGroup.POST("/session", h.startSession)
		wizardGroup.GET("", h.getState)
		wizardGroup.PUT("/form", h.updateForm)
		wizardGroup.POST("/next", h.next)
		wizardGroup.POST("/previous", h.previous)
		wizardGroup.POST("/skip", h.skip)
		wizardGroup.POST("/uploads", limited(h.upload)...)
		wizardGroup.PUT("/moments/order", h.reorderMoments)
		wizardGroup.PATCH("/moments/:id", h.editMoment)
		wizardGroup.DELETE("/moments/:id", h.removeMoment)
		wizardGroup.POST("/save", limited(h.save)...)
		wizardGroup.GET("/preview", h.preview)
		wizardGroup.POST("/publish", limited(h.publish)...)
	}
	// Превью отдаются браузеру через <img>, заголовков там нет.
	api.GET("/wizard/previews/:id", h.servePreview)

	// --- Привилегированное удаление файлов ---
	api.DELETE("/assets/*publicId", append([]gin.HandlerFunc{requiredAuth}, limited(h.deleteAsset)...)...)

	api.GET("/ws", h.serveWS)
}

// RateLimitKey keys the rate limiter by the caller's session namespace,
// falling back to the client IP for requests without an identity.
func RateLimitKey(c *gin.Context) string {
	if identity, err := identityFromContext(c); err == nil {
		return identity.Namespace()
	}
	return "ip:" + c.ClientIP()
}

// identityFromContext собирает личность вызывающего: пользователь из токена
// и/или ключ анонимного браузера.
func identityFromContext(c *gin.Context) (sharedModels.Session, error) {
	identity := sharedModels.Session{ClientKey: c.GetHeader(ClientKeyHeader)}
	if claims, ok := sharedModels.GetClaimsFromContext(c.Request.Context()); ok {
		identity.UserID = claims.UserID
		identity.Email = claims.Email
		identity.Token, _ = sharedModels.GetTokenFromContext(c.Request.Context())
	}
	if identity.ClientKey != "" && !clientKeyPattern.MatchString(identity.ClientKey) {
		return identity, sharedModels.NewValidationError("clientKey", "invalid "+ClientKeyHeader+" header")
	}
	if !identity.Authenticated() && identity.ClientKey == "" {
		return identity, sharedModels.NewValidationError("clientKey", ClientKeyHeader+" header is required for anonymous sessions")
	}
	return identity, nil
}

// handleServiceError переводит ошибки сервиса в HTTP ответ.
// Тексты ошибок зависимостей наружу не попадают.
func (h *MemorialHandler) handleServiceError(c *gin.Context, err error) {
	var statusCode int
	var apiErr APIError

	var vErr *sharedModels.ValidationError
	switch {
	case errors.As(err, &vErr):
		statusCode = http.StatusBadRequest
		apiErr = APIError{Message: vErr.Message, Field: vErr.Field}
	case errors.Is(err, sharedModels.ErrValidation), errors.Is(err, sharedModels.ErrBadRequest),
		errors.Is(err, sharedModels.ErrNotFinalStep):
		statusCode = http.StatusBadRequest
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, sharedModels.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
		apiErr = APIError{Message: "Sign in to continue"}
	case errors.Is(err, sharedModels.ErrForbidden):
		statusCode = http.StatusForbidden
		apiErr = APIError{Message: "You do not have access to this resource"}
	case errors.Is(err, sharedModels.ErrNotFound):
		statusCode = http.StatusNotFound
		apiErr = APIError{Message: "Resource not found"}
	case errors.Is(err, sharedModels.ErrOperationInFlight):
		statusCode = http.StatusConflict
		apiErr = APIError{Message: "Another operation is still running, please wait"}
	case errors.Is(err, sharedModels.ErrAlreadyPublished):
		statusCode = http.StatusConflict
		apiErr = APIError{Message: "This memorial is already published"}
	case errors.Is(err, sharedModels.ErrUploadFailed), errors.Is(err, sharedModels.ErrPersistence):
		statusCode = http.StatusBadGateway
		apiErr = APIError{Message: "A storage service is unavailable, please try again"}
	case errors.Is(err, sharedModels.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		statusCode = http.StatusGatewayTimeout
		apiErr = APIError{Message: "The operation timed out, please try again"}
	default:
		statusCode = http.StatusInternalServerError
		apiErr = APIError{Message: "Internal server error"}
	}
	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Int("status", statusCode), zap.Error(err))
	}
	c.AbortWithStatusJSON(statusCode, apiErr)
}
