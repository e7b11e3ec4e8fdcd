package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// deleteAsset удаляет файл из хранилища. publicId может содержать "/".
func (h *MemorialHandler) deleteAsset(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	publicID := strings.TrimPrefix(c.Param("publicId"), "/")
	resourceType := c.DefaultQuery("resourceType", "image")

	if err := h.assets.Delete(c.Request.Context(), identity, publicID, resourceType); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
