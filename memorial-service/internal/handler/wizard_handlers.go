package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"memorial-server/memorial-service/internal/assets"
	"memorial-server/memorial-service/internal/wizard"
	sharedModels "memorial-server/shared/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const uploadFormField = "files[]"

func (h *MemorialHandler) startSession(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	state, err := h.wizard.Start(c.Request.Context(), identity)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *MemorialHandler) getState(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	state, err := h.wizard.State(c.Request.Context(), identity)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// bindForm читает необязательное тело с полями шага.
func bindForm(c *gin.Context) (*wizard.Form, error) {
	if c.Request.ContentLength == 0 {
		return nil, nil
	}
	var form wizard.Form
	if err := c.ShouldBindJSON(&form); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, sharedModels.NewValidationError("body", "invalid request body")
	}
	return &form, nil
}

type transitionFunc func(c *gin.Context, identity sharedModels.Session, form *wizard.Form) (*wizard.State, error)

// transition wraps every form-carrying wizard call with the same plumbing.
func (h *MemorialHandler) transition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := identityFromContext(c)
		if err != nil {
			h.handleServiceError(c, err)
			return
		}
		form, err := bindForm(c)
		if err != nil {
			h.handleServiceError(c, err)
			return
		}
		state, err := fn(c, identity, form)
		if err != nil {
			h.handleServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

func (h *MemorialHandler) updateForm(c *gin.Context) {
	h.transition(func(c *gin.Context, identity sharedModels.Session, form *wizard.Form) (*wizard.State, error) {
		return h.wizard.UpdateForm(c.Request.Context(), identity, form)
	})(c)
}

func (h *MemorialHandler) next(c *gin.Context) {
	h.transition(func(c *gin.Context, identity sharedModels.Session, form *wizard.Form) (*wizard.State, error) {
		return h.wizard.Next(c.Request.Context(), identity, form)
	})(c)
}

func (h *MemorialHandler) previous(c *gin.Context) {
	h.transition(func(c *gin.Context, identity sharedModels.Session, form *wizard.Form) (*wizard.State, error) {
		return h.wizard.Previous(c.Request.Context(), identity, form)
	})(c)
}

func (h *MemorialHandler) skip(c *gin.Context) {
	h.transition(func(c *gin.Context, identity sharedModels.Session, form *wizard.Form) (*wizard.State, error) {
		return h.wizard.Skip(c.Request.Context(), identity, form)
	})(c)
}

// upload принимает multipart поле files[]. Файлы читаются в память целиком:
// временные файлы multipart удаляются после ответа, а загрузка идет в фоне.
// Тело запроса ограничено MaxRequestBytes, в память читаются не больше
// MaxFiles файлов; остальные уходят в очередь без данных и отклоняются ею.
func (h *MemorialHandler) upload(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if limit := h.uploadLimits.MaxRequestBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.handleServiceError(c, sharedModels.NewValidationError("files",
				fmt.Sprintf("the upload is larger than %d MB, send fewer files at once", tooLarge.Limit>>20)))
			return
		}
		h.handleServiceError(c, sharedModels.NewValidationError("files", "expected a multipart form"))
		return
	}
	headers := form.File[uploadFormField]
	if len(headers) == 0 {
		headers = form.File["files"]
	}

	files := make([]assets.File, 0, len(headers))
	for i, fh := range headers {
		if limit := h.uploadLimits.MaxFiles; limit > 0 && i >= limit {
			files = append(files, unreadPart(fh))
			continue
		}
		file, err := h.readUpload(fh)
		if err != nil {
			h.logger.Warn("Failed to read uploaded part", zap.String("file", fh.Filename), zap.Error(err))
			h.handleServiceError(c, sharedModels.NewValidationError("files", fmt.Sprintf("could not read %s", fh.Filename)))
			return
		}
		files = append(files, file)
	}

	res, err := h.wizard.Upload(c.Request.Context(), identity, files)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// readUpload buffers one part. Oversized parts are left unread.
func (h *MemorialHandler) readUpload(fh *multipart.FileHeader) (assets.File, error) {
	if limit := h.uploadLimits.MaxFileBytes; limit > 0 && fh.Size > limit {
		return unreadPart(fh), nil
	}
	contentType := fh.Header.Get("Content-Type")
	src, err := fh.Open()
	if err != nil {
		return assets.File{}, err
	}
	defer src.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, src); err != nil {
		return assets.File{}, err
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(buf.Bytes())
	}
	return assets.BytesFile(fh.Filename, contentType, buf.Bytes()), nil
}

// unreadPart describes a part without its bytes. It keeps the real size so
// the queue rejects it with the usual message; it can never be opened.
func unreadPart(fh *multipart.FileHeader) assets.File {
	return assets.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open:        func() (io.ReadCloser, error) { return nil, sharedModels.ErrValidation },
	}
}

func (h *MemorialHandler) servePreview(c *gin.Context) {
	file, ok := h.previews.Get(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, APIError{Message: "Preview is no longer available"})
		return
	}
	rc, err := file.Open()
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	defer rc.Close()
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, file.Size, file.ContentType, rc, nil)
}

func (h *MemorialHandler) reorderMoments(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleServiceError(c, sharedModels.NewValidationError("order", "order must list every moment id"))
		return
	}
	state, err := h.wizard.ReorderMoments(c.Request.Context(), identity, req.Order)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *MemorialHandler) editMoment(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	var req editMomentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleServiceError(c, sharedModels.NewValidationError("body", "invalid request body"))
		return
	}
	moment, err := h.wizard.EditMoment(c.Request.Context(), identity, c.Param("id"), req.toEdit())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, moment)
}

func (h *MemorialHandler) removeMoment(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	state, err := h.wizard.RemoveMoment(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *MemorialHandler) save(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	res, err := h.wizard.Save(c.Request.Context(), identity)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// preview отдает HTML целиком, либо JSON {html} при Accept: application/json.
func (h *MemorialHandler) preview(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	html, err := h.wizard.Preview(c.Request.Context(), identity)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON {
		c.JSON(http.StatusOK, previewResponse{HTML: html})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (h *MemorialHandler) publish(c *gin.Context) {
	identity, err := identityFromContext(c)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	rec, err := h.wizard.Publish(c.Request.Context(), identity)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
