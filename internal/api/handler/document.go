package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/docpipe/internal/service"
)

// DocumentHandler handles document upload and catalogue endpoints.
type DocumentHandler struct {
	documents *service.DocumentService
}

// NewDocumentHandler creates a new document handler.
// Parameters:
//   - documents: document service instance.
// Returns:
//   - *DocumentHandler: initialized handler.
func NewDocumentHandler(documents *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Upload handles POST /api/v1/documents/upload.
// Parameters:
//   - c: Gin request context with multipart fields "file" and "title".
// Returns: none (writes JSON response).
func (h *DocumentHandler) Upload(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "No file uploaded")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "Unable to read uploaded file")
		return
	}
	defer f.Close()

	view, err := h.documents.Upload(c.Request.Context(), principal.UserID, service.UploadInput{
		Title:       c.PostForm("title"),
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		File:        f,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusCreated, "Document uploaded successfully", view)
}

// List handles GET /api/v1/documents.
// Parameters:
//   - c: Gin request context with optional page, limit, status and orderBy query params.
// Returns: none (writes JSON response).
func (h *DocumentHandler) List(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	page, limit := pageParams(c)

	res, err := h.documents.List(c.Request.Context(), principal.UserID, service.ListDocumentsInput{
		Page:    page,
		Limit:   limit,
		Status:  c.Query("status"),
		OrderBy: c.Query("orderBy"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "Documents retrieved successfully", res)
}

// Get handles GET /api/v1/documents/:id.
func (h *DocumentHandler) Get(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	view, err := h.documents.Get(c.Request.Context(), c.Param("id"), principal.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "Document retrieved successfully", view)
}

// Delete handles DELETE /api/v1/documents/:id.
func (h *DocumentHandler) Delete(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	if err := h.documents.Delete(c.Request.Context(), c.Param("id"), principal.UserID); err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "Document deleted successfully", nil)
}
