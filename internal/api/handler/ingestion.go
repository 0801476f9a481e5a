package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/docpipe/internal/service"
)

// IngestionHandler starts ingestion runs and exposes their history.
type IngestionHandler struct {
	ingestion *service.IngestionService
}

func NewIngestionHandler(ingestion *service.IngestionService) *IngestionHandler {
	return &IngestionHandler{ingestion: ingestion}
}

// Start handles POST /api/v1/ingestion/start/:id.
func (h *IngestionHandler) Start(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	entry, err := h.ingestion.StartIngestion(c.Request.Context(), c.Param("id"), principal.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "Ingestion process started successfully", entry)
}

// Logs handles GET /api/v1/ingestion/logs/:documentId.
func (h *IngestionHandler) Logs(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	page, limit := pageParams(c)
	data, err := h.ingestion.GetIngestionData(c.Request.Context(), c.Param("documentId"), principal.UserID, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "Ingestion data retrieved successfully", data)
}
