package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-rag/internal/service/document"
	"github.com/feichai0017/document-rag/internal/utils/validator"
	"github.com/feichai0017/document-rag/pkg/logger"
)

type Handlers struct {
	Document *DocumentHandler
}

func NewHandlers(
	documentService document.DocumentService,
	v *validator.DocumentValidator,
	maxUploadBytes int64,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(documentService, v, maxUploadBytes, logger),
	}
}

// Health 健康检查
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
