package handlers

import (
    "errors"
    "fmt"
    "net/http"
    "strings"

    "github.com/gin-gonic/gin"

    "github.com/feichai0017/document-rag/internal/models"
    "github.com/feichai0017/document-rag/internal/service/document"
    "github.com/feichai0017/document-rag/internal/utils/validator"
    "github.com/feichai0017/document-rag/internal/vectorstore"
    "github.com/feichai0017/document-rag/pkg/logger"
)

type DocumentHandler struct {
    service        document.DocumentService
    validator      *validator.DocumentValidator
    maxUploadBytes int64
    logger         logger.Logger
}

// UploadResponse 上传响应
type UploadResponse struct {
    Uploaded  bool   `json:"uploaded"`
    Message   string `json:"message"`
    DocID     string `json:"doc_id"`
    Duplicate bool   `json:"duplicate"`
}

// AskRequest 提问请求
type AskRequest struct {
    Question string `json:"question"`
    DocID    string `json:"doc_id"`
    K        int    `json:"k"`
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
    Error   string `json:"error"`
    Message string `json:"message"`
}

func NewDocumentHandler(service document.DocumentService, v *validator.DocumentValidator, maxUploadBytes int64, log logger.Logger) *DocumentHandler {
    return &DocumentHandler{
        service:        service,
        validator:      v,
        maxUploadBytes: maxUploadBytes,
        logger:         log.Named("handler"),
    }
}

// Upload 上传 PDF 并排队索引
func (h *DocumentHandler) Upload(c *gin.Context) {
    if h.maxUploadBytes > 0 {
        // leave room for the multipart envelope; the validator enforces the file size
        c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
    }

    file, header, err := c.Request.FormFile("file")
    if err != nil {
        var tooLarge *http.MaxBytesError
        if errors.As(err, &tooLarge) {
            h.handleError(c, http.StatusBadRequest, "File too large", err)
            return
        }
        h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
        return
    }
    defer file.Close()

    result, err := h.validator.Validate(file, header.Filename, header.Size)
    if err != nil {
        h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
        return
    }
    if !result.IsValid {
        h.handleError(c, http.StatusBadRequest, "Invalid file upload",
            fmt.Errorf("%w: %s", models.ErrUnsupportedType, result.Message()))
        return
    }

    res, err := h.service.Upload(c.Request.Context(), file, header.Filename)
    if err != nil {
        h.handleServiceError(c, "Failed to upload file", err)
        return
    }

    message := "Upload received; indexing scheduled"
    if res.Duplicate {
        message = "Duplicate file detected; reusing existing document"
    }
    c.JSON(http.StatusOK, UploadResponse{
        Uploaded:  true,
        Message:   message,
        DocID:     res.DocID,
        Duplicate: res.Duplicate,
    })
}

// Ask 基于已索引文档回答问题
func (h *DocumentHandler) Ask(c *gin.Context) {
    var req AskRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        h.handleError(c, http.StatusBadRequest, "Invalid request body", err)
        return
    }

    answer, err := h.service.Ask(c.Request.Context(), req.Question, strings.TrimSpace(req.DocID), req.K)
    if err != nil {
        h.handleServiceError(c, "Failed to answer question", err)
        return
    }
    c.JSON(http.StatusOK, gin.H{"answer": answer})
}

// Status 列出所有文档
func (h *DocumentHandler) Status(c *gin.Context) {
    report, err := h.service.Status(c.Request.Context())
    if err != nil {
        h.handleServiceError(c, "Failed to get status", err)
        return
    }
    c.JSON(http.StatusOK, report)
}

// Document 获取单个文档详情
func (h *DocumentHandler) Document(c *gin.Context) {
    details, err := h.service.Document(c.Request.Context(), c.Param("docId"))
    if err != nil {
        h.handleServiceError(c, "Failed to get document", err)
        return
    }
    c.JSON(http.StatusOK, details)
}

// Delete 删除文档
func (h *DocumentHandler) Delete(c *gin.Context) {
    docID := c.Param("docId")
    deleted, err := h.service.Delete(c.Request.Context(), docID)
    if err != nil {
        h.handleServiceError(c, "Failed to delete document", err)
        return
    }
    if !deleted {
        h.handleError(c, http.StatusNotFound, "Document not found", fmt.Errorf("document %s: %w", docID, models.ErrNotFound))
        return
    }
    c.JSON(http.StatusOK, gin.H{"deleted": true, "doc_id": docID})
}

// Download 下载原始文件
func (h *DocumentHandler) Download(c *gin.Context) {
    rc, entry, err := h.service.OpenDocument(c.Request.Context(), c.Param("docId"))
    if err != nil {
        h.handleServiceError(c, "Failed to download document", err)
        return
    }
    defer rc.Close()

    filename := entry.Filename
    if filename == "" {
        filename = "document_" + entry.DocID + ".pdf"
    }
    if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
        filename += ".pdf"
    }

    c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
    c.Header("Cache-Control", "no-cache")
    var length int64 = -1
    if entry.Size != nil {
        length = *entry.Size
    }
    c.DataFromReader(http.StatusOK, length, "application/pdf", rc, nil)
}

// TaskStatus 获取索引任务状态
func (h *DocumentHandler) TaskStatus(c *gin.Context) {
    status, err := h.service.TaskStatus(c.Request.Context(), c.Param("docId"))
    if err != nil {
        h.handleServiceError(c, "Failed to get task status", err)
        return
    }
    c.JSON(http.StatusOK, status)
}

// handleServiceError maps service errors to status codes.
func (h *DocumentHandler) handleServiceError(c *gin.Context, message string, err error) {
    var validation *vectorstore.ValidationError
    switch {
    case errors.Is(err, models.ErrNotFound):
        h.handleError(c, http.StatusNotFound, message, err)
    case errors.As(err, &validation):
        h.handleError(c, http.StatusBadRequest, message, err)
    default:
        h.handleError(c, http.StatusInternalServerError, message, err)
    }
}

// handleError 统一错误处理
func (h *DocumentHandler) handleError(c *gin.Context, status int, message string, err error) {
    fields := []logger.Field{
        logger.String("path", c.Request.URL.Path),
        logger.Int("status", status),
        logger.Error(err),
    }
    if status >= http.StatusInternalServerError {
        h.logger.Error(message, fields...)
    } else {
        h.logger.Warn(message, fields...)
    }

    response := ErrorResponse{
        Message: message,
    }
    if err != nil {
        response.Error = err.Error()
    }

    c.AbortWithStatusJSON(status, response)
}
