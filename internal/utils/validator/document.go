// internal/utils/validator/document.go
package validator

import (
    "bytes"
    "fmt"
    "io"
    "net/http"
    "path/filepath"
    "strings"

    "github.com/pdfcpu/pdfcpu/pkg/api"
    "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

    "github.com/feichai0017/document-rag/pkg/logger"
)

// DocumentValidator 上传文件验证器
type DocumentValidator struct {
    logger logger.Logger
    config *ValidatorConfig
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
    MaxFileSize  int64               // 最大文件大小（字节）
    AllowedTypes map[string][]string // 允许的文件类型 {扩展名: []MIME类型}
    MaxPageCount int                 // PDF最大页数, 0 表示不检查
}

// ValidationResult 验证结果
type ValidationResult struct {
    IsValid  bool              `json:"isValid"`
    Errors   []ValidationError `json:"errors,omitempty"`
    FileInfo FileInfo          `json:"fileInfo"`
}

// ValidationError 验证错误
type ValidationError struct {
    Code    string `json:"code"`
    Message string `json:"message"`
    Field   string `json:"field,omitempty"`
}

// FileInfo 文件信息
type FileInfo struct {
    Filename  string `json:"filename"`
    Size      int64  `json:"size"`
    MimeType  string `json:"mimeType"`
    Extension string `json:"extension"`
    Pages     int    `json:"pages,omitempty"`
}

// Message joins every error message.
func (r *ValidationResult) Message() string {
    msgs := make([]string, len(r.Errors))
    for i, e := range r.Errors {
        msgs[i] = e.Message
    }
    return strings.Join(msgs, "; ")
}

// DefaultConfig accepts PDF files up to 50MB.
func DefaultConfig() *ValidatorConfig {
    return &ValidatorConfig{
        MaxFileSize: 50 << 20,
        AllowedTypes: map[string][]string{
            ".pdf": {"application/pdf"},
        },
    }
}

// NewDocumentValidator 创建新的文档验证器
func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
    if config == nil {
        config = DefaultConfig()
    }
    if config.MaxFileSize <= 0 {
        config.MaxFileSize = DefaultConfig().MaxFileSize
    }
    if len(config.AllowedTypes) == 0 {
        config.AllowedTypes = DefaultConfig().AllowedTypes
    }
    return &DocumentValidator{
        logger: log.Named("validator"),
        config: config,
    }
}

// Validate checks size, extension, detected MIME type and, for PDFs, that the
// document parses. r is left positioned at the start.
func (v *DocumentValidator) Validate(r io.ReadSeeker, filename string, size int64) (*ValidationResult, error) {
    result := &ValidationResult{
        IsValid: true,
        FileInfo: FileInfo{
            Filename:  filename,
            Size:      size,
            Extension: strings.ToLower(filepath.Ext(filename)),
        },
    }

    // 基本验证
    result.add(v.performBasicValidation(result.FileInfo)...)
    if !result.IsValid {
        return result, nil
    }

    // MIME类型验证
    mimeType, err := detectMimeType(r)
    if err != nil {
        return nil, fmt.Errorf("failed to detect mime type: %w", err)
    }
    result.FileInfo.MimeType = mimeType
    result.add(v.validateMimeType(result.FileInfo)...)
    if !result.IsValid {
        return result, nil
    }

    if result.FileInfo.Extension == ".pdf" && v.config.MaxPageCount > 0 {
        pages, errs := v.validatePDF(r)
        result.FileInfo.Pages = pages
        result.add(errs...)
        if _, err := r.Seek(0, io.SeekStart); err != nil {
            return nil, fmt.Errorf("failed to reset file pointer: %w", err)
        }
    }

    if !result.IsValid {
        v.logger.Debug("Upload rejected",
            logger.String("filename", filename),
            logger.String("reason", result.Message()),
        )
    }
    return result, nil
}

func (r *ValidationResult) add(errs ...ValidationError) {
    if len(errs) > 0 {
        r.IsValid = false
        r.Errors = append(r.Errors, errs...)
    }
}

// 基本验证
func (v *DocumentValidator) performBasicValidation(fileInfo FileInfo) []ValidationError {
    var errors []ValidationError

    if fileInfo.Size <= 0 {
        errors = append(errors, ValidationError{
            Code:    "EMPTY_FILE",
            Message: "File is empty",
            Field:   "size",
        })
    }

    // 检查文件大小
    if fileInfo.Size > v.config.MaxFileSize {
        errors = append(errors, ValidationError{
            Code:    "FILE_TOO_LARGE",
            Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
            Field:   "size",
        })
    }

    // 检查文件扩展名
    if _, ok := v.config.AllowedTypes[fileInfo.Extension]; !ok {
        errors = append(errors, ValidationError{
            Code:    "INVALID_FILE_TYPE",
            Message: fmt.Sprintf("File type %q is not allowed", fileInfo.Extension),
            Field:   "extension",
        })
    }

    return errors
}

// MIME类型验证
func (v *DocumentValidator) validateMimeType(fileInfo FileInfo) []ValidationError {
    for _, mime := range v.config.AllowedTypes[fileInfo.Extension] {
        if mime == fileInfo.MimeType {
            return nil
        }
    }
    return []ValidationError{{
        Code:    "INVALID_MIME_TYPE",
        Message: fmt.Sprintf("Invalid MIME type %s for extension %s", fileInfo.MimeType, fileInfo.Extension),
        Field:   "mimeType",
    }}
}

// PDF特定验证: 能否解析, 页数上限
func (v *DocumentValidator) validatePDF(r io.ReadSeeker) (int, []ValidationError) {
    if _, err := r.Seek(0, io.SeekStart); err != nil {
        return 0, []ValidationError{{Code: "INVALID_PDF", Message: "Unreadable PDF", Field: "file"}}
    }
    data, err := io.ReadAll(r)
    if err != nil {
        return 0, []ValidationError{{Code: "INVALID_PDF", Message: "Unreadable PDF", Field: "file"}}
    }

    conf := model.NewDefaultConfiguration()
    conf.ValidationMode = model.ValidationRelaxed
    pages, err := api.PageCount(bytes.NewReader(data), conf)
    if err != nil {
        return 0, []ValidationError{{
            Code:    "INVALID_PDF",
            Message: fmt.Sprintf("File is not a readable PDF: %v", err),
            Field:   "file",
        }}
    }
    if pages > v.config.MaxPageCount {
        return pages, []ValidationError{{
            Code:    "TOO_MANY_PAGES",
            Message: fmt.Sprintf("PDF has %d pages, the limit is %d", pages, v.config.MaxPageCount),
            Field:   "pages",
        }}
    }
    return pages, nil
}

// 检测MIME类型
func detectMimeType(r io.ReadSeeker) (string, error) {
    buffer := make([]byte, 512)
    n, err := io.ReadFull(r, buffer)
    if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
        return "", err
    }

    // 重置文件指针
    if _, err := r.Seek(0, io.SeekStart); err != nil {
        return "", err
    }

    mime := http.DetectContentType(buffer[:n])
    if i := strings.IndexByte(mime, ';'); i >= 0 {
        mime = mime[:i]
    }
    return mime, nil
}
