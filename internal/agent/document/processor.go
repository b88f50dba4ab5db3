package document

import (
    "context"
    "io"

    "github.com/feichai0017/document-rag/internal/models"
)

// Splitter 把文档拆成可索引的文本块
type Splitter interface {
    // Split 读取整个文档并返回按顺序排列的文本块
    Split(ctx context.Context, reader io.Reader) (*models.SplitResult, error)

    // CountPages 返回页数
    CountPages(ctx context.Context, reader io.Reader) (int, error)
}

// TextExtractor recognizes text in documents without a text layer.
type TextExtractor interface {
    ExtractText(ctx context.Context, data []byte) (string, error)
}
