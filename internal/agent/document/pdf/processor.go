package pdf

import (
    "bytes"
    "context"
    "fmt"
    "io"

    "github.com/ledongthuc/pdf"
    "github.com/pdfcpu/pdfcpu/pkg/api"
    "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
    "golang.org/x/sync/errgroup"

    "github.com/feichai0017/document-rag/internal/agent/document"
    "github.com/feichai0017/document-rag/internal/models"
    "github.com/feichai0017/document-rag/pkg/logger"
)

const defaultMaxWorkers = 4

// Processor splits PDF documents page by page.
type Processor struct {
    splitter   *TextSplitter
    ocr        document.TextExtractor
    maxWorkers int
    logger     logger.Logger
}

type Option func(*Processor)

// WithTextSplitter replaces the default 1000/200 splitter.
func WithTextSplitter(s *TextSplitter) Option {
    return func(p *Processor) { p.splitter = s }
}

// WithOCR sets the extractor used when a PDF has no text layer.
func WithOCR(extractor document.TextExtractor) Option {
    return func(p *Processor) { p.ocr = extractor }
}

func WithMaxWorkers(n int) Option {
    return func(p *Processor) {
        if n > 0 {
            p.maxWorkers = n
        }
    }
}

func NewProcessor(log logger.Logger, opts ...Option) *Processor {
    p := &Processor{
        splitter:   NewTextSplitter(DefaultChunkSize, DefaultChunkOverlap),
        maxWorkers: defaultMaxWorkers,
        logger:     log.Named("pdf"),
    }
    for _, opt := range opts {
        opt(p)
    }
    return p
}

// Split extracts the text of every page and splits each page separately.
// Chunks keep page order.
func (p *Processor) Split(ctx context.Context, file io.Reader) (*models.SplitResult, error) {
    // 首先将文件读入内存
    content, err := io.ReadAll(file)
    if err != nil {
        return nil, fmt.Errorf("failed to read document: %w", err)
    }

    texts, err := p.extractPages(ctx, content)
    if err != nil {
        return nil, err
    }

    var chunks []string
    for _, text := range texts {
        chunks = append(chunks, p.splitter.Split(text)...)
    }

    if len(chunks) == 0 && p.ocr != nil {
        p.logger.Info("No text layer found, running OCR", logger.Int("pages", len(texts)))
        text, err := p.ocr.ExtractText(ctx, content)
        if err != nil {
            return nil, fmt.Errorf("ocr failed: %w", err)
        }
        chunks = p.splitter.Split(text)
    }
    if len(chunks) == 0 {
        return nil, models.ErrNoText
    }

    return &models.SplitResult{Pages: len(texts), Chunks: chunks}, nil
}

// CountPages reads the page count with the text extractor and falls back to
// pdfcpu for files it cannot parse.
func (p *Processor) CountPages(ctx context.Context, file io.Reader) (int, error) {
    content, err := io.ReadAll(file)
    if err != nil {
        return 0, fmt.Errorf("failed to read document: %w", err)
    }

    if r, err := openReader(content); err == nil && r.NumPage() > 0 {
        return r.NumPage(), nil
    }

    cfg := model.NewDefaultConfiguration()
    cfg.ValidationMode = model.ValidationRelaxed
    n, err := api.PageCount(bytes.NewReader(content), cfg)
    if err != nil {
        return 0, fmt.Errorf("failed to count pages: %w", err)
    }
    return n, nil
}

func (p *Processor) extractPages(ctx context.Context, content []byte) ([]string, error) {
    pdfReader, err := openReader(content)
    if err != nil {
        return nil, err
    }

    numPages := pdfReader.NumPage()
    texts := make([]string, numPages)

    // 创建错误组以并行处理页面
    g, ctx := errgroup.WithContext(ctx)
    g.SetLimit(p.maxWorkers)

    for i := 1; i <= numPages; i++ {
        pageNum := i
        g.Go(func() error {
            if err := ctx.Err(); err != nil {
                return err
            }
            text, err := pageText(pdfReader, pageNum)
            if err != nil {
                return err
            }
            texts[pageNum-1] = text
            return nil
        })
    }

    if err := g.Wait(); err != nil {
        return nil, err
    }
    return texts, nil
}

// openReader recovers from panics in the parser, which malformed files can trigger.
func openReader(content []byte) (r *pdf.Reader, err error) {
    defer func() {
        if rec := recover(); rec != nil {
            err = fmt.Errorf("failed to parse pdf: %v", rec)
        }
    }()
    reader := bytes.NewReader(content)
    r, err = pdf.NewReader(reader, reader.Size())
    if err != nil {
        return nil, fmt.Errorf("failed to parse pdf: %w", err)
    }
    return r, nil
}

func pageText(r *pdf.Reader, pageNum int) (text string, err error) {
    defer func() {
        if rec := recover(); rec != nil {
            err = fmt.Errorf("failed to get text from page %d: %v", pageNum, rec)
        }
    }()
    page := r.Page(pageNum)
    if page.V.IsNull() {
        return "", nil
    }
    text, err = page.GetPlainText(nil)
    if err != nil {
        return "", fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
    }
    return text, nil
}

var _ document.Splitter = (*Processor)(nil)
