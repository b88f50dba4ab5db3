package agent

import (
    "context"
    "errors"
    "fmt"

    cfg "github.com/feichai0017/document-rag/config"
    "github.com/feichai0017/document-rag/internal/agent/document"
    "github.com/feichai0017/document-rag/internal/agent/document/ocr"
    "github.com/feichai0017/document-rag/internal/agent/document/pdf"
    "github.com/feichai0017/document-rag/internal/agent/provider"
    "github.com/feichai0017/document-rag/internal/agent/provider/local"
    "github.com/feichai0017/document-rag/internal/agent/provider/openai"
    "github.com/feichai0017/document-rag/internal/agent/provider/vertex"
    "github.com/feichai0017/document-rag/internal/vectorstore"
    "github.com/feichai0017/document-rag/internal/vectorstore/memory"
    "github.com/feichai0017/document-rag/internal/vectorstore/qdrant"
    "github.com/feichai0017/document-rag/internal/vectorstore/sqlite"
    "github.com/feichai0017/document-rag/pkg/logger"
)

// Components are the configured collaborators of the document service.
type Components struct {
    Splitter  document.Splitter
    Embedder  provider.Embedder
    Generator provider.Generator
    Backend   vectorstore.Backend

    closers []func() error
}

// Close releases clients and the vector backend.
func (c *Components) Close() error {
    var errs []error
    for i := len(c.closers) - 1; i >= 0; i-- {
        errs = append(errs, c.closers[i]())
    }
    return errors.Join(errs...)
}

// NewComponents builds the splitter, providers and vector backend selected by conf.
func NewComponents(ctx context.Context, conf *cfg.AppConfig, log logger.Logger) (*Components, error) {
    c := &Components{}
    ok := false
    defer func() {
        if !ok {
            c.Close()
        }
    }()

    splitter, err := newSplitter(ctx, conf, log)
    if err != nil {
        return nil, err
    }
    c.Splitter = splitter

    var openaiClient *openai.Client
    if conf.Embedder.Type == "openai" || conf.Generator.Type == "openai" {
        o := conf.Providers.OpenAI
        openaiClient, err = openai.NewClient(openai.Config{
            BaseURL:           o.BaseURL,
            APIKey:            o.APIKey,
            EmbeddingModel:    conf.Embedder.Model,
            ChatModel:         conf.Generator.Model,
            Temperature:       conf.Generator.Temperature,
            Timeout:           o.Timeout,
            MaxRetries:        o.MaxRetries,
            RequestsPerSecond: o.RequestsPerSecond,
            Burst:             o.Burst,
        }, log)
        if err != nil {
            return nil, fmt.Errorf("failed to create openai client: %w", err)
        }
    }

    dimension := 0
    switch conf.Embedder.Type {
    case "openai":
        c.Embedder = openaiClient
    default:
        e := local.NewHashEmbedder(conf.Embedder.Dimension)
        dimension = e.Dimension()
        c.Embedder = e
    }

    switch conf.Generator.Type {
    case "openai":
        c.Generator = openaiClient
    case "vertex":
        g, err := vertex.NewGenerator(ctx, vertex.Config{
            ProjectID:   conf.Providers.Vertex.ProjectID,
            Region:      conf.Providers.Vertex.Region,
            Model:       conf.Generator.Model,
            Temperature: float32(conf.Generator.Temperature),
        }, log)
        if err != nil {
            return nil, fmt.Errorf("failed to create vertex generator: %w", err)
        }
        c.closers = append(c.closers, g.Close)
        c.Generator = g
    default:
        c.Generator = local.NewExtractiveGenerator(conf.Generator.MaxSentences)
    }

    backend, err := newBackend(conf, dimension)
    if err != nil {
        return nil, err
    }
    c.closers = append(c.closers, backend.Close)
    c.Backend = backend

    log.Info("Components ready",
        logger.String("embedder", conf.Embedder.Type),
        logger.String("generator", conf.Generator.Type),
        logger.String("vector_store", conf.VectorStore.Type),
        logger.Bool("ocr", conf.OCR.Enabled),
    )
    ok = true
    return c, nil
}

func newSplitter(ctx context.Context, conf *cfg.AppConfig, log logger.Logger) (*pdf.Processor, error) {
    opts := []pdf.Option{
        pdf.WithTextSplitter(pdf.NewTextSplitter(conf.Splitter.ChunkSize, conf.Splitter.ChunkOverlap)),
        pdf.WithMaxWorkers(conf.Splitter.MaxWorkers),
    }
    if conf.OCR.Enabled {
        extractor, err := ocr.NewTextractExtractor(ctx, &ocr.TextractConfig{
            Region:        conf.OCR.Region,
            Endpoint:      conf.OCR.Endpoint,
            AccessKey:     conf.OCR.AccessKey,
            SecretKey:     conf.OCR.SecretKey,
            MinConfidence: conf.OCR.MinConfidence,
        }, log)
        if err != nil {
            return nil, fmt.Errorf("failed to create textract extractor: %w", err)
        }
        opts = append(opts, pdf.WithOCR(extractor))
    }
    return pdf.NewProcessor(log, opts...), nil
}

func newBackend(conf *cfg.AppConfig, dimension int) (vectorstore.Backend, error) {
    vs := conf.VectorStore
    switch vs.Type {
    case "memory":
        return memory.NewStorage(), nil
    case "qdrant":
        return qdrant.NewStorage(qdrant.Config{
            URL:        vs.Qdrant.URL,
            APIKey:     vs.Qdrant.APIKey,
            Collection: vs.Collection,
            Dimension:  dimension,
            Timeout:    vs.Qdrant.Timeout,
        }), nil
    case "sqlite", "":
        s, err := sqlite.NewStorage(sqlite.Config{Path: vs.SQLite.Path, Collection: vs.Collection})
        if err != nil {
            return nil, fmt.Errorf("failed to open sqlite vector store: %w", err)
        }
        return s, nil
    default:
        return nil, fmt.Errorf("unsupported vector store type: %s", vs.Type)
    }
}
