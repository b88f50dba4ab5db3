// Package ocr recognizes text in scanned documents with AWS Textract.
package ocr

import (
    "context"
    "fmt"
    "strings"

    "github.com/aws/aws-sdk-go-v2/aws"
    awsconfig "github.com/aws/aws-sdk-go-v2/config"
    "github.com/aws/aws-sdk-go-v2/credentials"
    "github.com/aws/aws-sdk-go-v2/service/textract"
    "github.com/aws/aws-sdk-go-v2/service/textract/types"

    "github.com/feichai0017/document-rag/internal/agent/document"
    "github.com/feichai0017/document-rag/pkg/logger"
)

type TextractConfig struct {
    Region        string
    Endpoint      string
    AccessKey     string
    SecretKey     string
    MinConfidence float32
}

// TextractAPI is the subset of the Textract client used here.
type TextractAPI interface {
    DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// TextractExtractor runs synchronous text detection. Textract accepts
// single-page PDFs and images this way; larger documents fail with an error
// from the service.
type TextractExtractor struct {
    client        TextractAPI
    minConfidence float32
    logger        logger.Logger
}

func NewTextractExtractor(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractExtractor, error) {
    opts := []func(*awsconfig.LoadOptions) error{
        awsconfig.WithRegion(cfg.Region),
    }
    if cfg.AccessKey != "" && cfg.SecretKey != "" {
        opts = append(opts, awsconfig.WithCredentialsProvider(
            credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
        ))
    }

    // load aws config
    awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
    if err != nil {
        return nil, fmt.Errorf("unable to load AWS config: %w", err)
    }

    client := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
        if cfg.Endpoint != "" {
            o.BaseEndpoint = aws.String(cfg.Endpoint)
        }
    })
    return NewTextractExtractorWithClient(client, cfg.MinConfidence, log), nil
}

func NewTextractExtractorWithClient(client TextractAPI, minConfidence float32, log logger.Logger) *TextractExtractor {
    return &TextractExtractor{
        client:        client,
        minConfidence: minConfidence,
        logger:        log.Named("textract"),
    }
}

// ExtractText returns the detected LINE blocks joined by newlines.
func (e *TextractExtractor) ExtractText(ctx context.Context, data []byte) (string, error) {
    out, err := e.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
        Document: &types.Document{Bytes: data},
    })
    if err != nil {
        return "", fmt.Errorf("failed to detect document text: %w", err)
    }

    var lines []string
    skipped := 0
    for _, block := range out.Blocks {
        if block.BlockType != types.BlockTypeLine || block.Text == nil {
            continue
        }
        if block.Confidence != nil && *block.Confidence < e.minConfidence {
            skipped++
            continue
        }
        lines = append(lines, *block.Text)
    }

    e.logger.Debug("Textract finished",
        logger.Int("lines", len(lines)),
        logger.Int("low_confidence", skipped),
    )
    return strings.Join(lines, "\n"), nil
}

var _ document.TextExtractor = (*TextractExtractor)(nil)
