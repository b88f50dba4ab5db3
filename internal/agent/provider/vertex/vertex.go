// Package vertex answers questions with Gemini models on Vertex AI.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/feichai0017/document-rag/internal/agent/provider"
	"github.com/feichai0017/document-rag/pkg/logger"
)

// Config selects the project, region and model.
type Config struct {
	ProjectID   string
	Region      string
	Model       string
	Temperature float32
}

// Generator implements provider.Generator.
type Generator struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger logger.Logger
}

// NewGenerator creates the Vertex AI client. Credentials come from the
// environment (Application Default Credentials).
func NewGenerator(ctx context.Context, cfg Config, log logger.Logger) (*Generator, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("vertex: project id is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-central1"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(provider.SystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](cfg.Temperature),
	}

	return &Generator{
		client: client,
		model:  model,
		logger: log.Named("vertex"),
	}, nil
}

func (g *Generator) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(provider.BuildPrompt(question, contexts)))
	if err != nil {
		return "", fmt.Errorf("vertex generate: %w", err)
	}
	answer := extractText(resp)
	if answer == "" {
		return "", errors.New("vertex generate: empty response")
	}
	return answer, nil
}

func (g *Generator) Close() error {
	return g.client.Close()
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}
