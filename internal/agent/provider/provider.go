// Package provider defines the embedding and generation collaborators.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator answers a question from retrieved context passages.
type Generator interface {
	Generate(ctx context.Context, question string, contexts []string) (string, error)
}

// SystemPrompt is sent as the system message by chat-based generators.
const SystemPrompt = "You answer questions about uploaded PDF documents. " +
	"Use only the provided context. If the context does not contain the answer, say you don't know."

// BuildPrompt renders the user message for chat-based generators.
func BuildPrompt(question string, contexts []string) string {
	var b strings.Builder
	b.WriteString("Use the following pieces of context to answer the question at the end.\n\n")
	b.WriteString(strings.Join(contexts, "\n\n"))
	fmt.Fprintf(&b, "\n\nQuestion: %s\nHelpful Answer:", question)
	return b.String()
}
