// Package local provides embedding and generation that run without any
// external model, for development and tests.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

const DefaultDimension = 256

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`)

// HashEmbedder is a feature-hashing bag-of-words embedder. Unlike TF-IDF it
// needs no corpus preparation, so vectors stay comparable across documents
// indexed at different times.
type HashEmbedder struct {
	dimension int
	stopwords map[string]struct{}
}

// NewHashEmbedder creates an embedder producing vectors of the given size.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HashEmbedder{dimension: dimension, stopwords: defaultStopwords()}
}

func (e *HashEmbedder) Dimension() int { return e.dimension }

// Embed returns one L2-normalized vector per text.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float64, e.dimension)
	for _, tok := range tokens(text) {
		if _, stop := e.stopwords[tok]; stop {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		sign := 1.0
		if sum&0x80000000 != 0 {
			sign = -1.0
		}
		v[int(sum%uint32(e.dimension))] += sign
	}

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dimension)
	if norm == 0 {
		// keep the vector non-zero so cosine stays defined
		out[0] = 1
		return out
	}
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

func tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with",
		"as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up",
		"down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through",
		"during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will",
		"just", "don", "should", "now", "what", "which", "who", "how", "does", "do", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
