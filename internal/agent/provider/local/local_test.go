package local

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestHashEmbedderVectors(t *testing.T) {
	e := NewHashEmbedder(128)
	vecs, err := e.Embed(context.Background(), []string{"Quarterly revenue grew", "quarterly REVENUE grew", "", "the of and"})
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	for _, v := range vecs {
		assert.Len(t, v, 128)
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	}
	assert.Equal(t, vecs[0], vecs[1])
	assert.Equal(t, float32(1), vecs[2][0])
	assert.Equal(t, vecs[2], vecs[3])
}

func TestHashEmbedderSimilarity(t *testing.T) {
	e := NewHashEmbedder(0)
	assert.Equal(t, DefaultDimension, e.Dimension())

	vecs, err := e.Embed(context.Background(), []string{
		"invoice payment due date",
		"when is the invoice payment due",
		"photosynthesis in green plants",
	})
	require.NoError(t, err)
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestHashEmbedderHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashEmbedder(8).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractiveGeneratorPicksRelevantSentences(t *testing.T) {
	g := NewExtractiveGenerator(1)
	answer, err := g.Generate(context.Background(), "What is the refund window?", []string{
		"Shipping takes five days. The refund window is thirty days from delivery.",
		"Support is available on weekdays.",
	})
	require.NoError(t, err)
	assert.Equal(t, "The refund window is thirty days from delivery.", answer)
}

func TestExtractiveGeneratorKeepsContextOrder(t *testing.T) {
	g := NewExtractiveGenerator(2)
	answer, err := g.Generate(context.Background(), "refund policy", []string{
		"Refund requests need a receipt. Weather is nice. Our refund policy is generous.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Refund requests need a receipt. Our refund policy is generous.", answer)
}

func TestExtractiveGeneratorWithoutSentences(t *testing.T) {
	answer, err := NewExtractiveGenerator(0).Generate(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Empty(t, answer)
}
