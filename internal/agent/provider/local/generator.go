package local

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
)

var sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?\n]+[.!?\n])`)

// ExtractiveGenerator answers by quoting the context sentences that share the
// most terms with the question.
type ExtractiveGenerator struct {
	maxSentences int
	stopwords    map[string]struct{}
}

func NewExtractiveGenerator(maxSentences int) *ExtractiveGenerator {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &ExtractiveGenerator{maxSentences: maxSentences, stopwords: defaultStopwords()}
}

func (g *ExtractiveGenerator) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	terms := map[string]struct{}{}
	for _, tok := range tokens(question) {
		if _, stop := g.stopwords[tok]; !stop {
			terms[tok] = struct{}{}
		}
	}

	var sentences []string
	for _, c := range contexts {
		found := sentencePattern.FindAllString(c+"\n", -1)
		for _, s := range found {
			if s = strings.TrimSpace(s); s != "" {
				sentences = append(sentences, s)
			}
		}
	}
	if len(sentences) == 0 {
		return strings.TrimSpace(strings.Join(contexts, " ")), nil
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, s := range sentences {
		toks := tokens(s)
		hits := 0.0
		for _, tok := range toks {
			if _, ok := terms[tok]; ok {
				hits++
			}
		}
		if len(toks) > 0 {
			hits /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, hits}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	n := g.maxSentences
	if n > len(scores) {
		n = len(scores)
	}
	selected := make([]int, n)
	for i := 0; i < n; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)

	out := make([]string, 0, n)
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " "), nil
}
