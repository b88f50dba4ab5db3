package pdf

import (
    "strings"
    "unicode/utf8"
)

const (
    DefaultChunkSize    = 1000
    DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order, from paragraph breaks down to single characters.
var DefaultSeparators = []string{"\n\n", "\n", ".", " ", ""}

// TextSplitter splits text recursively on a list of separators until every
// piece fits in ChunkSize characters, then merges neighbouring pieces back
// into chunks that share up to ChunkOverlap characters.
type TextSplitter struct {
    ChunkSize    int
    ChunkOverlap int
    Separators   []string
}

func NewTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
    if chunkSize <= 0 {
        chunkSize = DefaultChunkSize
    }
    if chunkOverlap < 0 || chunkOverlap >= chunkSize {
        chunkOverlap = 0
    }
    return &TextSplitter{
        ChunkSize:    chunkSize,
        ChunkOverlap: chunkOverlap,
        Separators:   DefaultSeparators,
    }
}

// Split returns the chunks of text. Chunks are trimmed; empty ones are dropped.
func (s *TextSplitter) Split(text string) []string {
    seps := s.Separators
    if len(seps) == 0 {
        seps = DefaultSeparators
    }
    return s.split(text, seps)
}

func (s *TextSplitter) split(text string, separators []string) []string {
    separator := separators[len(separators)-1]
    var rest []string
    for i, sep := range separators {
        if sep == "" {
            separator = ""
            break
        }
        if strings.Contains(text, sep) {
            separator = sep
            rest = separators[i+1:]
            break
        }
    }

    var final, good []string
    for _, piece := range splitKeepSeparator(text, separator) {
        if length(piece) < s.ChunkSize {
            good = append(good, piece)
            continue
        }
        if len(good) > 0 {
            final = append(final, s.merge(good)...)
            good = nil
        }
        if len(rest) == 0 {
            final = append(final, piece)
        } else {
            final = append(final, s.split(piece, rest)...)
        }
    }
    if len(good) > 0 {
        final = append(final, s.merge(good)...)
    }
    return final
}

// merge joins pieces into chunks of at most ChunkSize characters. When a chunk
// is emitted, pieces are dropped from its front until at most ChunkOverlap
// characters remain to start the next one.
func (s *TextSplitter) merge(pieces []string) []string {
    var chunks, current []string
    total := 0
    for _, piece := range pieces {
        n := length(piece)
        if total+n > s.ChunkSize && len(current) > 0 {
            if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
                chunks = append(chunks, chunk)
            }
            for len(current) > 0 && (total > s.ChunkOverlap || total+n > s.ChunkSize) {
                total -= length(current[0])
                current = current[1:]
            }
        }
        current = append(current, piece)
        total += n
    }
    if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
        chunks = append(chunks, chunk)
    }
    return chunks
}

// splitKeepSeparator splits text on sep and keeps sep at the start of every
// piece after the first. An empty sep splits into characters.
func splitKeepSeparator(text, sep string) []string {
    if sep == "" {
        out := make([]string, 0, utf8.RuneCountInString(text))
        for _, r := range text {
            out = append(out, string(r))
        }
        return out
    }
    parts := strings.Split(text, sep)
    out := make([]string, 0, len(parts))
    for i, p := range parts {
        if i > 0 {
            p = sep + p
        }
        if p != "" {
            out = append(out, p)
        }
    }
    return out
}

func length(s string) int {
    return utf8.RuneCountInString(s)
}
