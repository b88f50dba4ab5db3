package pdf

import (
    "strings"
    "testing"
    "unicode/utf8"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestSplitShortTextIsOneChunk(t *testing.T) {
    s := NewTextSplitter(1000, 200)
    assert.Equal(t, []string{"Hello world."}, s.Split("  Hello world.\n"))
    assert.Empty(t, s.Split("   \n\n  "))
}

func TestSplitPrefersParagraphs(t *testing.T) {
    s := NewTextSplitter(30, 0)
    text := "First paragraph is here.\n\nSecond paragraph is here.\n\nThird one."
    assert.Equal(t, []string{
        "First paragraph is here.",
        "Second paragraph is here.",
        "Third one.",
    }, s.Split(text))
}

func TestSplitRespectsChunkSize(t *testing.T) {
    s := NewTextSplitter(100, 20)
    words := make([]string, 500)
    for i := range words {
        words[i] = "lorem"
    }
    chunks := s.Split(strings.Join(words, " "))
    require.Greater(t, len(chunks), 1)
    for _, c := range chunks {
        assert.LessOrEqual(t, utf8.RuneCountInString(c), 100)
    }
}

func TestSplitOverlapsNeighbours(t *testing.T) {
    s := NewTextSplitter(20, 10)
    chunks := s.Split("aaaa bbbb cccc dddd eeee ffff")
    assert.Equal(t, []string{"aaaa bbbb cccc dddd", "cccc dddd eeee ffff"}, chunks)
}

func TestSplitFallsBackToCharacters(t *testing.T) {
    s := NewTextSplitter(10, 0)
    chunks := s.Split(strings.Repeat("x", 25))
    assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)
}

func TestSplitCountsRunes(t *testing.T) {
    s := NewTextSplitter(5, 0)
    chunks := s.Split("文档检索增强生成")
    require.Len(t, chunks, 2)
    assert.Equal(t, "文档检索增", chunks[0])
    assert.Equal(t, "强生成", chunks[1])
}

func TestNewTextSplitterDefaults(t *testing.T) {
    s := NewTextSplitter(0, -1)
    assert.Equal(t, DefaultChunkSize, s.ChunkSize)
    assert.Equal(t, 0, s.ChunkOverlap)
    assert.Equal(t, DefaultSeparators, s.Separators)

    s = NewTextSplitter(100, 100)
    assert.Equal(t, 0, s.ChunkOverlap)
}

func TestSplitKeepSeparator(t *testing.T) {
    assert.Equal(t, []string{"a", ".b", ".c"}, splitKeepSeparator("a.b.c", "."))
    assert.Equal(t, []string{".a"}, splitKeepSeparator(".a", "."))
    assert.Equal(t, []string{"a", "b"}, splitKeepSeparator("ab", ""))
}
