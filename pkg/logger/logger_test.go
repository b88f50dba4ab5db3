package logger

import (
    "bufio"
    "context"
    "encoding/json"
    "os"
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []map[string]any {
    t.Helper()
    f, err := os.Open(path)
    require.NoError(t, err)
    defer f.Close()

    var entries []map[string]any
    scanner := bufio.NewScanner(f)
    for scanner.Scan() {
        var e map[string]any
        require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
        entries = append(entries, e)
    }
    require.NoError(t, scanner.Err())
    return entries
}

func TestNewWritesJSONFiles(t *testing.T) {
    dir := t.TempDir()
    appLog := filepath.Join(dir, "nested", "app.log")
    errLog := filepath.Join(dir, "nested", "error.log")

    cfg := DefaultConfig()
    cfg.OutputPaths = []string{appLog}
    cfg.ErrorPaths = []string{errLog}
    cfg.InitialFields = map[string]interface{}{"service": "document-rag"}

    log, err := New(cfg)
    require.NoError(t, err)

    log.Named("test").Info("document indexed", String("doc_id", "d1"), Int("chunks", 3))
    log.Error("rebuild failed")
    log.Debug("below level")
    require.NoError(t, log.Sync())

    entries := readEntries(t, appLog)
    require.Len(t, entries, 2)
    assert.Equal(t, "document indexed", entries[0]["message"])
    assert.Equal(t, "info", entries[0]["level"])
    assert.Equal(t, "test", entries[0]["logger"])
    assert.Equal(t, "d1", entries[0]["doc_id"])
    assert.EqualValues(t, 3, entries[0]["chunks"])
    assert.Equal(t, "document-rag", entries[0]["service"])

    errs := readEntries(t, errLog)
    require.Len(t, errs, 1)
    assert.Equal(t, "rebuild failed", errs[0]["message"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
    cfg := DefaultConfig()
    cfg.OutputPaths = []string{"stdout"}
    cfg.ErrorPaths = nil
    cfg.Level = "loud"

    _, err := New(cfg)
    assert.Error(t, err)
}

func TestNewLoggerOptions(t *testing.T) {
    path := filepath.Join(t.TempDir(), "app.log")
    log, err := NewLogger(
        WithLevel("debug"),
        WithEncoding("json"),
        WithOutputPaths([]string{path}),
        WithErrorPaths(nil),
        WithDevelopment(false),
    )
    require.NoError(t, err)

    log.Debug("debug enabled")
    require.NoError(t, log.Sync())

    entries := readEntries(t, path)
    require.Len(t, entries, 1)
    assert.Equal(t, "debug", entries[0]["level"])
}

func TestFromContextAddsRequestID(t *testing.T) {
    path := filepath.Join(t.TempDir(), "app.log")
    cfg := DefaultConfig()
    cfg.OutputPaths = []string{path}
    cfg.ErrorPaths = nil
    base, err := New(cfg)
    require.NoError(t, err)

    ctx := ContextWithRequestID(context.Background(), "req-42")
    id, ok := RequestIDFromContext(ctx)
    require.True(t, ok)
    assert.Equal(t, "req-42", id)

    FromContext(ctx, base).Info("with id")
    FromContext(context.Background(), base).Info("without id")
    require.NoError(t, base.Sync())

    entries := readEntries(t, path)
    require.Len(t, entries, 2)
    assert.Equal(t, "req-42", entries[0]["request_id"])
    assert.NotContains(t, entries[1], "request_id")

    _, ok = RequestIDFromContext(ContextWithRequestID(context.Background(), ""))
    assert.False(t, ok)
}

func TestTestLoggerSharesSink(t *testing.T) {
    log := NewTestLogger()
    child := log.Named("service").Named("document").With(String("doc_id", "d1"))
    child.Warn("Orphans found after delete", Int("orphans", 2))

    assert.True(t, log.Contains("WARN", "Orphans found"))
    assert.False(t, log.Contains("ERROR", "Orphans found"))

    entry, ok := log.Find("WARN", "Orphans")
    require.True(t, ok)
    assert.Equal(t, "service.document", entry.Logger)
    docID, ok := entry.Field("doc_id")
    require.True(t, ok)
    assert.Equal(t, "d1", docID)
    orphans, ok := entry.Field("orphans")
    require.True(t, ok)
    assert.Equal(t, "2", orphans)
    _, ok = entry.Field("missing")
    assert.False(t, ok)

    log.Clear()
    assert.Empty(t, child.(*TestLogger).GetEntries())
}
