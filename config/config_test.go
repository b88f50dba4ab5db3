package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

// chdir moves into an empty directory so no .env or config/config.yaml leaks in.
func chdir(t *testing.T) string {
    t.Helper()
    dir := t.TempDir()
    wd, err := os.Getwd()
    require.NoError(t, err)
    require.NoError(t, os.Chdir(dir))
    t.Cleanup(func() { os.Chdir(wd) })
    return dir
}

func writeFile(t *testing.T, path, content string) {
    t.Helper()
    require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
    require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
    chdir(t)
    t.Setenv("RAG_CONFIG", "")

    cfg, err := Load("")
    require.NoError(t, err)
    assert.Equal(t, ":8080", cfg.Server.Addr)
    assert.Equal(t, int64(50<<20), cfg.Server.MaxUploadBytes)
    assert.Equal(t, 500, cfg.Server.MaxPages)
    assert.Equal(t, 5, cfg.RAG.MaxDocuments)
    assert.Equal(t, 5*time.Minute, cfg.RAG.StaleTimeout)
    assert.Equal(t, 2, cfg.RAG.TopK)
    assert.Equal(t, 1000, cfg.Splitter.ChunkSize)
    assert.Equal(t, 200, cfg.Splitter.ChunkOverlap)
    assert.Equal(t, "sqlite", cfg.VectorStore.Type)
    assert.Equal(t, "local", cfg.Queue.Type)
}

func TestLoadYAMLAndZeroFieldsFallBack(t *testing.T) {
    dir := chdir(t)
    path := filepath.Join(dir, "rag.yaml")
    writeFile(t, path, `
server:
  addr: ":9090"
  max_pages: 40
vector_store:
  type: qdrant
  collection: docs
rag:
  max_documents: 0
  top_k: 4
  stale_timeout: 90s
queue:
  task_timeout: 2m
`)

    cfg, err := Load(path)
    require.NoError(t, err)
    assert.Equal(t, ":9090", cfg.Server.Addr)
    assert.Equal(t, 40, cfg.Server.MaxPages)
    assert.Equal(t, "qdrant", cfg.VectorStore.Type)
    assert.Equal(t, "docs", cfg.VectorStore.Collection)
    assert.Equal(t, 5, cfg.RAG.MaxDocuments)
    assert.Equal(t, 4, cfg.RAG.TopK)
    assert.Equal(t, 90*time.Second, cfg.RAG.StaleTimeout)
    assert.Equal(t, 2*time.Minute, cfg.Queue.TaskTimeout)
    assert.Equal(t, "data/vectors.db", cfg.VectorStore.SQLite.Path)
}

func TestLoadMissingExplicitFile(t *testing.T) {
    chdir(t)
    _, err := Load("does-not-exist.yaml")
    assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
    dir := chdir(t)
    writeFile(t, filepath.Join(dir, ".env"), "QDRANT_API_KEY=from-dotenv\nQDRANT_URL=http://dotenv:6333\n")
    // registered for restore, then removed so the .env value applies
    t.Setenv("QDRANT_API_KEY", "")
    os.Unsetenv("QDRANT_API_KEY")
    t.Setenv("RAG_CONFIG", "")
    t.Setenv("QDRANT_URL", "http://env:6333")
    t.Setenv("REDIS_ADDR", "redis:6379")
    t.Setenv("AWS_S3_BUCKET_NAME", "uploads")
    t.Setenv("MINIO_USE_SSL", "true")
    t.Setenv("RAG_ADDR", ":7000")

    cfg, err := Load("")
    require.NoError(t, err)
    assert.Equal(t, "from-dotenv", cfg.VectorStore.Qdrant.APIKey)
    assert.Equal(t, "http://env:6333", cfg.VectorStore.Qdrant.URL)
    assert.Equal(t, "redis:6379", cfg.Queue.Redis.Addr)
    assert.Equal(t, "uploads", cfg.Storage.S3.BucketName)
    assert.True(t, cfg.Storage.Minio.UseSSL)
    assert.Equal(t, ":7000", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
    tests := []struct {
        name   string
        mutate func(*AppConfig)
    }{
        {"server mode", func(c *AppConfig) { c.Server.Mode = "production" }},
        {"vector store", func(c *AppConfig) { c.VectorStore.Type = "faiss" }},
        {"embedder", func(c *AppConfig) { c.Embedder.Type = "tfidf" }},
        {"queue", func(c *AppConfig) { c.Queue.Type = "kafka" }},
        {"overlap", func(c *AppConfig) { c.Splitter.ChunkOverlap = c.Splitter.ChunkSize }},
        {"s3 bucket", func(c *AppConfig) { c.Storage.Type = "s3" }},
        {"vertex project", func(c *AppConfig) { c.Generator.Type = "vertex" }},
        {"ocr region", func(c *AppConfig) { c.OCR.Enabled = true }},
    }
    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            cfg := Default()
            tt.mutate(cfg)
            assert.Error(t, cfg.Validate())
        })
    }
    assert.NoError(t, Default().Validate())
}
