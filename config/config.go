// Package config loads the service configuration from YAML, a .env file and
// the environment, in that order of precedence (later wins).
package config

import (
    "errors"
    "fmt"
    "os"
    "strconv"
    "time"

    "github.com/joho/godotenv"
    "gopkg.in/yaml.v3"

    "github.com/feichai0017/document-rag/pkg/logger"
)

const DefaultPath = "config/config.yaml"

type AppConfig struct {
    Server      ServerConfig      `yaml:"server"`
    Log         logger.Config     `yaml:"log"`
    Storage     StorageConfig     `yaml:"storage"`
    Index       IndexConfig       `yaml:"index"`
    VectorStore VectorStoreConfig `yaml:"vector_store"`
    Embedder    EmbedderConfig    `yaml:"embedder"`
    Generator   GeneratorConfig   `yaml:"generator"`
    Providers   ProvidersConfig   `yaml:"providers"`
    Splitter    SplitterConfig    `yaml:"splitter"`
    OCR         TextractConfig    `yaml:"ocr"`
    Queue       QueueConfig       `yaml:"queue"`
    RAG         RAGConfig         `yaml:"rag"`
}

type ServerConfig struct {
    Addr            string        `yaml:"addr"`
    Mode            string        `yaml:"mode"`
    MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
    MaxPages        int           `yaml:"max_pages"` // 负数关闭页数检查
    CORSOrigins     []string      `yaml:"cors_origins"`
    ReadTimeout     time.Duration `yaml:"read_timeout"`
    WriteTimeout    time.Duration `yaml:"write_timeout"`
    ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
    Type  string      `yaml:"type"`
    Local LocalConfig `yaml:"local"`
    S3    S3Config    `yaml:"s3"`
    Minio MinioConfig `yaml:"minio"`
}

type LocalConfig struct {
    Dir string `yaml:"dir"`
}

type IndexConfig struct {
    Path string `yaml:"path"`
}

type VectorStoreConfig struct {
    Type       string       `yaml:"type"`
    Collection string       `yaml:"collection"`
    SQLite     SQLiteConfig `yaml:"sqlite"`
    Qdrant     QdrantConfig `yaml:"qdrant"`
}

type SQLiteConfig struct {
    Path string `yaml:"path"`
}

type QdrantConfig struct {
    URL     string        `yaml:"url"`
    APIKey  string        `yaml:"api_key"`
    Timeout time.Duration `yaml:"timeout"`
}

type EmbedderConfig struct {
    Type      string `yaml:"type"`
    Model     string `yaml:"model"`
    Dimension int    `yaml:"dimension"`
}

type GeneratorConfig struct {
    Type         string  `yaml:"type"`
    Model        string  `yaml:"model"`
    Temperature  float64 `yaml:"temperature"`
    MaxSentences int     `yaml:"max_sentences"`
}

type ProvidersConfig struct {
    OpenAI OpenAIConfig `yaml:"openai"`
    Vertex VertexConfig `yaml:"vertex"`
}

type OpenAIConfig struct {
    BaseURL           string        `yaml:"base_url"`
    APIKey            string        `yaml:"api_key"`
    Timeout           time.Duration `yaml:"timeout"`
    MaxRetries        int           `yaml:"max_retries"`
    RequestsPerSecond float64       `yaml:"requests_per_second"`
    Burst             int           `yaml:"burst"`
}

type VertexConfig struct {
    ProjectID string `yaml:"project_id"`
    Region    string `yaml:"region"`
}

type SplitterConfig struct {
    ChunkSize    int `yaml:"chunk_size"`
    ChunkOverlap int `yaml:"chunk_overlap"`
    MaxWorkers   int `yaml:"max_workers"`
}

type QueueConfig struct {
    Type        string        `yaml:"type"`
    Concurrency int           `yaml:"concurrency"`
    TaskTimeout time.Duration `yaml:"task_timeout"`
    Redis       RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
    Addr     string `yaml:"addr"`
    Password string `yaml:"password"`
    DB       int    `yaml:"db"`
}

type RAGConfig struct {
    MaxDocuments int           `yaml:"max_documents"`
    StaleTimeout time.Duration `yaml:"stale_timeout"`
    TopK         int           `yaml:"top_k"`
}

// Default returns the configuration used for every field the file leaves unset.
func Default() *AppConfig {
    return &AppConfig{
        Server: ServerConfig{
            Addr:            ":8080",
            Mode:            "release",
            MaxUploadBytes:  50 << 20,
            MaxPages:        500,
            CORSOrigins:     []string{"*"},
            ReadTimeout:     30 * time.Second,
            WriteTimeout:    5 * time.Minute,
            ShutdownTimeout: 15 * time.Second,
        },
        Log: *logger.DefaultConfig(),
        Storage: StorageConfig{
            Type:  "local",
            Local: LocalConfig{Dir: "data/uploads"},
        },
        Index: IndexConfig{Path: "data/documents_index.json"},
        VectorStore: VectorStoreConfig{
            Type:       "sqlite",
            Collection: "rag_chunks",
            SQLite:     SQLiteConfig{Path: "data/vectors.db"},
            Qdrant:     QdrantConfig{URL: "http://localhost:6333", Timeout: 15 * time.Second},
        },
        Embedder:  EmbedderConfig{Type: "local", Dimension: 256},
        Generator: GeneratorConfig{Type: "extractive", MaxSentences: 3},
        Providers: ProvidersConfig{
            OpenAI: OpenAIConfig{BaseURL: "https://api.openai.com/v1", Timeout: time.Minute, MaxRetries: 5},
            Vertex: VertexConfig{Region: "us-central1"},
        },
        Splitter: SplitterConfig{ChunkSize: 1000, ChunkOverlap: 200, MaxWorkers: 4},
        OCR:      TextractConfig{MinConfidence: 50},
        Queue: QueueConfig{
            Type:        "local",
            Concurrency: 2,
            TaskTimeout: 10 * time.Minute,
            Redis:       RedisConfig{Addr: "localhost:6379"},
        },
        RAG: RAGConfig{MaxDocuments: 5, StaleTimeout: 5 * time.Minute, TopK: 2},
    }
}

// Load reads path (optional), then .env, then the environment, and validates
// the result. A missing file at DefaultPath is not an error.
func Load(path string) (*AppConfig, error) {
    if path == "" {
        path = os.Getenv("RAG_CONFIG")
    }
    explicit := path != ""
    if !explicit {
        path = DefaultPath
    }

    cfg := Default()
    data, err := os.ReadFile(path)
    switch {
    case err == nil:
        if err := yaml.Unmarshal(data, cfg); err != nil {
            return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
        }
    case errors.Is(err, os.ErrNotExist) && !explicit:
    default:
        return nil, fmt.Errorf("failed to read config %s: %w", path, err)
    }

    // .env is optional; real environment variables take precedence over it
    if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
        return nil, fmt.Errorf("failed to load .env: %w", err)
    }
    cfg.applyEnv()
    cfg.applyDefaults()

    if err := cfg.Validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

func (c *AppConfig) applyEnv() {
    setString(&c.Server.Addr, "RAG_ADDR")
    setString(&c.Queue.Redis.Addr, "REDIS_ADDR")
    setString(&c.Queue.Redis.Password, "REDIS_PASSWORD")
    setString(&c.VectorStore.Qdrant.URL, "QDRANT_URL")
    setString(&c.VectorStore.Qdrant.APIKey, "QDRANT_API_KEY")
    setString(&c.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
    setString(&c.Providers.OpenAI.BaseURL, "OPENAI_BASE_URL")
    setString(&c.Providers.Vertex.ProjectID, "GOOGLE_CLOUD_PROJECT")
    setString(&c.Providers.Vertex.Region, "GOOGLE_CLOUD_REGION")
    c.Storage.S3.applyEnv()
    c.Storage.Minio.applyEnv()
    c.OCR.applyEnv()
}

// applyDefaults restores defaults for fields the file set to zero values.
func (c *AppConfig) applyDefaults() {
    d := Default()
    if c.Server.Addr == "" {
        c.Server.Addr = d.Server.Addr
    }
    if c.Server.Mode == "" {
        c.Server.Mode = d.Server.Mode
    }
    if c.Server.MaxUploadBytes <= 0 {
        c.Server.MaxUploadBytes = d.Server.MaxUploadBytes
    }
    if c.Server.MaxPages == 0 {
        c.Server.MaxPages = d.Server.MaxPages
    }
    if c.Server.ShutdownTimeout <= 0 {
        c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
    }
    if c.Storage.Type == "" {
        c.Storage.Type = d.Storage.Type
    }
    if c.Storage.Local.Dir == "" {
        c.Storage.Local.Dir = d.Storage.Local.Dir
    }
    if c.Index.Path == "" {
        c.Index.Path = d.Index.Path
    }
    if c.VectorStore.Type == "" {
        c.VectorStore.Type = d.VectorStore.Type
    }
    if c.VectorStore.Collection == "" {
        c.VectorStore.Collection = d.VectorStore.Collection
    }
    if c.VectorStore.SQLite.Path == "" {
        c.VectorStore.SQLite.Path = d.VectorStore.SQLite.Path
    }
    if c.Embedder.Type == "" {
        c.Embedder.Type = d.Embedder.Type
    }
    if c.Generator.Type == "" {
        c.Generator.Type = d.Generator.Type
    }
    if c.Splitter.ChunkSize <= 0 {
        c.Splitter.ChunkSize = d.Splitter.ChunkSize
    }
    if c.Splitter.ChunkOverlap < 0 {
        c.Splitter.ChunkOverlap = d.Splitter.ChunkOverlap
    }
    if c.Queue.Type == "" {
        c.Queue.Type = d.Queue.Type
    }
    if c.Queue.Concurrency <= 0 {
        c.Queue.Concurrency = d.Queue.Concurrency
    }
    if c.Queue.TaskTimeout <= 0 {
        c.Queue.TaskTimeout = d.Queue.TaskTimeout
    }
    if c.RAG.MaxDocuments <= 0 {
        c.RAG.MaxDocuments = d.RAG.MaxDocuments
    }
    if c.RAG.StaleTimeout <= 0 {
        c.RAG.StaleTimeout = d.RAG.StaleTimeout
    }
    if c.RAG.TopK <= 0 {
        c.RAG.TopK = d.RAG.TopK
    }
}

// Validate checks enum fields and the settings each choice requires.
func (c *AppConfig) Validate() error {
    var errs []error
    check := func(field, value string, allowed ...string) {
        for _, a := range allowed {
            if value == a {
                return
            }
        }
        errs = append(errs, fmt.Errorf("%s: unsupported value %q (want one of %v)", field, value, allowed))
    }
    check("server.mode", c.Server.Mode, "debug", "release", "test")
    check("storage.type", c.Storage.Type, "local", "s3", "minio")
    check("vector_store.type", c.VectorStore.Type, "memory", "sqlite", "qdrant")
    check("embedder.type", c.Embedder.Type, "local", "openai")
    check("generator.type", c.Generator.Type, "extractive", "openai", "vertex")
    check("queue.type", c.Queue.Type, "local", "asynq")

    if c.Splitter.ChunkOverlap >= c.Splitter.ChunkSize {
        errs = append(errs, fmt.Errorf("splitter.chunk_overlap must be smaller than splitter.chunk_size"))
    }
    if c.Storage.Type == "s3" && c.Storage.S3.BucketName == "" {
        errs = append(errs, errors.New("storage.s3.bucket_name is required"))
    }
    if c.Storage.Type == "minio" && (c.Storage.Minio.Endpoint == "" || c.Storage.Minio.BucketName == "") {
        errs = append(errs, errors.New("storage.minio.endpoint and bucket_name are required"))
    }
    if c.Generator.Type == "vertex" && c.Providers.Vertex.ProjectID == "" {
        errs = append(errs, errors.New("providers.vertex.project_id is required for the vertex generator"))
    }
    if c.OCR.Enabled && c.OCR.Region == "" {
        errs = append(errs, errors.New("ocr.region is required when ocr is enabled"))
    }
    if len(errs) > 0 {
        return fmt.Errorf("invalid config: %w", errors.Join(errs...))
    }
    return nil
}

func setString(dst *string, key string) {
    if v, ok := os.LookupEnv(key); ok && v != "" {
        *dst = v
    }
}

func setBool(dst *bool, key string) {
    if v, ok := os.LookupEnv(key); ok && v != "" {
        if b, err := strconv.ParseBool(v); err == nil {
            *dst = b
        }
    }
}
