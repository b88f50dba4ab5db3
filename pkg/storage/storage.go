package storage

import (
    "context"
    "crypto/md5"
    "encoding/hex"
    "fmt"
    "io"
    "io/fs"
    "time"

    "github.com/feichai0017/document-rag/pkg/logger"
    "github.com/feichai0017/document-rag/pkg/storage/local"
    "github.com/feichai0017/document-rag/pkg/storage/minio"
    "github.com/feichai0017/document-rag/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
    StorageTypeLocal StorageType = "local"
    StorageTypeS3    StorageType = "s3"
    StorageTypeMinio StorageType = "minio"
)

// ErrNotFound is returned (wrapped) by Get and Stat for unknown keys.
var ErrNotFound = fs.ErrNotExist

// Storage 接口定义
type Storage interface {
    // Store 存储文件, 返回之后访问该文件用的 key
    Store(ctx context.Context, reader io.Reader, filename string) (string, error)
    // Get 获取文件
    Get(ctx context.Context, key string) (io.ReadCloser, error)
    // Stat 返回文件大小
    Stat(ctx context.Context, key string) (int64, error)
    Exists(ctx context.Context, key string) (bool, error)
    // Delete 删除文件, 文件不存在时不报错
    Delete(ctx context.Context, key string) error
    // CleanupBefore 清理 threshold 之前修改且 keep 返回 false 的文件
    CleanupBefore(ctx context.Context, threshold time.Time, keep func(key string) bool) (int, error)
}

type Config struct {
    Type  StorageType
    Local local.Config
    S3    s3.Config
    Minio minio.Config
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(ctx context.Context, cfg Config, log logger.Logger) (Storage, error) {
    switch cfg.Type {
    case StorageTypeLocal, "":
        return local.NewLocalStorage(cfg.Local, log)
    case StorageTypeS3:
        return s3.NewS3Storage(ctx, cfg.S3, log)
    case StorageTypeMinio:
        return minio.NewMinioStorage(ctx, cfg.Minio, log)
    default:
        return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
    }
}

// Hash returns the hex md5 of the stored object.
func Hash(ctx context.Context, st Storage, key string) (string, error) {
    rc, err := st.Get(ctx, key)
    if err != nil {
        return "", err
    }
    defer rc.Close()

    h := md5.New()
    if _, err := io.Copy(h, rc); err != nil {
        return "", fmt.Errorf("failed to hash %s: %w", key, err)
    }
    return hex.EncodeToString(h.Sum(nil)), nil
}
