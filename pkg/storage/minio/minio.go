package minio

import (
    "context"
    "errors"
    "fmt"
    "io"
    "io/fs"
    "time"

    "github.com/minio/minio-go/v7"
    "github.com/minio/minio-go/v7/pkg/credentials"

    "github.com/feichai0017/document-rag/pkg/logger"
)

type Config struct {
    AccessKey  string
    SecretKey  string
    Endpoint   string
    UseSSL     bool
    Region     string
    BucketName string
}

type MinioStorage struct {
    client     *minio.Client
    bucketName string
    logger     logger.Logger
}

func NewMinioStorage(ctx context.Context, cfg Config, log logger.Logger) (*MinioStorage, error) {
    client, err := minio.New(cfg.Endpoint, &minio.Options{
        Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
        Secure: cfg.UseSSL,
        Region: cfg.Region,
    })
    if err != nil {
        return nil, fmt.Errorf("failed to create MinIO client: %w", err)
    }

    exists, err := client.BucketExists(ctx, cfg.BucketName)
    if err != nil {
        return nil, fmt.Errorf("failed to check bucket existence: %w", err)
    }
    if !exists {
        err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
            Region: cfg.Region,
        })
        if err != nil {
            return nil, fmt.Errorf("failed to create bucket: %w", err)
        }
        log.Info("Created MinIO bucket", logger.String("bucket", cfg.BucketName))
    }

    return &MinioStorage{
        client:     client,
        bucketName: cfg.BucketName,
        logger:     log.Named("minio"),
    }, nil
}

// Store implements Storage.Store
func (m *MinioStorage) Store(ctx context.Context, reader io.Reader, filename string) (string, error) {
    _, err := m.client.PutObject(ctx, m.bucketName, filename, reader, -1, minio.PutObjectOptions{
        ContentType: "application/pdf",
    })
    if err != nil {
        m.logger.Error("Failed to store file to MinIO",
            logger.String("bucket", m.bucketName),
            logger.String("filename", filename),
            logger.Error(err),
        )
        return "", fmt.Errorf("failed to store file: %w", err)
    }
    return filename, nil
}

// Get implements Storage.Get. The object is stat'ed first because GetObject
// only reports a missing key on the first read.
func (m *MinioStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
    if _, err := m.Stat(ctx, key); err != nil {
        return nil, err
    }
    obj, err := m.client.GetObject(ctx, m.bucketName, key, minio.GetObjectOptions{})
    if err != nil {
        return nil, fmt.Errorf("failed to get file %s: %w", key, mapError(err))
    }
    return obj, nil
}

func (m *MinioStorage) Stat(ctx context.Context, key string) (int64, error) {
    info, err := m.client.StatObject(ctx, m.bucketName, key, minio.StatObjectOptions{})
    if err != nil {
        return 0, fmt.Errorf("failed to stat file %s: %w", key, mapError(err))
    }
    return info.Size, nil
}

func (m *MinioStorage) Exists(ctx context.Context, key string) (bool, error) {
    _, err := m.Stat(ctx, key)
    if errors.Is(err, fs.ErrNotExist) {
        return false, nil
    }
    return err == nil, err
}

// Delete implements Storage.Delete
func (m *MinioStorage) Delete(ctx context.Context, key string) error {
    err := m.client.RemoveObject(ctx, m.bucketName, key, minio.RemoveObjectOptions{})
    if err != nil {
        m.logger.Error("Failed to delete file from MinIO",
            logger.String("bucket", m.bucketName),
            logger.String("key", key),
            logger.Error(err),
        )
        return fmt.Errorf("failed to delete file: %w", err)
    }
    return nil
}

// CleanupBefore implements Storage.CleanupBefore
func (m *MinioStorage) CleanupBefore(ctx context.Context, threshold time.Time, keep func(key string) bool) (int, error) {
    removed := 0
    for obj := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{Recursive: true}) {
        if obj.Err != nil {
            m.logger.Error("Error listing objects",
                logger.String("bucket", m.bucketName),
                logger.Error(obj.Err),
            )
            return removed, fmt.Errorf("failed to list objects: %w", obj.Err)
        }
        if !obj.LastModified.Before(threshold) || (keep != nil && keep(obj.Key)) {
            continue
        }
        if err := m.Delete(ctx, obj.Key); err != nil {
            continue
        }
        removed++
        m.logger.Info("Deleted expired object",
            logger.String("key", obj.Key),
            logger.Time("lastModified", obj.LastModified),
        )
    }
    return removed, nil
}

func mapError(err error) error {
    if minio.ToErrorResponse(err).Code == "NoSuchKey" {
        return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
    }
    return err
}
