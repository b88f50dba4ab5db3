package s3

import (
    "context"
    "errors"
    "fmt"
    "io"
    "io/fs"
    "time"

    "github.com/aws/aws-sdk-go-v2/aws"
    "github.com/aws/aws-sdk-go-v2/config"
    "github.com/aws/aws-sdk-go-v2/credentials"
    "github.com/aws/aws-sdk-go-v2/service/s3"
    "github.com/aws/aws-sdk-go-v2/service/s3/types"

    "github.com/feichai0017/document-rag/pkg/logger"
)

type Config struct {
    BucketName   string
    Region       string
    Endpoint     string
    AccessKey    string
    SecretKey    string
    UsePathStyle bool
}

// API is the subset of the S3 client used by S3Storage.
type API interface {
    PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
    GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
    HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
    DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
    s3.ListObjectsV2APIClient
}

type S3Storage struct {
    client     API
    bucketName string
    logger     logger.Logger
}

func NewS3Storage(ctx context.Context, cfg Config, log logger.Logger) (*S3Storage, error) {
    log.Info("S3 Configuration",
        logger.String("bucket", cfg.BucketName),
        logger.String("region", cfg.Region),
        logger.String("endpoint", cfg.Endpoint),
    )

    opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
    if cfg.AccessKey != "" {
        opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
            cfg.AccessKey,
            cfg.SecretKey,
            "",
        )))
    }

    // AWS SDK 配置
    awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
    if err != nil {
        return nil, fmt.Errorf("failed to load AWS config: %w", err)
    }

    client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
        if cfg.Endpoint != "" {
            o.BaseEndpoint = aws.String(cfg.Endpoint)
        }
        o.UsePathStyle = cfg.UsePathStyle
    })

    // 验证 bucket 是否存在
    _, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
        Bucket: aws.String(cfg.BucketName),
    })
    if err != nil {
        return nil, fmt.Errorf("failed to verify bucket existence: %w", err)
    }

    return NewWithClient(client, cfg.BucketName, log), nil
}

func NewWithClient(client API, bucket string, log logger.Logger) *S3Storage {
    return &S3Storage{client: client, bucketName: bucket, logger: log.Named("s3")}
}

// Store 实现 Storage 接口的 Store 方法
func (s *S3Storage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
    _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
        Bucket:      aws.String(s.bucketName),
        Key:         aws.String(key),
        Body:        reader,
        ContentType: aws.String("application/pdf"),
    })
    if err != nil {
        s.logger.Error("Failed to store file to S3",
            logger.String("bucket", s.bucketName),
            logger.String("key", key),
            logger.Error(err),
        )
        return "", fmt.Errorf("failed to store file: %w", err)
    }
    return key, nil
}

// Get 实现 Storage 接口的 Get 方法
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
    result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
        Bucket: aws.String(s.bucketName),
        Key:    aws.String(key),
    })
    if err != nil {
        return nil, fmt.Errorf("failed to get file %s: %w", key, mapError(err))
    }
    return result.Body, nil
}

func (s *S3Storage) Stat(ctx context.Context, key string) (int64, error) {
    head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
        Bucket: aws.String(s.bucketName),
        Key:    aws.String(key),
    })
    if err != nil {
        return 0, fmt.Errorf("failed to stat file %s: %w", key, mapError(err))
    }
    return aws.ToInt64(head.ContentLength), nil
}

func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
    _, err := s.Stat(ctx, key)
    if errors.Is(err, fs.ErrNotExist) {
        return false, nil
    }
    return err == nil, err
}

// Delete 实现 Storage 接口的 Delete 方法; S3 treats a missing key as deleted.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
    _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
        Bucket: aws.String(s.bucketName),
        Key:    aws.String(key),
    })
    if err != nil {
        s.logger.Error("Failed to delete file from S3",
            logger.String("bucket", s.bucketName),
            logger.String("key", key),
            logger.Error(err),
        )
        return fmt.Errorf("failed to delete file: %w", err)
    }
    return nil
}

// CleanupBefore 实现 Storage 接口的 CleanupBefore 方法
func (s *S3Storage) CleanupBefore(ctx context.Context, threshold time.Time, keep func(key string) bool) (int, error) {
    paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
        Bucket: aws.String(s.bucketName),
    })

    removed := 0
    for paginator.HasMorePages() {
        page, err := paginator.NextPage(ctx)
        if err != nil {
            s.logger.Error("Failed to list objects",
                logger.String("bucket", s.bucketName),
                logger.Error(err),
            )
            return removed, fmt.Errorf("failed to list objects: %w", err)
        }

        for _, obj := range page.Contents {
            key := aws.ToString(obj.Key)
            if obj.LastModified == nil || !obj.LastModified.Before(threshold) {
                continue
            }
            if keep != nil && keep(key) {
                continue
            }
            if err := s.Delete(ctx, key); err != nil {
                continue
            }
            removed++
            s.logger.Info("Deleted expired object",
                logger.String("key", key),
                logger.Time("lastModified", *obj.LastModified),
            )
        }
    }
    return removed, nil
}

func mapError(err error) error {
    var noSuchKey *types.NoSuchKey
    var notFound *types.NotFound
    if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
        return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
    }
    return err
}
