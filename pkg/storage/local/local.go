package local

import (
    "context"
    "errors"
    "fmt"
    "io"
    "io/fs"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/feichai0017/document-rag/pkg/logger"
)

type Config struct {
    Dir string
}

// LocalStorage keeps files in a single directory. Keys are file paths.
type LocalStorage struct {
    dir    string
    logger logger.Logger
}

func NewLocalStorage(cfg Config, log logger.Logger) (*LocalStorage, error) {
    if cfg.Dir == "" {
        cfg.Dir = "data/uploads"
    }
    dir, err := filepath.Abs(cfg.Dir)
    if err != nil {
        return nil, fmt.Errorf("failed to resolve upload dir: %w", err)
    }
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return nil, fmt.Errorf("failed to create upload dir: %w", err)
    }
    return &LocalStorage{dir: dir, logger: log.Named("storage")}, nil
}

func (s *LocalStorage) Dir() string { return s.dir }

// Store writes reader to dir/<base name of filename>.
func (s *LocalStorage) Store(ctx context.Context, reader io.Reader, filename string) (string, error) {
    name := filepath.Base(filename)
    if name == "." || name == string(filepath.Separator) {
        return "", fmt.Errorf("invalid filename %q", filename)
    }
    path := filepath.Join(s.dir, name)

    f, err := os.CreateTemp(s.dir, ".upload-*")
    if err != nil {
        return "", fmt.Errorf("failed to store file: %w", err)
    }
    tmp := f.Name()
    _, err = io.Copy(f, reader)
    if cerr := f.Close(); err == nil {
        err = cerr
    }
    if err == nil {
        err = os.Rename(tmp, path)
    }
    if err != nil {
        os.Remove(tmp)
        s.logger.Error("Failed to store file",
            logger.String("path", path),
            logger.Error(err),
        )
        return "", fmt.Errorf("failed to store file: %w", err)
    }
    return path, nil
}

func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
    path, err := s.resolve(key)
    if err != nil {
        return nil, err
    }
    f, err := os.Open(path)
    if err != nil {
        return nil, fmt.Errorf("failed to get file: %w", err)
    }
    return f, nil
}

func (s *LocalStorage) Stat(ctx context.Context, key string) (int64, error) {
    path, err := s.resolve(key)
    if err != nil {
        return 0, err
    }
    info, err := os.Stat(path)
    if err != nil {
        return 0, fmt.Errorf("failed to stat file: %w", err)
    }
    return info.Size(), nil
}

func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
    _, err := s.Stat(ctx, key)
    if err == nil {
        return true, nil
    }
    if errors.Is(err, fs.ErrNotExist) {
        return false, nil
    }
    return false, err
}

func (s *LocalStorage) Delete(ctx context.Context, key string) error {
    path, err := s.resolve(key)
    if err != nil {
        return err
    }
    if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
        s.logger.Error("Failed to delete file",
            logger.String("path", path),
            logger.Error(err),
        )
        return fmt.Errorf("failed to delete file: %w", err)
    }
    return nil
}

func (s *LocalStorage) CleanupBefore(ctx context.Context, threshold time.Time, keep func(key string) bool) (int, error) {
    entries, err := os.ReadDir(s.dir)
    if err != nil {
        return 0, fmt.Errorf("failed to list files: %w", err)
    }

    removed := 0
    for _, entry := range entries {
        if ctx.Err() != nil {
            return removed, ctx.Err()
        }
        if entry.IsDir() {
            continue
        }
        info, err := entry.Info()
        if err != nil || !info.ModTime().Before(threshold) {
            continue
        }
        path := filepath.Join(s.dir, entry.Name())
        if keep != nil && keep(path) {
            continue
        }
        if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
            s.logger.Error("Failed to delete expired file",
                logger.String("path", path),
                logger.Error(err),
            )
            continue
        }
        removed++
        s.logger.Info("Deleted expired file",
            logger.String("path", path),
            logger.Time("lastModified", info.ModTime()),
        )
    }
    return removed, nil
}

// resolve accepts a path returned by Store or a bare name inside the directory.
func (s *LocalStorage) resolve(key string) (string, error) {
    path := key
    if !filepath.IsAbs(path) {
        path = filepath.Join(s.dir, path)
    }
    path = filepath.Clean(path)
    if path != s.dir && !strings.HasPrefix(path, s.dir+string(filepath.Separator)) {
        return "", fmt.Errorf("key %q is outside the storage directory: %w", key, fs.ErrPermission)
    }
    return path, nil
}
