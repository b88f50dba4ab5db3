package storage

import (
    "context"
    "crypto/md5"
    "encoding/hex"
    "path/filepath"
    "strings"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/feichai0017/document-rag/pkg/logger"
    "github.com/feichai0017/document-rag/pkg/storage/local"
)

func TestNewStorageDefaultsToLocal(t *testing.T) {
    st, err := NewStorage(context.Background(), Config{Local: local.Config{Dir: t.TempDir()}}, logger.NewNop())
    require.NoError(t, err)
    assert.IsType(t, &local.LocalStorage{}, st)

    _, err = NewStorage(context.Background(), Config{Type: "ftp"}, logger.NewNop())
    assert.Error(t, err)
}

func TestHash(t *testing.T) {
    ctx := context.Background()
    st, err := NewStorage(ctx, Config{Type: StorageTypeLocal, Local: local.Config{Dir: filepath.Join(t.TempDir(), "u")}}, logger.NewNop())
    require.NoError(t, err)

    key, err := st.Store(ctx, strings.NewReader("same bytes"), "one.pdf")
    require.NoError(t, err)
    other, err := st.Store(ctx, strings.NewReader("same bytes"), "two.pdf")
    require.NoError(t, err)

    h1, err := Hash(ctx, st, key)
    require.NoError(t, err)
    h2, err := Hash(ctx, st, other)
    require.NoError(t, err)

    sum := md5.Sum([]byte("same bytes"))
    assert.Equal(t, hex.EncodeToString(sum[:]), h1)
    assert.Equal(t, h1, h2)

    _, err = Hash(ctx, st, "missing.pdf")
    assert.ErrorIs(t, err, ErrNotFound)
}
