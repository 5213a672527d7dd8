package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

// exerciseStorage 对任意实现执行同一组操作
func exerciseStorage(t *testing.T, s Storage) {
	ctx := context.Background()
	content := `{"chunk_index":0,"turns":[]}` + "\n"

	info, err := s.Save(ctx, bytes.NewBufferString(content), "dataset.jsonl")
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "dataset.jsonl", info.Name)
	assert.EqualValues(t, len(content), info.Size)
	assert.Equal(t, "application/x-ndjson", info.MimeType)

	t.Run("Get", func(t *testing.T) {
		r, err := s.Get(ctx, info.ID)
		require.NoError(t, err)
		assert.Equal(t, content, readAll(t, r))
	})

	t.Run("List", func(t *testing.T) {
		files, err := s.List(ctx)
		require.NoError(t, err)
		var ids []string
		for _, f := range files {
			ids = append(ids, f.ID)
		}
		assert.Contains(t, ids, info.ID)
	})

	t.Run("Exists", func(t *testing.T) {
		exists, err := s.Exists(ctx, info.ID)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = s.Exists(ctx, "non-existent-id")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, info.ID))

		exists, err := s.Exists(ctx, info.ID)
		require.NoError(t, err)
		assert.False(t, exists)

		err = s.Delete(ctx, info.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.Get(ctx, info.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLocalStorage(t *testing.T) {
	s, err := NewLocalStorage(LocalConfig{Path: filepath.Join(t.TempDir(), "artifacts")})
	require.NoError(t, err)
	exerciseStorage(t, s)
}

func TestLocalStorageSkipsPartialUploads(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(LocalConfig{Path: dir})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".upload-123"), []byte("partial"), 0o644))

	files, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLocalStorageFailedReaderLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(LocalConfig{Path: dir})
	require.NoError(t, err)

	_, err = s.Save(context.Background(), io.MultiReader(strings.NewReader("abc"), iotestErrReader{}), "x.csv")
	require.Error(t, err)

	files, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLocalStorageCancelled(t *testing.T) {
	s, err := NewLocalStorage(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Save(ctx, strings.NewReader("x"), "x.csv")
	assert.ErrorIs(t, err, context.Canceled)
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) { return 0, assert.AnError }

// TestMinioStorage 需要本地运行的MinIO服务
func TestMinioStorage(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set, skipping MinIO tests")
	}

	s, err := NewMinioStorage(MinioConfig{
		Endpoint:  endpoint,
		AccessKey: envOr("MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey: envOr("MINIO_SECRET_KEY", "minioadmin"),
		Bucket:    "paper-dataset-test",
		Prefix:    "test",
	})
	require.NoError(t, err)
	exerciseStorage(t, s)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestNew(t *testing.T) {
	s, err := New(Config{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = New(Config{Type: "local", Local: LocalConfig{Path: t.TempDir()}})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = New(Config{Type: "ftp"})
	assert.Error(t, err)
}

func TestMimeTypes(t *testing.T) {
	cases := map[string]string{
		"a.parquet": "application/vnd.apache.parquet",
		"a.CSV":     "text/csv",
		"a.xlsx":    "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"a.db":      "application/vnd.sqlite3",
		"a.bin":     "application/octet-stream",
	}
	for name, want := range cases {
		assert.Equal(t, want, getMimeType(name), name)
	}
}
