package storage_test

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

	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/storage"
)

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()

	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func TestFS_Stat(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.bin", []byte("hello"))

	s := storage.NewOS(root)

	info, err := s.Stat(context.Background(), "a.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.False(t, info.IsDir)

	info, err = s.Stat(context.Background(), ".")
	require.NoError(t, err)
	assert.True(t, info.IsDir)

	_, err = s.Stat(context.Background(), "missing.bin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.False(t, errors.IsRetryable(err))
}

func TestFS_ListSortedAndSkipsStaging(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "tree/b.txt", []byte("b"))
	writeFile(t, root, "tree/a.txt", []byte("aa"))
	writeFile(t, root, "tree/sub/c.txt", []byte("ccc"))

	s := storage.NewOS(root)
	ctx := context.Background()

	_, err := s.BeginUpload(ctx, "tree/sub/pending.txt")
	require.NoError(t, err)

	files, err := s.List(ctx, "tree")
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, filepath.ToSlash(f.Path))
	}

	assert.Equal(t, []string{"tree/a.txt", "tree/b.txt", "tree/sub/c.txt"}, paths)
	assert.Equal(t, int64(2), files[0].Size)
}

func TestFS_ListSingleFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "one.txt", []byte("1"))

	files, err := storage.NewOS(root).List(context.Background(), "one.txt")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "one.txt", files[0].Path)
}

func TestFS_ReadRange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "data.bin", []byte("0123456789"))

	r, err := storage.NewOS(root).ReadRange(context.Background(), "data.bin", 3, 4)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(got))

	_, ok := r.(io.Seeker)
	assert.True(t, ok)
}

func TestFS_StagedUploadOutOfOrder(t *testing.T) {
	root := t.TempDir()
	s := storage.NewOS(root)
	ctx := context.Background()

	id, err := s.BeginUpload(ctx, "out/file.bin")
	require.NoError(t, err)

	parts := []storage.Part{
		{Number: 1, Offset: 0, Size: 4},
		{Number: 2, Offset: 4, Size: 4},
		{Number: 3, Offset: 8, Size: 2},
	}
	payload := []string{"abcd", "efgh", "ij"}

	for _, i := range []int{2, 0, 1} {
		_, err := s.WritePart(ctx, "out/file.bin", id, parts[i], strings.NewReader(payload[i]))
		require.NoError(t, err)
	}

	_, err = os.Stat(filepath.Join(root, "out", "file.bin"))
	assert.True(t, os.IsNotExist(err), "destination must not exist before commit")

	require.NoError(t, s.CompleteUpload(ctx, "out/file.bin", id, parts))

	got, err := os.ReadFile(filepath.Join(root, "out", "file.bin"))
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(got))

	entries, err := os.ReadDir(filepath.Join(root, "out"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging files must be removed after commit")
}

func TestFS_RewritePartReplacesContent(t *testing.T) {
	root := t.TempDir()
	s := storage.NewOS(root)
	ctx := context.Background()

	id, err := s.BeginUpload(ctx, "f.bin")
	require.NoError(t, err)

	part := storage.Part{Number: 1, Offset: 0, Size: 3}
	_, err = s.WritePart(ctx, "f.bin", id, part, strings.NewReader("xxx"))
	require.NoError(t, err)
	_, err = s.WritePart(ctx, "f.bin", id, part, strings.NewReader("abc"))
	require.NoError(t, err)

	require.NoError(t, s.CompleteUpload(ctx, "f.bin", id, []storage.Part{part}))

	got, err := os.ReadFile(filepath.Join(root, "f.bin"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFS_ShortPartIsRetryable(t *testing.T) {
	root := t.TempDir()
	s := storage.NewOS(root)
	ctx := context.Background()

	id, err := s.BeginUpload(ctx, "f.bin")
	require.NoError(t, err)

	_, err = s.WritePart(ctx, "f.bin", id, storage.Part{Number: 1, Size: 10}, bytes.NewReader([]byte("short")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.True(t, errors.IsRetryable(err))
}

func TestFS_CompleteReplacesExisting(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "f.bin", []byte("old contents"))

	s := storage.NewOS(root)
	ctx := context.Background()

	id, err := s.BeginUpload(ctx, "f.bin")
	require.NoError(t, err)

	part := storage.Part{Number: 1, Size: 3}
	_, err = s.WritePart(ctx, "f.bin", id, part, strings.NewReader("new"))
	require.NoError(t, err)
	require.NoError(t, s.CompleteUpload(ctx, "f.bin", id, []storage.Part{part}))

	got, err := os.ReadFile(filepath.Join(root, "f.bin"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestFS_CompleteWithoutPartsCreatesEmptyFile(t *testing.T) {
	root := t.TempDir()
	s := storage.NewOS(root)
	ctx := context.Background()

	id, err := s.BeginUpload(ctx, "empty.bin")
	require.NoError(t, err)
	require.NoError(t, s.CompleteUpload(ctx, "empty.bin", id, nil))

	info, err := os.Stat(filepath.Join(root, "empty.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestFS_AbortUpload(t *testing.T) {
	root := t.TempDir()
	s := storage.NewOS(root)
	ctx := context.Background()

	id, err := s.BeginUpload(ctx, "f.bin")
	require.NoError(t, err)

	_, err = s.WritePart(ctx, "f.bin", id, storage.Part{Number: 1, Size: 1}, strings.NewReader("a"))
	require.NoError(t, err)

	require.NoError(t, s.AbortUpload(ctx, "f.bin", id))
	require.NoError(t, s.AbortUpload(ctx, "f.bin", id), "abort must be idempotent")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = s.WritePart(ctx, "f.bin", id, storage.Part{Number: 1, Size: 1}, strings.NewReader("a"))
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestFS_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := storage.NewOS(t.TempDir()).Stat(ctx, ".")
	assert.ErrorIs(t, err, context.Canceled)
}
