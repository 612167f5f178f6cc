package filex

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureDir_RelativeCreatesInCWD(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureDir("chunks")
	require.NoError(t, err)

	want := filepath.Join(tmp, "chunks")
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm()&0o700)
	}
}

func TestEnsureDir_AbsoluteAndIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	first, err := EnsureDir(dir)
	require.NoError(t, err)
	second, err := EnsureDir(dir)
	require.NoError(t, err)

	require.Equal(t, dir, first)
	require.Equal(t, first, second)
}

func TestEnsureDir_FailsIfFileWithSameNameExists(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	require.NoError(t, os.WriteFile("chunks", []byte("x"), 0o660))

	_, err := EnsureDir("chunks")
	require.Error(t, err)
}

func TestWriteFileAtomic_WritesAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.bin")

	n, err := WriteFileAtomic(path, bytes.NewReader([]byte("first")))
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	n, err = WriteFileAtomic(path, bytes.NewReader([]byte("second!")))
	require.NoError(t, err)
	require.Equal(t, int64(7), n)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second!", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestWriteFileAtomic_ReaderErrorLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	_, err := WriteFileAtomic(path, failingReader{})
	require.ErrorContains(t, err, "disk on fire")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1"), []byte("abc"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "2"), []byte("de"), 0o600))

	files, size, err := DirSize(dir)
	require.NoError(t, err)
	require.Equal(t, 2, files)
	require.Equal(t, int64(5), size)

	files, size, err = DirSize(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	require.Zero(t, files)
	require.Zero(t, size)
}
