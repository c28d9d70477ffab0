package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureDir_RelativeResolvesAgainstCWD(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureDir(afero.NewOsFs(), "media")
	require.NoError(t, err)

	want := filepath.Join(tmp, "media")
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm()&0o700)
	}
}

func TestEnsureDir_IdempotentOnMemFs(t *testing.T) {
	fs := afero.NewMemMapFs()

	first, err := EnsureDir(fs, "/data/media")
	require.NoError(t, err)
	second, err := EnsureDir(fs, "/data/media")
	require.NoError(t, err)
	require.Equal(t, first, second)

	ok, err := afero.DirExists(fs, "/data/media")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEnsureDir_FailsOnReadOnlyFs(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	_, err := EnsureDir(fs, "/nope")
	require.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/m", 0o770))

	require.NoError(t, WriteFileAtomic(fs, "/m/a.jpg", []byte("one")))
	require.NoError(t, WriteFileAtomic(fs, "/m/a.jpg", []byte("two")))

	b, err := afero.ReadFile(fs, "/m/a.jpg")
	require.NoError(t, err)
	require.Equal(t, []byte("two"), b)

	exists, err := afero.Exists(fs, "/m/a.jpg.tmp")
	require.NoError(t, err)
	require.False(t, exists)
}
