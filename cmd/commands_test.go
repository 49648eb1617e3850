package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"archivist/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	return NewApp("test").Run(context.Background(), append([]string{"archivist", "--log-level", "error"}, args...))
}

func TestCompressExtractTestCommands(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "src", "a.txt"), "alpha")
	testutil.WriteFile(t, filepath.Join(dir, "src", "sub", "b.txt"), strings.Repeat("b", 2048))
	archive := filepath.Join(dir, "out.zip")

	require.NoError(t, run(t, "compress", archive, filepath.Join(dir, "src")))
	assert.ElementsMatch(t, []string{"src/a.txt", "src/sub/b.txt"}, testutil.ZipNames(t, archive))

	require.NoError(t, run(t, "test", archive))

	out := filepath.Join(dir, "out")
	require.NoError(t, run(t, "extract", "--only", "b.txt", archive, out))
	assert.FileExists(t, filepath.Join(out, "src", "sub", "b.txt"))
	assert.NoFileExists(t, filepath.Join(out, "src", "a.txt"))
}

func TestTestCommandFailsOnDamage(t *testing.T) {
	dir := t.TempDir()
	data := testutil.ZipBytes(t, testutil.File{Name: "a.txt", Body: "some stored body", Stored: true})
	i := bytes.Index(data, []byte("some stored body"))
	require.Positive(t, i)
	data[i] ^= 0xff
	archive := filepath.Join(dir, "bad.zip")
	testutil.WriteFile(t, archive, string(data))

	assert.Error(t, run(t, "test", archive))
	assert.Error(t, run(t, "test", filepath.Join(dir, "missing.zip")))
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, run(t, "init", path))
	assert.Contains(t, testutil.ReadFile(t, path), "[jobs]")
	assert.Error(t, run(t, "init", path))
}
