package fsops

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"archivist/negotiate"
	"archivist/testutil"
	"archivist/types"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine() *Engine {
	return NewEngine(afero.NewOsFs(), log.New(io.Discard))
}

// answering returns a negotiator that answers every prompt with d
func answering(t *testing.T, d types.OverwriteDecision) (*negotiate.Negotiator, *int) {
	t.Helper()
	reg := negotiate.NewRegistry(time.Second, log.New(io.Discard))
	prompts := 0
	n := negotiate.New(reg, "job", types.DecisionPrompt, func(ev types.Event) {
		prompts++
		go reg.Resolve(ev.PromptID, d)
	})
	return n, &prompts
}

// copyScenario lays out /src/a.txt (100 bytes) and /src/dir/f.txt (50
// bytes) with an existing /dst/a.txt
func copyScenario(t *testing.T) (src, dst string) {
	t.Helper()
	root := t.TempDir()
	src, dst = filepath.Join(root, "src"), filepath.Join(root, "dst")
	testutil.WriteFile(t, filepath.Join(src, "a.txt"), strings.Repeat("a", 100))
	testutil.WriteFile(t, filepath.Join(src, "dir", "f.txt"), strings.Repeat("f", 50))
	testutil.WriteFile(t, filepath.Join(dst, "a.txt"), "old")
	return src, dst
}

func copyAll(t *testing.T, e *Engine, src, dst string, tr *Transfer) {
	t.Helper()
	for _, name := range []string{"a.txt", "dir"} {
		require.NoError(t, e.CopyItem(context.Background(), filepath.Join(src, name), filepath.Join(dst, name), tr))
	}
}

func TestCopyOverwriteAll(t *testing.T) {
	e := newEngine()
	src, dst := copyScenario(t)
	n, prompts := answering(t, types.DecisionOverwriteAll)

	var seen []int64
	tr := NewTransfer(n, 150, 2)
	tr.OnProgress = func(p types.Progress) { seen = append(seen, p.Processed) }
	copyAll(t, e, src, dst, tr)

	assert.Equal(t, int64(150), tr.Progress().Processed)
	assert.Equal(t, 2, tr.Progress().FilesProcessed)
	assert.Equal(t, strings.Repeat("a", 100), testutil.ReadFile(t, filepath.Join(dst, "a.txt")))
	assert.Equal(t, strings.Repeat("f", 50), testutil.ReadFile(t, filepath.Join(dst, "dir", "f.txt")))
	assert.Equal(t, 1, *prompts)
	assert.Equal(t, types.DecisionOverwriteAll, n.Decision())

	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.Empty(t, testutil.TempFiles(t, dst))
}

func TestCopySkipAllWritesNothing(t *testing.T) {
	e := newEngine()
	src, dst := copyScenario(t)
	testutil.WriteFile(t, filepath.Join(dst, "dir", "f.txt"), "keep")
	n, prompts := answering(t, types.DecisionSkipAll)

	tr := NewTransfer(n, 150, 2)
	copyAll(t, e, src, dst, tr)

	assert.Equal(t, "old", testutil.ReadFile(t, filepath.Join(dst, "a.txt")))
	assert.Equal(t, "keep", testutil.ReadFile(t, filepath.Join(dst, "dir", "f.txt")))
	assert.Equal(t, int64(150), tr.Progress().Processed, "skipped bytes still count")
	assert.Equal(t, 2, tr.Skipped())
	assert.Equal(t, 1, *prompts)
}

func TestCopyFolderOverwriteAppliesToDescendants(t *testing.T) {
	e := newEngine()
	src, dst := copyScenario(t)
	testutil.WriteFile(t, filepath.Join(dst, "dir", "f.txt"), "stale")
	n, prompts := answering(t, types.DecisionOverwrite)

	tr := NewTransfer(n, 50, 1)
	require.NoError(t, e.CopyItem(context.Background(), filepath.Join(src, "dir"), filepath.Join(dst, "dir"), tr))

	assert.Equal(t, strings.Repeat("f", 50), testutil.ReadFile(t, filepath.Join(dst, "dir", "f.txt")))
	assert.Equal(t, 1, *prompts, "the folder decision covers its files")
	assert.Equal(t, types.DecisionPrompt, n.Decision(), "one-shot overwrite resets")
}

func TestCopyPreservesModTime(t *testing.T) {
	e := newEngine()
	src, dst := copyScenario(t)
	stamp := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(src, "dir", "f.txt"), stamp, stamp))
	require.NoError(t, os.Chtimes(filepath.Join(src, "dir"), stamp, stamp))

	tr := NewTransfer(nil, 50, 1)
	require.NoError(t, e.CopyItem(context.Background(), filepath.Join(src, "dir"), filepath.Join(dst, "dir"), tr))

	info, err := os.Stat(filepath.Join(dst, "dir", "f.txt"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(stamp))

	info, err = os.Stat(filepath.Join(dst, "dir"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(stamp))
}

func TestCopyIntoItself(t *testing.T) {
	e := newEngine()
	src, _ := copyScenario(t)

	err := e.CopyItem(context.Background(), src, filepath.Join(src, "dir", "src"), NewTransfer(nil, 0, 0))
	assert.ErrorIs(t, err, types.ErrInvalidPath)
}

func TestCopyMissingSource(t *testing.T) {
	e := newEngine()
	err := e.CopyItem(context.Background(), filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "x"), NewTransfer(nil, 0, 0))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCopyCancelRemovesTemp(t *testing.T) {
	e := newEngine()
	root := t.TempDir()
	src := filepath.Join(root, "big.bin")
	testutil.WriteFile(t, src, strings.Repeat("z", 4*chunkSize))
	dst := filepath.Join(root, "out")
	require.NoError(t, os.MkdirAll(dst, 0755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := NewTransfer(nil, 4*chunkSize, 1)
	tr.OnProgress = func(types.Progress) { cancel() }

	err := e.CopyItem(ctx, src, filepath.Join(dst, "big.bin"), tr)
	assert.ErrorIs(t, err, types.ErrCancelled)
	assert.NoFileExists(t, filepath.Join(dst, "big.bin"))
	assert.Empty(t, testutil.TempFiles(t, dst))
}

func TestMoveItem(t *testing.T) {
	e := newEngine()
	src, dst := copyScenario(t)

	tr := NewTransfer(nil, 50, 1)
	require.NoError(t, e.MoveItem(context.Background(), filepath.Join(src, "dir"), filepath.Join(dst, "dir"), tr))
	assert.NoDirExists(t, filepath.Join(src, "dir"))
	assert.FileExists(t, filepath.Join(dst, "dir", "f.txt"))
	assert.Equal(t, int64(50), tr.Progress().Processed)

	n, _ := answering(t, types.DecisionSkip)
	tr = NewTransfer(n, 100, 1)
	require.NoError(t, e.MoveItem(context.Background(), filepath.Join(src, "a.txt"), filepath.Join(dst, "a.txt"), tr))
	assert.FileExists(t, filepath.Join(src, "a.txt"), "skipped sources are kept")
	assert.Equal(t, "old", testutil.ReadFile(t, filepath.Join(dst, "a.txt")))
}

func TestMeasure(t *testing.T) {
	root := t.TempDir()
	for i, dir := range []string{"a", "a/b", "a/b/c", "d"} {
		testutil.WriteFile(t, filepath.Join(root, dir, "file.txt"), strings.Repeat("x", (i+1)*10))
	}

	want, err := DirSize(context.Background(), afero.NewOsFs(), root)
	require.NoError(t, err)
	assert.Equal(t, Usage{Size: 100, Files: 4, Folders: 4}, want)

	calls := 0
	got, err := Measure(context.Background(), afero.NewOsFs(), root, 3, func(Usage, string) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 5, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Measure(ctx, afero.NewOsFs(), root, 3, nil)
	assert.ErrorIs(t, err, types.ErrCancelled)
}

func TestBasicOps(t *testing.T) {
	e := newEngine()
	root := t.TempDir()
	file := filepath.Join(root, "a.txt")
	testutil.WriteFile(t, file, "a")
	testutil.WriteFile(t, filepath.Join(root, "b.txt"), "b")

	_, err := e.Rename(file, "b.txt", false)
	assert.ErrorIs(t, err, types.ErrConflict)
	_, err = e.Rename(file, "../escape", false)
	assert.ErrorIs(t, err, types.ErrInvalidPath)

	renamed, err := e.Rename(file, "c.txt", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "c.txt"), renamed)

	assert.ErrorIs(t, e.Mkdir(filepath.Join(root, "c.txt")), types.ErrConflict)
	require.NoError(t, e.Mkdir(filepath.Join(root, "new")))
	assert.ErrorIs(t, e.CreateFile(filepath.Join(root, "b.txt")), types.ErrConflict)
	require.NoError(t, e.CreateFile(filepath.Join(root, "new", "empty.txt")))

	require.NoError(t, e.SaveFile(context.Background(), filepath.Join(root, "b.txt"), []byte("saved")))
	assert.Equal(t, "saved", testutil.ReadFile(t, filepath.Join(root, "b.txt")))

	require.NoError(t, e.Remove(filepath.Join(root, "new")))
	assert.ErrorIs(t, e.Remove(filepath.Join(root, "new")), types.ErrNotFound)

	free, err := FreeSpace(filepath.Join(root, "missing", "deeper"))
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}
