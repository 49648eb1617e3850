package services

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"archivist/config"
	"archivist/negotiate"
	"archivist/testutil"
	"archivist/types"
	"archivist/zipfs"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 10 * time.Second

type harness struct {
	m      JobManager
	events *testutil.Events
	files  FileService
}

func newHarness(t *testing.T, promptTimeout time.Duration) *harness {
	t.Helper()

	cfg := config.DefaultConfig().Jobs
	cfg.TempDir = t.TempDir()
	cfg.ProgressInterval = time.Millisecond
	cfg.SpeedInterval = 10 * time.Millisecond
	cfg.Retention = 0

	logger := log.New(io.Discard)
	events := testutil.NewEvents()
	m := NewJobManager(afero.NewOsFs(), events, negotiate.NewRegistry(promptTimeout, logger), cfg, logger)
	t.Cleanup(m.Close)
	return &harness{m: m, events: events, files: NewFileService(afero.NewOsFs(), m)}
}

// answer replies to every overwrite prompt with d
func (h *harness) answer(d types.OverwriteDecision) {
	h.events.OnEvent(func(jobID string, ev types.Event) {
		if ev.Type == types.EventOverwritePrompt {
			go h.m.Respond(jobID, types.ClientMessage{
				Type:     types.MessageOverwriteResponse,
				Decision: string(d),
				PromptID: ev.PromptID,
			})
		}
	})
}

func (h *harness) start(t *testing.T, p Params) string {
	t.Helper()
	job, err := h.m.Create(p)
	require.NoError(t, err)
	require.NoError(t, h.m.Attach(job.ID))
	return job.ID
}

func (h *harness) run(t *testing.T, p Params) (string, types.Event) {
	t.Helper()
	id := h.start(t, p)
	return id, h.events.WaitTerminal(t, id, waitFor)
}

func (h *harness) finish(t *testing.T, id string) types.Event {
	t.Helper()
	require.NoError(t, h.m.Attach(id))
	return h.events.WaitTerminal(t, id, waitFor)
}

func requireComplete(t *testing.T, ev types.Event) {
	t.Helper()
	require.Equal(t, types.EventComplete, ev.Type, "job ended with %s: %s", ev.Type, ev.Message)
}

// assertMonotonic checks that processed counters never decrease and that
// the last progress event before completion reports want
func assertMonotonic(t *testing.T, events []types.Event, want int64) {
	t.Helper()
	require.NotEmpty(t, events)
	var last int64
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Processed, last)
		last = ev.Processed
	}
	assert.Equal(t, want, last)
}

func copyScenario(t *testing.T) (src, dst string) {
	t.Helper()
	root := t.TempDir()
	src, dst = filepath.Join(root, "src"), filepath.Join(root, "dst")
	testutil.WriteFile(t, filepath.Join(src, "a.txt"), strings.Repeat("a", 100))
	testutil.WriteFile(t, filepath.Join(src, "dir", "f.txt"), strings.Repeat("f", 50))
	testutil.WriteFile(t, filepath.Join(dst, "a.txt"), "old")
	return src, dst
}

func TestCopyOverwriteAll(t *testing.T) {
	h := newHarness(t, time.Second)
	h.answer(types.DecisionOverwriteAll)
	src, dst := copyScenario(t)

	id, ev := h.run(t, CopyParams{types.CopyRequest{
		Sources:     []string{filepath.Join(src, "a.txt"), filepath.Join(src, "dir")},
		Destination: dst,
	}})
	requireComplete(t, ev)

	res := ev.Result.(*types.CopyResult)
	assert.Equal(t, int64(150), res.Copied)
	assert.Equal(t, int64(150), res.Total)
	assert.Equal(t, strings.Repeat("a", 100), testutil.ReadFile(t, filepath.Join(dst, "a.txt")))
	assert.Equal(t, strings.Repeat("f", 50), testutil.ReadFile(t, filepath.Join(dst, "dir", "f.txt")))
	assert.Len(t, h.events.OfType(id, types.EventOverwritePrompt), 1)
	assertMonotonic(t, h.events.OfType(id, types.EventProgress), 150)
	assert.Empty(t, testutil.TempFiles(t, dst))

	job, err := h.m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, job.Status)
	assert.Equal(t, types.DecisionOverwriteAll, job.OverwriteDecision)
}

func TestCopySkipAll(t *testing.T) {
	h := newHarness(t, time.Second)
	h.answer(types.DecisionSkipAll)
	src, dst := copyScenario(t)

	id, ev := h.run(t, CopyParams{types.CopyRequest{
		Sources:     []string{filepath.Join(src, "a.txt"), filepath.Join(src, "dir")},
		Destination: dst,
	}})
	requireComplete(t, ev)

	res := ev.Result.(*types.CopyResult)
	assert.Equal(t, int64(150), res.Copied)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "old", testutil.ReadFile(t, filepath.Join(dst, "a.txt")))
	assert.FileExists(t, filepath.Join(dst, "dir", "f.txt"))
	assertMonotonic(t, h.events.OfType(id, types.EventProgress), 150)
}

func TestCopyEmitsScanAndStart(t *testing.T) {
	h := newHarness(t, time.Second)
	src, dst := copyScenario(t)

	id, ev := h.run(t, CopyParams{types.CopyRequest{
		Sources:     []string{filepath.Join(src, "dir")},
		Destination: dst,
	}})
	requireComplete(t, ev)

	var kinds []types.EventType
	for _, e := range h.events.All() {
		if e.JobID == id {
			kinds = append(kinds, e.Type)
		}
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, types.EventStatus, kinds[0])
	assert.Less(t, indexOf(kinds, types.EventScanStart), indexOf(kinds, types.EventScanComplete))
	assert.Less(t, indexOf(kinds, types.EventScanComplete), indexOf(kinds, types.EventStart))
	assert.Equal(t, types.EventComplete, kinds[len(kinds)-1])

	start := h.events.OfType(id, types.EventStart)[0]
	assert.Equal(t, int64(50), start.TotalSize)
	assert.Equal(t, 1, start.TotalFiles)
	assert.Equal(t, int64(50), h.events.OfType(id, types.EventScanComplete)[0].Total)
}

func indexOf(kinds []types.EventType, k types.EventType) int {
	for i, got := range kinds {
		if got == k {
			return i
		}
	}
	return -1
}

func TestMoveRemovesSources(t *testing.T) {
	h := newHarness(t, time.Second)
	src, dst := copyScenario(t)

	_, ev := h.run(t, CopyParams{types.CopyRequest{
		Sources:     []string{filepath.Join(src, "dir")},
		Destination: dst,
		IsMove:      true,
	}})
	requireComplete(t, ev)

	assert.True(t, ev.Result.(*types.CopyResult).Moved)
	assert.NoDirExists(t, filepath.Join(src, "dir"))
	assert.FileExists(t, filepath.Join(dst, "dir", "f.txt"))
}

func TestCreateRejectsMissingPaths(t *testing.T) {
	h := newHarness(t, time.Second)
	dir := t.TempDir()

	_, err := h.m.Create(CopyParams{types.CopyRequest{
		Sources:     []string{filepath.Join(dir, "missing")},
		Destination: dir,
	}})
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = h.m.Create(SizeParams{types.SizeRequest{FolderPath: filepath.Join(dir, "nope")}})
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Empty(t, h.m.All())

	_, err = h.m.Get("unknown")
	assert.ErrorIs(t, err, types.ErrJobNotFound)
}

func TestJobStartsOnAttach(t *testing.T) {
	h := newHarness(t, time.Second)
	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "f.txt"), "hello")

	job, err := h.m.Create(SizeParams{types.SizeRequest{FolderPath: dir}})
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, job.Status)
	assert.False(t, job.Attached)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.events.All())

	ev := h.finish(t, job.ID)
	requireComplete(t, ev)
	res := ev.Result.(*types.SizeResult)
	assert.Equal(t, int64(5), res.Size)
	assert.Equal(t, 1, res.Files)

	got, err := h.m.Get(job.ID)
	require.NoError(t, err)
	assert.True(t, got.Attached)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	// a second attach only reports status
	require.NoError(t, h.m.Attach(job.ID))
	assert.Len(t, h.events.OfType(job.ID, types.EventComplete), 1)
}

func TestCancelBeforeStart(t *testing.T) {
	h := newHarness(t, time.Second)
	dir := t.TempDir()

	job, err := h.m.Create(SizeParams{types.SizeRequest{FolderPath: dir}})
	require.NoError(t, err)
	require.NoError(t, h.m.Cancel(job.ID))

	ev := h.events.WaitTerminal(t, job.ID, waitFor)
	assert.Equal(t, types.EventCancelled, ev.Type)

	require.NoError(t, h.m.Attach(job.ID))
	got, err := h.m.Wait(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, got.Status)
	assert.Empty(t, h.events.OfType(job.ID, types.EventComplete))

	// cancelling again is a no-op
	require.NoError(t, h.m.Cancel(job.ID))
	assert.Len(t, h.events.OfType(job.ID, types.EventCancelled), 1)
}

func TestCancelWhilePrompting(t *testing.T) {
	h := newHarness(t, time.Minute)
	src, dst := copyScenario(t)

	id := h.start(t, CopyParams{types.CopyRequest{
		Sources:     []string{filepath.Join(src, "a.txt")},
		Destination: dst,
	}})
	h.events.Wait(t, id, types.EventOverwritePrompt, waitFor)

	require.NoError(t, h.m.Respond(id, types.ClientMessage{Type: types.MessageCancel}))
	ev := h.events.WaitTerminal(t, id, waitFor)
	assert.Equal(t, types.EventCancelled, ev.Type)
	assert.Empty(t, h.events.OfType(id, types.EventError))
	assert.Equal(t, "old", testutil.ReadFile(t, filepath.Join(dst, "a.txt")))
	assert.Empty(t, testutil.TempFiles(t, dst))
}

func TestCancelDecisionCancelsJob(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.answer(types.DecisionCancel)
	src, dst := copyScenario(t)

	_, ev := h.run(t, CopyParams{types.CopyRequest{
		Sources:     []string{filepath.Join(src, "a.txt")},
		Destination: dst,
	}})
	assert.Equal(t, types.EventCancelled, ev.Type)
}

func TestPromptTimeoutSkips(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	src, dst := copyScenario(t)

	id, ev := h.run(t, CopyParams{types.CopyRequest{
		Sources:     []string{filepath.Join(src, "a.txt")},
		Destination: dst,
	}})
	requireComplete(t, ev)

	assert.Len(t, h.events.OfType(id, types.EventOverwritePrompt), 1)
	assert.Equal(t, 1, ev.Result.(*types.CopyResult).Skipped)
	assert.Equal(t, "old", testutil.ReadFile(t, filepath.Join(dst, "a.txt")))
}

func TestUnsolicitedResponseSetsDecision(t *testing.T) {
	h := newHarness(t, time.Minute)
	src, dst := copyScenario(t)

	job, err := h.m.Create(CopyParams{types.CopyRequest{
		Sources:     []string{filepath.Join(src, "a.txt")},
		Destination: dst,
	}})
	require.NoError(t, err)
	require.NoError(t, h.m.Respond(job.ID, types.ClientMessage{
		Type:     types.MessageOverwriteResponse,
		Decision: string(types.DecisionOverwriteAll),
	}))

	got, err := h.m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionOverwriteAll, got.OverwriteDecision)

	requireComplete(t, h.finish(t, job.ID))
	assert.Empty(t, h.events.OfType(job.ID, types.EventOverwritePrompt))
	assert.Equal(t, strings.Repeat("a", 100), testutil.ReadFile(t, filepath.Join(dst, "a.txt")))

	err = h.m.Respond(job.ID, types.ClientMessage{Type: types.MessageOverwriteResponse, Decision: "sometimes"})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestCopyIntoArchive(t *testing.T) {
	h := newHarness(t, time.Second)
	h.answer(types.DecisionOverwriteAll)
	src, _ := copyScenario(t)
	archive := filepath.Join(t.TempDir(), "out.zip")
	testutil.WriteZip(t, archive,
		testutil.File{Name: "a.txt", Body: "old"},
		testutil.File{Name: "keep.txt", Body: "keep"},
	)

	id, ev := h.run(t, CopyParams{types.CopyRequest{
		Sources:     []string{filepath.Join(src, "a.txt"), filepath.Join(src, "dir")},
		Destination: archive,
	}})
	requireComplete(t, ev)

	got := testutil.ZipContents(t, archive)
	assert.Equal(t, strings.Repeat("a", 100), got["a.txt"])
	assert.Equal(t, strings.Repeat("f", 50), got["dir/f.txt"])
	assert.Equal(t, "keep", got["keep.txt"])
	assert.Equal(t, int64(150), ev.Result.(*types.CopyResult).Copied)
	assertMonotonic(t, h.events.OfType(id, types.EventProgress), 150)
	assert.Empty(t, testutil.TempFiles(t, filepath.Dir(archive)))
}

func TestCopyIntoArchiveFolderSkip(t *testing.T) {
	h := newHarness(t, time.Second)
	h.answer(types.DecisionSkip)
	src, _ := copyScenario(t)
	archive := filepath.Join(t.TempDir(), "out.zip")
	testutil.WriteZip(t, archive, testutil.File{Name: "dir/f.txt", Body: "mine"})

	id, ev := h.run(t, CopyParams{types.CopyRequest{
		Sources:     []string{filepath.Join(src, "dir")},
		Destination: archive + "/",
	}})
	requireComplete(t, ev)

	assert.Len(t, h.events.OfType(id, types.EventOverwritePrompt), 1)
	assert.Equal(t, "mine", testutil.ZipContents(t, archive)["dir/f.txt"])
	assert.Equal(t, int64(50), ev.Result.(*types.CopyResult).Copied)
}

func TestCopyOutOfArchive(t *testing.T) {
	h := newHarness(t, time.Second)
	archive := filepath.Join(t.TempDir(), "in.zip")
	testutil.WriteZip(t, archive,
		testutil.File{Name: "docs/", Body: ""},
		testutil.File{Name: "docs/a.txt", Body: "alpha"},
		testutil.File{Name: "docs/sub/b.txt", Body: "beta"},
		testutil.File{Name: "readme.txt", Body: "read me"},
	)
	dst := t.TempDir()

	_, ev := h.run(t, CopyParams{types.CopyRequest{
		Sources:     []string{archive + "/docs"},
		Destination: dst,
	}})
	requireComplete(t, ev)

	assert.Equal(t, "alpha", testutil.ReadFile(t, filepath.Join(dst, "docs", "a.txt")))
	assert.Equal(t, "beta", testutil.ReadFile(t, filepath.Join(dst, "docs", "sub", "b.txt")))
	assert.NoFileExists(t, filepath.Join(dst, "readme.txt"))
	assert.Equal(t, int64(9), ev.Result.(*types.CopyResult).Copied)
}

func TestCopyOutOfArchiveImplicitFolderSkip(t *testing.T) {
	h := newHarness(t, time.Second)
	h.answer(types.DecisionSkip)
	archive := filepath.Join(t.TempDir(), "in.zip")
	testutil.WriteZip(t, archive,
		testutil.File{Name: "docs/a.txt", Body: "new a"},
		testutil.File{Name: "docs/b.txt", Body: "new b"},
	)
	dst := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dst, "docs", "a.txt"), "old a")
	testutil.WriteFile(t, filepath.Join(dst, "docs", "b.txt"), "old b")

	id, ev := h.run(t, CopyParams{types.CopyRequest{
		Sources:     []string{archive + "/docs"},
		Destination: dst,
	}})
	requireComplete(t, ev)

	prompts := h.events.OfType(id, types.EventOverwritePrompt)
	require.Len(t, prompts, 1)
	assert.Equal(t, "folder", prompts[0].ItemType)
	assert.Equal(t, 2, ev.Result.(*types.CopyResult).Skipped)
	assert.Equal(t, "old a", testutil.ReadFile(t, filepath.Join(dst, "docs", "a.txt")))
}

func TestMoveOutOfArchive(t *testing.T) {
	h := newHarness(t, time.Second)
	archive := filepath.Join(t.TempDir(), "in.zip")
	testutil.WriteZip(t, archive,
		testutil.File{Name: "docs/a.txt", Body: "alpha"},
		testutil.File{Name: "readme.txt", Body: "read me"},
	)
	dst := t.TempDir()

	_, ev := h.run(t, CopyParams{types.CopyRequest{
		Sources:     []string{archive + "/docs"},
		Destination: dst,
		IsMove:      true,
	}})
	requireComplete(t, ev)

	assert.Equal(t, "alpha", testutil.ReadFile(t, filepath.Join(dst, "docs", "a.txt")))
	assert.Equal(t, []string{"readme.txt"}, testutil.ZipNames(t, archive))
}

func TestMoveOutOfArchiveProgressExcludesRebuild(t *testing.T) {
	h := newHarness(t, time.Second)
	archive := filepath.Join(t.TempDir(), "in.zip")
	testutil.WriteZip(t, archive,
		testutil.File{Name: "docs/a.txt", Body: "alpha"},
		testutil.File{Name: "big.bin", Body: strings.Repeat("b", 60<<10), Stored: true},
	)
	dst := t.TempDir()

	id, ev := h.run(t, CopyParams{types.CopyRequest{
		Sources:     []string{archive + "/docs"},
		Destination: dst,
		IsMove:      true,
	}})
	requireComplete(t, ev)

	res := ev.Result.(*types.CopyResult)
	assert.Equal(t, int64(5), res.Copied)
	assert.Equal(t, int64(5), res.Total)

	progress := h.events.OfType(id, types.EventProgress)
	assertMonotonic(t, progress, 5)
	assert.Equal(t, int64(5), progress[len(progress)-1].Total)
	assert.Equal(t, []string{"big.bin"}, testutil.ZipNames(t, archive))
}

func TestCopyBetweenArchives(t *testing.T) {
	h := newHarness(t, time.Second)
	dir := t.TempDir()
	from, to := filepath.Join(dir, "from.zip"), filepath.Join(dir, "to.zip")
	testutil.WriteZip(t, from, testutil.File{Name: "docs/a.txt", Body: "alpha"})
	testutil.WriteZip(t, to, testutil.File{Name: "x.txt", Body: "x"})

	_, ev := h.run(t, CopyParams{types.CopyRequest{
		Sources:     []string{from + "/docs"},
		Destination: to,
	}})
	requireComplete(t, ev)

	got := testutil.ZipContents(t, to)
	assert.Equal(t, "alpha", got["docs/a.txt"])
	assert.Equal(t, "x", got["x.txt"])
	assert.Equal(t, "alpha", testutil.ZipContents(t, from)["docs/a.txt"])
}

func TestDuplicate(t *testing.T) {
	h := newHarness(t, time.Second)
	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "a.txt"), "alpha")
	testutil.WriteFile(t, filepath.Join(dir, "taken.txt"), "t")
	archive := filepath.Join(dir, "z.zip")
	testutil.WriteZip(t, archive,
		testutil.File{Name: "docs/a.txt", Body: "alpha"},
		testutil.File{Name: "docs/b.txt", Body: "beta"},
	)

	_, ev := h.run(t, DuplicateParams{types.DuplicateRequest{Items: []types.DuplicateItem{
		{SourcePath: filepath.Join(dir, "a.txt"), NewName: "a copy.txt"},
		{SourcePath: filepath.Join(dir, "a.txt"), NewName: "taken.txt"},
		{SourcePath: archive + "/docs/a.txt", NewName: "a2.txt"},
		{SourcePath: archive + "/docs/b.txt", NewName: "a.txt"},
	}}})
	requireComplete(t, ev)

	res := ev.Result.(*types.DuplicateResult)
	assert.Len(t, res.Errors, 2)
	assert.Contains(t, res.Duplicated, filepath.Join(dir, "a copy.txt"))
	assert.Equal(t, "alpha", testutil.ReadFile(t, filepath.Join(dir, "a copy.txt")))
	assert.Equal(t, "t", testutil.ReadFile(t, filepath.Join(dir, "taken.txt")))

	got := testutil.ZipContents(t, archive)
	assert.Equal(t, "alpha", got["docs/a2.txt"])
	assert.Equal(t, "alpha", got["docs/a.txt"])
}

func TestFolderSize(t *testing.T) {
	h := newHarness(t, time.Second)
	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "a", "one.txt"), "12345")
	testutil.WriteFile(t, filepath.Join(dir, "a", "b", "two.txt"), "1234567890")
	archive := filepath.Join(dir, "z.zip")
	testutil.WriteZip(t, archive,
		testutil.File{Name: "docs/a.txt", Body: "alpha"},
		testutil.File{Name: "docs/sub/b.txt", Body: "beta"},
	)

	id, ev := h.run(t, SizeParams{types.SizeRequest{FolderPath: filepath.Join(dir, "a")}})
	requireComplete(t, ev)
	res := ev.Result.(*types.SizeResult)
	assert.Equal(t, int64(15), res.Size)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 1, res.Folders)
	assert.Equal(t, int64(15), h.events.OfType(id, types.EventScanComplete)[0].Total)

	_, ev = h.run(t, SizeParams{types.SizeRequest{FolderPath: archive + "/docs"}})
	requireComplete(t, ev)
	res = ev.Result.(*types.SizeResult)
	assert.Equal(t, int64(9), res.Size)
	assert.Equal(t, 2, res.Files)
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	h := newHarness(t, time.Second)
	root := t.TempDir()
	src := filepath.Join(root, "project")
	testutil.WriteFile(t, filepath.Join(src, "main.go"), "package main")
	testutil.WriteFile(t, filepath.Join(src, "docs", "readme.md"), strings.Repeat("r", 4096))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "empty"), 0755))
	archive := filepath.Join(root, "project.zip")

	id, ev := h.run(t, CompressParams{types.CompressRequest{
		Sources:         []string{src},
		Destination:     archive,
		SourceDirectory: root,
	}})
	requireComplete(t, ev)

	res := ev.Result.(*types.CompressResult)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 1, res.Folders)
	assert.ElementsMatch(t, []string{"project/empty/", "project/main.go", "project/docs/readme.md"}, testutil.ZipNames(t, archive))
	assertMonotonic(t, h.events.OfType(id, types.EventProgress), res.Bytes)
	assert.Empty(t, testutil.TempFiles(t, root))

	out := filepath.Join(root, "out")
	_, ev = h.run(t, DecompressParams{types.DecompressRequest{Source: archive, Destination: out}})
	requireComplete(t, ev)

	dres := ev.Result.(*types.DecompressResult)
	assert.Equal(t, 2, dres.Extracted)
	assert.Equal(t, "package main", testutil.ReadFile(t, filepath.Join(out, "project", "main.go")))
	assert.Equal(t, strings.Repeat("r", 4096), testutil.ReadFile(t, filepath.Join(out, "project", "docs", "readme.md")))
	assert.DirExists(t, filepath.Join(out, "project", "empty"))
}

func TestCompressExistingDestinationSkipped(t *testing.T) {
	h := newHarness(t, time.Second)
	h.answer(types.DecisionSkip)
	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "f.txt"), "data")
	archive := filepath.Join(root, "out.zip")
	testutil.WriteZip(t, archive, testutil.File{Name: "old.txt", Body: "old"})

	_, ev := h.run(t, CompressParams{types.CompressRequest{
		Sources:     []string{filepath.Join(root, "f.txt")},
		Destination: archive,
	}})
	requireComplete(t, ev)
	assert.True(t, ev.Result.(*types.CompressResult).Skipped)
	assert.Equal(t, []string{"old.txt"}, testutil.ZipNames(t, archive))

	h.answer(types.DecisionOverwrite)
	_, ev = h.run(t, CompressParams{types.CompressRequest{
		Sources:     []string{filepath.Join(root, "f.txt")},
		Destination: archive,
	}})
	requireComplete(t, ev)
	assert.Equal(t, []string{"f.txt"}, testutil.ZipNames(t, archive))
}

func TestCompressRejectsNoSources(t *testing.T) {
	h := newHarness(t, time.Second)
	_, err := h.m.Create(CompressParams{types.CompressRequest{
		Destination: filepath.Join(t.TempDir(), "out.zip"),
	}})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestDecompressSelectedItems(t *testing.T) {
	h := newHarness(t, time.Second)
	root := t.TempDir()
	archive := filepath.Join(root, "in.zip")
	testutil.WriteZip(t, archive,
		testutil.File{Name: "docs/a.txt", Body: "alpha"},
		testutil.File{Name: "docs/sub/b.txt", Body: "beta"},
		testutil.File{Name: "img/c.png", Body: "png"},
		testutil.File{Name: "readme.txt", Body: "read me"},
	)
	out := filepath.Join(root, "out")

	_, ev := h.run(t, DecompressParams{types.DecompressRequest{
		Source:         archive,
		Destination:    out,
		ItemsToExtract: []string{"docs/sub", "readme.txt"},
	}})
	requireComplete(t, ev)

	assert.FileExists(t, filepath.Join(out, "docs", "sub", "b.txt"))
	assert.FileExists(t, filepath.Join(out, "readme.txt"))
	assert.NoFileExists(t, filepath.Join(out, "docs", "a.txt"))
	assert.NoDirExists(t, filepath.Join(out, "img"))
}

func TestDecompressNestedSource(t *testing.T) {
	h := newHarness(t, time.Second)
	root := t.TempDir()
	archive := filepath.Join(root, "outer.zip")
	inner := testutil.ZipBytes(t, testutil.File{Name: "deep.txt", Body: "deep"})
	testutil.WriteZip(t, archive, testutil.File{Name: "inner.zip", Body: string(inner)})
	out := filepath.Join(root, "out")

	_, ev := h.run(t, DecompressParams{types.DecompressRequest{Source: archive + "/inner.zip", Destination: out}})
	requireComplete(t, ev)
	assert.Equal(t, "deep", testutil.ReadFile(t, filepath.Join(out, "deep.txt")))
}

func TestDecompressTopLevelConflict(t *testing.T) {
	h := newHarness(t, time.Second)
	h.answer(types.DecisionSkip)
	root := t.TempDir()
	archive := filepath.Join(root, "in.zip")
	testutil.WriteZip(t, archive, testutil.File{Name: "a.txt", Body: "new"})
	out := filepath.Join(root, "out")
	testutil.WriteFile(t, filepath.Join(out, "a.txt"), "old")

	id, ev := h.run(t, DecompressParams{types.DecompressRequest{Source: archive, Destination: out}})
	requireComplete(t, ev)
	assert.Len(t, h.events.OfType(id, types.EventOverwritePrompt), 1)
	assert.Equal(t, "old", testutil.ReadFile(t, filepath.Join(out, "a.txt")))

	_, ev = h.run(t, DecompressParams{types.DecompressRequest{Source: archive, Destination: out, Overwrite: true}})
	requireComplete(t, ev)
	assert.Equal(t, "new", testutil.ReadFile(t, filepath.Join(out, "a.txt")))
}

func TestArchiveTestReportsBadEntry(t *testing.T) {
	h := newHarness(t, time.Second)
	var files []testutil.File
	for _, name := range []string{"one", "two", "three", "four", "five"} {
		files = append(files, testutil.File{Name: name + ".txt", Body: "body of entry " + name, Stored: true})
	}
	data := testutil.ZipBytes(t, files...)
	i := bytes.Index(data, []byte("body of entry three"))
	require.Positive(t, i)
	data[i] ^= 0xff

	archive := filepath.Join(t.TempDir(), "bad.zip")
	testutil.WriteFile(t, archive, string(data))

	id, ev := h.run(t, ArchiveTestParams{types.ArchiveTestRequest{Source: archive}})
	requireComplete(t, ev)

	res := ev.Result.(*types.ArchiveTestResult)
	assert.Equal(t, 5, res.TotalFiles)
	assert.Equal(t, 5, res.TestedFiles)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "three.txt", res.Failures[0].Entry)
	assert.False(t, res.Passed)
	assert.Empty(t, res.GeneralError)
	assert.NotEmpty(t, h.events.OfType(id, types.EventProgress))
}

func TestArchiveTestUnreadableContainer(t *testing.T) {
	h := newHarness(t, time.Second)
	archive := filepath.Join(t.TempDir(), "junk.zip")
	testutil.WriteFile(t, archive, "this is not an archive")

	_, ev := h.run(t, ArchiveTestParams{types.ArchiveTestRequest{Source: archive}})
	requireComplete(t, ev)

	res := ev.Result.(*types.ArchiveTestResult)
	assert.NotEmpty(t, res.GeneralError)
	assert.Len(t, res.Failures, 1)
	assert.False(t, res.Passed)
}

func TestPaths(t *testing.T) {
	h := newHarness(t, time.Second)
	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "f10.txt"), "")
	testutil.WriteFile(t, filepath.Join(dir, "f2.txt"), "")
	testutil.WriteFile(t, filepath.Join(dir, "sub", "x.txt"), "")
	archive := filepath.Join(dir, "z.zip")
	testutil.WriteZip(t, archive, testutil.File{Name: "docs/a.txt", Body: "a"})

	_, ev := h.run(t, PathsParams{types.PathsRequest{
		Items:             []string{filepath.Join(dir, "f10.txt"), filepath.Join(dir, "f2.txt"), filepath.Join(dir, "sub"), archive + "/docs"},
		BasePath:          dir,
		IncludeSubfolders: true,
	}})
	requireComplete(t, ev)

	res := ev.Result.(*types.PathsResult)
	assert.Equal(t, []string{"f2.txt", "f10.txt", "sub", "sub/x.txt", "z.zip/docs", "z.zip/docs/a.txt"}, res.Paths)
	assert.Equal(t, 6, res.Count)
}

func TestPathsListsImplicitArchiveFolders(t *testing.T) {
	h := newHarness(t, time.Second)
	dir := t.TempDir()
	archive := filepath.Join(dir, "z.zip")
	testutil.WriteZip(t, archive, testutil.File{Name: "docs/sub/a.txt", Body: "a"})

	_, ev := h.run(t, PathsParams{types.PathsRequest{
		Items:             []string{archive + "/docs"},
		BasePath:          dir,
		IncludeSubfolders: true,
	}})
	requireComplete(t, ev)

	res := ev.Result.(*types.PathsResult)
	assert.Equal(t, []string{"z.zip/docs", "z.zip/docs/sub", "z.zip/docs/sub/a.txt"}, res.Paths)
	assert.Equal(t, 3, res.Count)
}

func TestFileServiceRealPaths(t *testing.T) {
	h := newHarness(t, time.Second)
	ctx := context.Background()
	dir := t.TempDir()

	mut, err := h.files.NewFolder(ctx, filepath.Join(dir, "new"))
	require.NoError(t, err)
	assert.Nil(t, mut.Job)
	assert.DirExists(t, filepath.Join(dir, "new"))

	_, err = h.files.NewFolder(ctx, filepath.Join(dir, "new"))
	assert.ErrorIs(t, err, types.ErrConflict)

	_, err = h.files.SaveFile(ctx, filepath.Join(dir, "new", "f.txt"), []byte("content"))
	require.NoError(t, err)
	assert.Equal(t, "content", testutil.ReadFile(t, filepath.Join(dir, "new", "f.txt")))

	mut, err = h.files.Rename(ctx, filepath.Join(dir, "new", "f.txt"), "g.txt", false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "new", "g.txt")}, mut.Result.Paths)

	mut, err = h.files.Delete(ctx, []string{filepath.Join(dir, "new")})
	require.NoError(t, err)
	assert.Empty(t, mut.Result.Errors)
	assert.NoDirExists(t, filepath.Join(dir, "new"))

	_, err = h.files.Delete(ctx, []string{filepath.Join(dir, "gone")})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestFileServiceArchivePaths(t *testing.T) {
	h := newHarness(t, time.Second)
	ctx := context.Background()
	dir := t.TempDir()
	archive := filepath.Join(dir, "z.zip")
	testutil.WriteZip(t, archive,
		testutil.File{Name: "docs/a.txt", Body: "alpha"},
		testutil.File{Name: "docs/sub/b.txt", Body: "beta"},
		testutil.File{Name: "readme.txt", Body: "read me"},
	)

	mut, err := h.files.SaveFile(ctx, archive+"/readme.txt", []byte("updated"))
	require.NoError(t, err)
	require.NotNil(t, mut.Job)
	assert.Equal(t, types.JobTypeZipUpdate, mut.Job.Type)
	requireComplete(t, h.finish(t, mut.Job.ID))
	assert.Equal(t, "updated", testutil.ZipContents(t, archive)["readme.txt"])

	mut, err = h.files.Rename(ctx, archive+"/docs", "documents", false)
	require.NoError(t, err)
	requireComplete(t, h.finish(t, mut.Job.ID))
	assert.ElementsMatch(t, []string{"documents/a.txt", "documents/sub/b.txt", "readme.txt"}, testutil.ZipNames(t, archive))

	_, err = h.files.Rename(ctx, archive+"/documents", "readme.txt", false)
	assert.ErrorIs(t, err, types.ErrConflict)

	mut, err = h.files.NewFolder(ctx, archive+"/empty")
	require.NoError(t, err)
	requireComplete(t, h.finish(t, mut.Job.ID))
	assert.Contains(t, testutil.ZipNames(t, archive), "empty/")

	_, err = h.files.NewFile(ctx, archive+"/readme.txt")
	assert.ErrorIs(t, err, types.ErrConflict)

	testutil.WriteFile(t, filepath.Join(dir, "loose.txt"), "x")
	mut, err = h.files.Delete(ctx, []string{archive + "/documents", filepath.Join(dir, "loose.txt")})
	require.NoError(t, err)
	require.NotNil(t, mut.Job)
	ev := h.finish(t, mut.Job.ID)
	requireComplete(t, ev)
	assert.Empty(t, ev.Result.(*types.MutationResult).Errors)
	assert.ElementsMatch(t, []string{"readme.txt", "empty/"}, testutil.ZipNames(t, archive))
	assert.NoFileExists(t, filepath.Join(dir, "loose.txt"))
	assert.Empty(t, testutil.TempFiles(t, dir))
}

func TestSafeJoin(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "out")

	got, ok := safeJoin(root, "a/b.txt")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, "a", "b.txt"), got)

	for _, bad := range []string{"../evil.txt", "a/../../evil.txt", ""} {
		_, ok := safeJoin(root, bad)
		assert.False(t, ok, bad)
	}
}

func TestSelectEntries(t *testing.T) {
	var in []zipfs.Entry
	for _, name := range []string{"docs/a.txt", "docs/sub/b.txt", "img/a.txt", "other.txt"} {
		in = append(in, zipfs.Entry{Name: name})
	}

	var names []string
	for _, e := range selectEntries(in, "", []string{"a.txt", "docs/sub"}) {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"docs/a.txt", "docs/sub/b.txt", "img/a.txt"}, names)
}
