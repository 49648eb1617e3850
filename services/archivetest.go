package services

import (
	"errors"
	"io"

	"archivist/fsops"
	"archivist/types"
	"archivist/zipfs"
)

func (m *jobManager) runArchiveTest(t *task, p ArchiveTestParams) (any, error) {
	res := &types.ArchiveTestResult{Archive: p.Source, Failures: []types.EntryFailure{}}
	t.status(types.JobStatusRunning)

	loc, _ := zipfs.Resolve(m.fs, p.Source)
	a, root, release, err := m.store.Open(t.ctx, loc, true)
	if err != nil {
		if errors.Is(err, types.ErrCancelled) {
			return nil, err
		}
		res.GeneralError = err.Error()
		res.Failures = append(res.Failures, types.EntryFailure{Entry: p.Source, Message: err.Error()})
		return res, nil
	}
	defer release()

	var files []zipfs.Entry
	var total int64
	for _, e := range a.Under(root) {
		if !e.IsDir {
			files = append(files, e)
			total += e.Size
		}
	}
	res.TotalFiles = len(files)
	t.emit(types.Event{Type: types.EventStart, TotalSize: total, TotalFiles: len(files)})
	t.progress(types.Progress{Total: total, FilesTotal: len(files)})

	var done int64
	for i, e := range files {
		if err := fsops.CheckContext(t.ctx); err != nil {
			return nil, err
		}

		var read int64
		err := testEntry(t, a, e.Name, func(n int64) {
			read += n
			t.progress(types.Progress{
				Processed:    done + min(read, e.Size),
				CurrentFile:  e.Name,
				CurrentBytes: read,
				CurrentSize:  e.Size,
			})
		})
		res.TestedFiles++
		if err != nil {
			if errors.Is(err, types.ErrCancelled) {
				return nil, err
			}
			t.logger.Warn("entry failed integrity test", "entry", e.Name, "err", err)
			res.Failures = append(res.Failures, types.EntryFailure{Entry: e.Name, Message: err.Error()})
		}

		done += e.Size
		t.progress(types.Progress{
			Processed:      done,
			CurrentFile:    e.Name,
			CurrentBytes:   e.Size,
			CurrentSize:    e.Size,
			FilesProcessed: i + 1,
		})
	}

	res.Passed = len(res.Failures) == 0
	return res, nil
}

// testEntry reads one entry to the end, which verifies its checksum
func testEntry(t *task, a *zipfs.Archive, name string, onChunk func(int64)) error {
	rc, err := a.Open(name)
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = fsops.CopyContext(t.ctx, io.Discard, rc, onChunk)
	return err
}
