package services

import (
	"archivist/fsops"
	"archivist/types"
)

func (m *jobManager) runSize(t *task, p SizeParams) (any, error) {
	n, err := m.stat(t.ctx, p.FolderPath)
	if err != nil {
		return nil, err
	}

	t.status(types.JobStatusScanning)
	t.emit(types.Event{Type: types.EventScanStart, File: p.FolderPath})

	var u fsops.Usage
	if n.InArchive || !n.IsDir {
		u, err = m.usage(t.ctx, n)
	} else {
		u, err = fsops.Measure(t.ctx, m.fs, n.Path, m.cfg.SizeWorkers, func(cur fsops.Usage, dir string) {
			t.job.updateProgress(types.Progress{Processed: cur.Size, FilesProcessed: cur.Files, CurrentFile: dir})
			t.job.throttle.Do(func() {
				t.emit(types.Event{Type: types.EventScanProgress, File: dir, Processed: t.job.progress().Processed})
			})
		})
	}
	if err != nil {
		return nil, err
	}

	t.emit(types.Event{Type: types.EventScanComplete, Total: u.Size})
	t.progress(types.Progress{Processed: u.Size, Total: u.Size, FilesProcessed: u.Files, FilesTotal: u.Files})

	return &types.SizeResult{
		Path:    p.FolderPath,
		Size:    u.Size,
		Files:   u.Files,
		Folders: u.Folders,
	}, nil
}
