package services

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"archivist/fsops"
	"archivist/negotiate"
	"archivist/types"
	"archivist/zipfs"

	"github.com/spf13/afero"
)

// plannedEntry is one file or empty folder headed for a new archive
type plannedEntry struct {
	fsPath   string
	name     string
	size     int64
	modified time.Time
}

func (m *jobManager) runCompress(t *task, p CompressParams) (any, error) {
	base := p.SourceDirectory
	if base == "" {
		base = filepath.Dir(p.Sources[0])
	}

	t.status(types.JobStatusScanning)
	t.emit(types.Event{Type: types.EventScanStart})

	var files, dirs []plannedEntry
	var total int64
	for _, src := range p.Sources {
		err := afero.Walk(m.fs, src, func(walked string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if err := fsops.CheckContext(t.ctx); err != nil {
				return err
			}

			e := plannedEntry{fsPath: walked, name: archiveName(base, src, walked), modified: info.ModTime()}
			if info.IsDir() {
				if empty, _ := afero.IsEmpty(m.fs, walked); empty {
					dirs = append(dirs, e)
				}
				return nil
			}
			e.size = info.Size()
			files = append(files, e)
			total += e.size
			return nil
		})
		if err != nil {
			if errors.Is(err, types.ErrCancelled) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to scan %s: %w", src, err)
		}
		t.emit(types.Event{Type: types.EventScanProgress, File: src})
	}
	t.emit(types.Event{Type: types.EventScanComplete, Total: total})
	t.checkFreeSpace(filepath.Dir(p.Destination), total)

	tr := fsops.NewTransfer(nil, total, len(files))
	tr.OnProgress = t.progress

	if info, err := m.fs.Stat(p.Destination); err == nil {
		outcome, err := t.job.negotiator.Resolve(t.ctx, negotiate.Conflict{
			Path:     p.Destination,
			SrcSize:  total,
			SrcMod:   time.Now(),
			SrcEmpty: len(files) == 0 && len(dirs) == 0,
			DstSize:  info.Size(),
			DstMod:   info.ModTime(),
		})
		if err != nil {
			return nil, err
		}
		if outcome != negotiate.Overwrite {
			tr.Skip(p.Destination, fsops.Usage{Size: total, Files: len(files)})
			return &types.CompressResult{Archive: p.Destination, Skipped: true}, nil
		}
	}

	t.status(types.JobStatusRunning)
	t.emit(types.Event{Type: types.EventStart, TotalSize: total, TotalFiles: len(files)})
	t.progress(types.Progress{Total: total, FilesTotal: len(files)})
	stop := t.speedometer()
	defer stop()

	tf := zipfs.NewTransform()
	for _, d := range dirs {
		tf.AddEntry(zipfs.Folder(d.name, d.modified))
	}
	for _, f := range files {
		f := f
		tf.AddEntry(zipfs.NewEntry{
			Name: f.name,
			Source: &trackedSource{
				src: zipfs.Counting(zipfs.File(m.fs, f.fsPath), tr.Chunk),
				begin: func() {
					t.emit(types.Event{Type: types.EventCopyProgress, File: f.fsPath})
					tr.Begin(f.name, f.size)
				},
				end: tr.End,
			},
			Modified: f.modified,
			Size:     f.size,
		})
	}

	if err := m.rebuilder.Create(t.ctx, p.Destination, tf, zipfs.Hooks{TempPath: t.job.setTempZip}); err != nil {
		return nil, err
	}
	stop()

	return &types.CompressResult{
		Archive: p.Destination,
		Files:   len(files),
		Folders: len(dirs),
		Bytes:   total,
	}, nil
}

// archiveName names walked inside the new archive: relative to base when
// the source lies beneath it, otherwise relative to the source's parent
func archiveName(base, src, walked string) string {
	rel, err := filepath.Rel(base, walked)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel, _ = filepath.Rel(filepath.Dir(src), walked)
	}
	return zipfs.CleanInner(filepath.ToSlash(rel))
}
