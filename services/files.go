package services

import (
	"context"
	"errors"
	"fmt"

	"archivist/fsops"
	"archivist/types"
	"archivist/zipfs"

	"github.com/spf13/afero"
)

// Mutation is the outcome of a file operation: an immediate result for
// real paths, or a job when an archive has to be rebuilt
type Mutation struct {
	Result *types.MutationResult
	Job    *types.Job
}

// FileService interface defines methods for file management
type FileService interface {
	Delete(ctx context.Context, paths []string) (*Mutation, error)
	Rename(ctx context.Context, oldPath, newName string, overwrite bool) (*Mutation, error)
	NewFolder(ctx context.Context, path string) (*Mutation, error)
	NewFile(ctx context.Context, path string) (*Mutation, error)
	SaveFile(ctx context.Context, path string, content []byte) (*Mutation, error)
}

// fileService implements the FileService interface
type fileService struct {
	fs     afero.Fs
	engine *fsops.Engine
	jobs   JobManager
}

// NewFileService creates a new file service. Archive mutations are handed
// to jobs.
func NewFileService(fsys afero.Fs, jobs JobManager) FileService {
	return &fileService{fs: fsys, engine: fsops.NewEngine(fsys, nil), jobs: jobs}
}

func (s *fileService) job(p Params) (*Mutation, error) {
	j, err := s.jobs.Create(p)
	if err != nil {
		return nil, err
	}
	return &Mutation{Job: j}, nil
}

// inArchive resolves p and reports whether it lies inside an archive
func (s *fileService) inArchive(p string) (zipfs.Location, bool) {
	loc, ok := zipfs.Resolve(s.fs, p)
	return loc, ok && !loc.IsContainer()
}

// Delete removes every path. Any path inside an archive turns the whole
// request into a job.
func (s *fileService) Delete(_ context.Context, paths []string) (*Mutation, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no paths given", types.ErrInvalidRequest)
	}
	for _, p := range paths {
		if _, ok := s.inArchive(p); ok {
			return s.job(ZipDeleteParams{Paths: paths})
		}
	}
	for _, p := range paths {
		if _, err := s.fs.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s", types.ErrNotFound, p)
		}
	}

	res := &types.MutationResult{Paths: []string{}}
	for _, p := range paths {
		if err := s.engine.Remove(p); err != nil {
			res.Errors = append(res.Errors, types.ItemError{Path: p, Message: err.Error()})
			continue
		}
		res.Paths = append(res.Paths, p)
	}
	return &Mutation{Result: res}, nil
}

// Rename gives oldPath a new name in its folder
func (s *fileService) Rename(_ context.Context, oldPath, newName string, overwrite bool) (*Mutation, error) {
	if loc, ok := s.inArchive(oldPath); ok {
		if loc.Inner == "" {
			return nil, fmt.Errorf("%w: cannot rename the root of an archive", types.ErrInvalidPath)
		}
		return s.job(ZipRenameParams{Location: loc, NewName: newName, Overwrite: overwrite})
	}

	target, err := s.engine.Rename(oldPath, newName, overwrite)
	if err != nil {
		return nil, err
	}
	return &Mutation{Result: &types.MutationResult{Paths: []string{target}}}, nil
}

// NewFolder creates an empty folder
func (s *fileService) NewFolder(_ context.Context, path string) (*Mutation, error) {
	if loc, ok := s.inArchive(path); ok {
		return s.job(ZipCreateParams{Location: loc, Folder: true})
	}
	if err := s.engine.Mkdir(path); err != nil {
		return nil, err
	}
	return &Mutation{Result: &types.MutationResult{Paths: []string{path}}}, nil
}

// NewFile creates an empty file
func (s *fileService) NewFile(_ context.Context, path string) (*Mutation, error) {
	if loc, ok := s.inArchive(path); ok {
		return s.job(ZipCreateParams{Location: loc})
	}
	if err := s.engine.CreateFile(path); err != nil {
		return nil, err
	}
	return &Mutation{Result: &types.MutationResult{Paths: []string{path}}}, nil
}

// SaveFile replaces the content of a file, creating it when missing
func (s *fileService) SaveFile(ctx context.Context, path string, content []byte) (*Mutation, error) {
	if loc, ok := s.inArchive(path); ok {
		if loc.Inner == "" {
			return nil, fmt.Errorf("%w: no entry named in %s", types.ErrInvalidPath, path)
		}
		return s.job(ZipUpdateParams{Location: loc, Content: content})
	}
	if err := s.engine.SaveFile(ctx, path, content); err != nil {
		if errors.Is(err, types.ErrCancelled) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to save %s: %w", path, err)
	}
	return &Mutation{Result: &types.MutationResult{Paths: []string{path}}}, nil
}
