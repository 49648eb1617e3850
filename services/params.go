package services

import (
	"archivist/types"
	"archivist/zipfs"
)

// Params is the payload of one job kind. The set of implementations is
// closed; the manager dispatches on the concrete type.
type Params interface {
	jobType() types.JobType
}

// CopyParams copies or moves sources into a destination folder
type CopyParams struct{ types.CopyRequest }

// DuplicateParams copies items next to themselves under new names
type DuplicateParams struct{ types.DuplicateRequest }

// SizeParams measures a folder
type SizeParams struct{ types.SizeRequest }

// CompressParams builds an archive from sources
type CompressParams struct{ types.CompressRequest }

// DecompressParams extracts an archive
type DecompressParams struct{ types.DecompressRequest }

// ArchiveTestParams verifies every entry of an archive
type ArchiveTestParams struct{ types.ArchiveTestRequest }

// PathsParams lists paths, recursing into folders and archives
type PathsParams struct{ types.PathsRequest }

// ZipUpdateParams replaces the content of one archive entry
type ZipUpdateParams struct {
	Location zipfs.Location
	Content  []byte
}

// ZipDeleteParams deletes paths, at least one of them inside an archive
type ZipDeleteParams struct {
	Paths []string
}

// ZipRenameParams renames an archive entry or folder
type ZipRenameParams struct {
	Location  zipfs.Location
	NewName   string
	Overwrite bool
}

// ZipCreateParams adds an empty file or folder to an archive
type ZipCreateParams struct {
	Location zipfs.Location
	Folder   bool
}

func (CopyParams) jobType() types.JobType        { return types.JobTypeCopy }
func (DuplicateParams) jobType() types.JobType   { return types.JobTypeDuplicate }
func (SizeParams) jobType() types.JobType        { return types.JobTypeSize }
func (CompressParams) jobType() types.JobType    { return types.JobTypeCompress }
func (DecompressParams) jobType() types.JobType  { return types.JobTypeDecompress }
func (ArchiveTestParams) jobType() types.JobType { return types.JobTypeArchiveTest }
func (PathsParams) jobType() types.JobType       { return types.JobTypeCopyPaths }
func (ZipUpdateParams) jobType() types.JobType   { return types.JobTypeZipUpdate }
func (ZipDeleteParams) jobType() types.JobType   { return types.JobTypeZipDelete }
func (ZipRenameParams) jobType() types.JobType   { return types.JobTypeZipRename }

func (p ZipCreateParams) jobType() types.JobType {
	if p.Folder {
		return types.JobTypeZipCreateFolder
	}
	return types.JobTypeZipCreateFile
}

// initialDecision is the overwrite decision a job starts with
func initialDecision(p Params) types.OverwriteDecision {
	if d, ok := p.(DecompressParams); ok && d.Overwrite {
		return types.DecisionOverwriteAll
	}
	return types.DecisionPrompt
}
