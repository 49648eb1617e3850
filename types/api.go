package types

// CopyRequest starts a copy or move of sources into a destination folder
type CopyRequest struct {
	Sources     []string `json:"sources" binding:"required,min=1"`
	Destination string   `json:"destination" binding:"required"`
	IsMove      bool     `json:"isMove"`
}

// DuplicateItem names one source and the name of its copy next to it
type DuplicateItem struct {
	SourcePath string `json:"sourcePath" binding:"required"`
	NewName    string `json:"newName" binding:"required"`
}

// DuplicateRequest starts a duplicate job
type DuplicateRequest struct {
	Items []DuplicateItem `json:"items" binding:"required,min=1,dive"`
}

// SizeRequest starts a folder-size job
type SizeRequest struct {
	FolderPath string `json:"folderPath" binding:"required"`
}

// CompressRequest starts a zip-compress job
type CompressRequest struct {
	Sources         []string `json:"sources" binding:"required,min=1"`
	Destination     string   `json:"destination" binding:"required"`
	SourceDirectory string   `json:"sourceDirectory"`
}

// DecompressRequest starts a zip-decompress job
type DecompressRequest struct {
	Source         string   `json:"source" binding:"required"`
	Destination    string   `json:"destination" binding:"required"`
	ItemsToExtract []string `json:"itemsToExtract,omitempty"`
	Overwrite      bool     `json:"overwrite,omitempty"`
}

// ArchiveTestRequest starts an archive integrity test
type ArchiveTestRequest struct {
	Source string `json:"source" binding:"required"`
}

// PathsRequest starts a get-paths job
type PathsRequest struct {
	Items             []string `json:"items" binding:"required,min=1"`
	BasePath          string   `json:"basePath"`
	IsAbsolute        bool     `json:"isAbsolute"`
	IncludeSubfolders bool     `json:"includeSubfolders"`
}

// DeleteRequest deletes files, folders or archive entries
type DeleteRequest struct {
	Paths []string `json:"paths" binding:"required,min=1"`
}

// RenameRequest renames a file, folder or archive entry in place
type RenameRequest struct {
	OldPath   string `json:"oldPath" binding:"required"`
	NewName   string `json:"newName" binding:"required"`
	Overwrite bool   `json:"overwrite"`
}

// PathRequest names a single path (new-folder, new-file)
type PathRequest struct {
	Path string `json:"path" binding:"required"`
}

// SaveFileRequest writes content to a file or archive entry
type SaveFileRequest struct {
	Path    string `json:"path" binding:"required"`
	Content string `json:"content"`
}

// ItemError is a per-item failure collected by batch jobs
type ItemError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// CopyResult is the completion payload of a copy job
type CopyResult struct {
	Copied  int64       `json:"copied"`
	Total   int64       `json:"total"`
	Skipped int         `json:"skipped"`
	Moved   bool        `json:"moved"`
	Errors  []ItemError `json:"errors,omitempty"`
}

// DuplicateResult is the completion payload of a duplicate job
type DuplicateResult struct {
	Duplicated []string    `json:"duplicated"`
	Errors     []ItemError `json:"errors,omitempty"`
}

// SizeResult is the completion payload of a folder-size job
type SizeResult struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Files   int    `json:"files"`
	Folders int    `json:"folders"`
}

// CompressResult is the completion payload of a zip-compress job
type CompressResult struct {
	Archive string `json:"archive"`
	Files   int    `json:"files"`
	Folders int    `json:"folders"`
	Bytes   int64  `json:"bytes"`
	Skipped bool   `json:"skipped,omitempty"`
}

// DecompressResult is the completion payload of a zip-decompress job
type DecompressResult struct {
	Destination string      `json:"destination"`
	Extracted   int         `json:"extracted"`
	Skipped     int         `json:"skipped"`
	Errors      []ItemError `json:"errors,omitempty"`
}

// EntryFailure records one entry that failed an integrity test
type EntryFailure struct {
	Entry   string `json:"entry"`
	Message string `json:"message"`
}

// ArchiveTestResult is the completion payload of an archive test
type ArchiveTestResult struct {
	Archive      string         `json:"archive"`
	TotalFiles   int            `json:"totalFiles"`
	TestedFiles  int            `json:"testedFiles"`
	Failures     []EntryFailure `json:"failures"`
	GeneralError string         `json:"generalError,omitempty"`
	Passed       bool           `json:"passed"`
}

// PathsResult is the completion payload of a get-paths job
type PathsResult struct {
	Paths []string `json:"paths"`
	Count int      `json:"count"`
}

// MutationResult is returned by delete/rename/new-folder/new-file/save-file
type MutationResult struct {
	Paths  []string    `json:"paths"`
	Errors []ItemError `json:"errors,omitempty"`
}
