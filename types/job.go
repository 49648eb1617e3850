package types

import "time"

// JobType represents the kind of long-running operation
type JobType string

const (
	JobTypeCopy            JobType = "copy"
	JobTypeDuplicate       JobType = "duplicate"
	JobTypeSize            JobType = "size"
	JobTypeCompress        JobType = "compress"
	JobTypeDecompress      JobType = "decompress"
	JobTypeArchiveTest     JobType = "archive-test"
	JobTypeZipUpdate       JobType = "zip-update"
	JobTypeZipDelete       JobType = "zip-delete"
	JobTypeZipRename       JobType = "zip-rename"
	JobTypeZipCreateFile   JobType = "zip-create-file"
	JobTypeZipCreateFolder JobType = "zip-create-folder"
	JobTypeCopyPaths       JobType = "copy-paths"
)

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusScanning  JobStatus = "scanning"
	JobStatusRunning   JobStatus = "running"
	JobStatusCopying   JobStatus = "copying"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Active reports whether the job is doing work.
func (s JobStatus) Active() bool {
	return s == JobStatusScanning || s == JobStatusRunning || s == JobStatusCopying
}

// Progress holds the cumulative and current-item counters of a job.
type Progress struct {
	Processed          int64   `json:"processed"`
	Total              int64   `json:"total"`
	CurrentFile        string  `json:"currentFile,omitempty"`
	CurrentBytes       int64   `json:"currentFileBytesProcessed"`
	CurrentSize        int64   `json:"currentFileTotalSize"`
	FilesProcessed     int     `json:"filesProcessed"`
	FilesTotal         int     `json:"filesTotal"`
	InstantaneousSpeed float64 `json:"instantaneousSpeed,omitempty"` // bytes per second
}

// Job is a snapshot of one long-running operation
type Job struct {
	ID                string            `json:"id"`
	Type              JobType           `json:"type"`
	Status            JobStatus         `json:"status"`
	Progress          Progress          `json:"progress"`
	OverwriteDecision OverwriteDecision `json:"overwriteDecision"`
	Attached          bool              `json:"attached"`
	Error             string            `json:"error,omitempty"`
	Result            any               `json:"result,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	StartedAt         *time.Time        `json:"startedAt,omitempty"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
}
