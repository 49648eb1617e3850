package types

import "time"

// EventType names a server to caller event
type EventType string

const (
	EventStatus          EventType = "status"
	EventScanStart       EventType = "scan_start"
	EventScanProgress    EventType = "scan_progress"
	EventScanComplete    EventType = "scan_complete"
	EventStart           EventType = "start"
	EventProgress        EventType = "progress"
	EventCopyProgress    EventType = "copy_progress"
	EventOverwritePrompt EventType = "overwrite_prompt"
	EventComplete        EventType = "complete"
	EventError           EventType = "error"
	EventCancelled       EventType = "cancelled"
	EventWarning         EventType = "warning"
	EventFSChange        EventType = "fs_change"
)

// Event represents a WebSocket message sent for a job
type Event struct {
	JobID     string    `json:"jobId"`
	Type      EventType `json:"type"`
	Status    JobStatus `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	File       string `json:"file,omitempty"`
	Total      int64  `json:"total"`
	TotalSize  int64  `json:"totalSize,omitempty"`
	TotalFiles int    `json:"totalFiles,omitempty"`

	// progress
	Processed          int64   `json:"processed"`
	CurrentFile        string  `json:"currentFile,omitempty"`
	CurrentBytes       int64   `json:"currentFileBytesProcessed,omitempty"`
	CurrentSize        int64   `json:"currentFileTotalSize,omitempty"`
	InstantaneousSpeed float64 `json:"instantaneousSpeed,omitempty"`
	Speed              string  `json:"speed,omitempty"` // like "2.1 MB/s"

	// overwrite_prompt
	PromptID string `json:"promptId,omitempty"`
	ItemType string `json:"itemType,omitempty"` // "file" or "folder"

	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
	Job     *Job   `json:"job,omitempty"`
}

// ClientMessageType names a caller to server message
type ClientMessageType string

const (
	MessageOverwriteResponse ClientMessageType = "overwrite_response"
	MessageCancel            ClientMessageType = "cancel"
	MessageWatchPath         ClientMessageType = "watch_path"
	MessageUnwatchPath       ClientMessageType = "unwatch_path"
)

// ClientMessage is a message received from the caller over the job socket
type ClientMessage struct {
	Type     ClientMessageType `json:"type"`
	Decision string            `json:"decision,omitempty"`
	PromptID string            `json:"promptId,omitempty"`
	Path     string            `json:"path,omitempty"`
}
