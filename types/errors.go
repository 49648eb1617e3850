package types

import "fmt"

var (
	// Lookup errors
	ErrNotFound    = fmt.Errorf("not found")
	ErrJobNotFound = fmt.Errorf("job %w", ErrNotFound)

	// Mutation errors
	ErrConflict    = fmt.Errorf("destination already exists")
	ErrInvalidPath = fmt.Errorf("invalid path")

	// Job outcome errors
	ErrCancelled = fmt.Errorf("operation cancelled")

	// Archive errors
	ErrArchiveCorrupt = fmt.Errorf("archive is corrupt or unreadable")
	ErrArchiveIO      = fmt.Errorf("archive I/O failed")

	// Input validation errors
	ErrInvalidRequest = fmt.Errorf("invalid request")
)
