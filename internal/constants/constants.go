// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers for bulk enrollment.
	// Each worker holds one request to the face service.
	WorkerPoolSize = 4

	// ShutdownTimeout bounds how long the server waits for in-flight requests
	ShutdownTimeout = 30 * time.Second
)

// Listing constants
const (
	// DefaultSessionLimit is the number of sessions the CLI prints when no --limit is given
	DefaultSessionLimit = 50
)

// ImageExtensions are the file extensions picked up by bulk enrollment.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}
