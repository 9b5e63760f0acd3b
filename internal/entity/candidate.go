package entity

import "time"

// Candidate is a filesystem entry eligible for this run's transfer attempt.
// Produced fresh by every discovery pass, never persisted.
type Candidate struct {
	Path    string    // Absolute path under the source root
	Name    string    // Base name of the file
	Size    int64     // Size in bytes
	ModTime time.Time // Source modification time
	Digest  string    // Hex SHA-256 of the content, empty if not yet computed
}
