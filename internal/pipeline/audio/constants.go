// Package audio rotates bounded chunk recorders over a tab's stream
package audio

import "time"

// Chunk recording constants
const (
	// Rotation period; bounds transcription latency per chunk
	DefaultChunkInterval = 5 * time.Second
)
