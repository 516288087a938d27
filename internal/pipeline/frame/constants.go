// Package frame samples playing media and turns visible text into entries
package frame

import "time"

// Frame sampling constants
const (
	// Sampling period while media plays
	DefaultSampleInterval = 3 * time.Second

	// Downscale bound before JPEG encoding
	DefaultMaxWidth = 800

	// JPEG quality for submitted frames
	DefaultJPEGQuality = 80

	// Hamming distance at or under which a frame counts as unchanged
	DefaultMaxHashDistance = 5
)
