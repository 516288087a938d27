// Package keyframe sweeps a media timeline and archives frame artifacts
package keyframe

import "time"

// Sweep constants
const (
	// Media-time step between archived frames (seconds)
	DefaultStepSeconds = 5.0

	// Bound on waiting for a seek to settle; on timeout the sweep
	// captures whatever is displayed
	DefaultSeekTimeout = 2 * time.Second

	// Render delay after a settled seek
	DefaultSettleDelay = 300 * time.Millisecond
)
