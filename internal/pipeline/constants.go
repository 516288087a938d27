// Package pipeline drives per-tab capture runs
package pipeline

import "time"

// DefaultRestartSettle is the pause between stopping a live pipeline and
// starting its replacement on the same tab. Capture contexts need the gap
// to observe the stop announcement before the new session id circulates.
const DefaultRestartSettle = 500 * time.Millisecond

// eventBufferSize bounds the controller's observer channel.
const eventBufferSize = 256

// Bus announcements to capture contexts.
const (
	MsgPipelineStarted = "pipeline_started"
	MsgPipelineStopped = "pipeline_stopped"
)

// Event types delivered to observers.
const (
	EventStarted  = "pipeline_started"
	EventStopped  = "pipeline_stopped"
	EventEntry    = "entry"
	EventAutosave = "autosave"
)
