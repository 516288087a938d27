// Package api provides the HTTP client for the verification backend
package api

import "time"

// Endpoint paths
const (
	pathOCR         = "/api/ocr"
	pathOCRBatch    = "/api/ocr/batch"
	pathSpeech      = "/api/speech-to-text"
	pathSaveSession = "/api/save-session"
	pathSaveImage   = "/api/save-image"
	pathResults     = "/api/results/"
	pathLanguages   = "/api/languages"
	pathHealth      = "/health"
)

// Client configuration defaults
const (
	DefaultTimeout       = 30 * time.Second
	DefaultSaveRetries   = 3
	DefaultSaveRetryWait = 500 * time.Millisecond
)

// Entry source labels the backend's media detector recognizes
const (
	SourceTabAudio      = "tab_audio"
	SourceScreenCapture = "screen_capture"
	SourceUserSelection = "user_selection"
	SourceVideoKeyframe = "video_keyframe"
)

// Claim verdicts as they appear on the wire
const (
	VerdictTrue       = "TRUE"
	VerdictFalse      = "FALSE"
	VerdictMisleading = "MISLEADING"
	VerdictUnverified = "UNVERIFIED"
	VerdictSkipped    = "SKIPPED_LOW_TRUST"
)

// StageFinal marks completed analysis; stages 1 through 4 mean in progress.
const StageFinal = 5

// HealthyStatus is the status value a healthy backend reports.
const HealthyStatus = "healthy"
