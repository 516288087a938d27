package api

import "encoding/json"

// OCRRequest holds a single frame for text extraction.
type OCRRequest struct {
	Image             string `json:"image"` // base64 JPEG, no data-URL prefix
	TargetLanguage    string `json:"target_language"`
	EnableTranslation bool   `json:"enable_translation"`
	Timestamp         string `json:"timestamp,omitempty"` // HH:MM:SS playback position
	Source            string `json:"source,omitempty"`
}

// TextRegion is one detected region within a frame.
type TextRegion struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x, y, w, h]
}

// OCRResponse carries extracted text, optionally split into regions.
type OCRResponse struct {
	Timestamp        string       `json:"timestamp"`
	DetectedLanguage string       `json:"detected_language"`
	OriginalText     string       `json:"original_text"`
	TranslatedText   string       `json:"translated_text"`
	Confidence       float64      `json:"confidence"`
	Source           string       `json:"source"`
	TextRegions      []TextRegion `json:"text_regions,omitempty"`
}

// BatchFrame is one frame in a batch OCR request.
type BatchFrame struct {
	Image     string `json:"image"`
	Timestamp string `json:"timestamp"`
}

// BatchOCRRequest submits several frames in one call. Responses come back
// in frame order.
type BatchOCRRequest struct {
	Frames            []BatchFrame `json:"frames"`
	TargetLanguage    string       `json:"target_language"`
	EnableTranslation bool         `json:"enable_translation"`
}

// SpeechRequest holds one audio chunk for transcription.
type SpeechRequest struct {
	Audio             string `json:"audio"` // base64 WAV
	TargetLanguage    string `json:"target_language"`
	EnableTranslation bool   `json:"enable_translation"`
	Source            string `json:"source,omitempty"`
}

// SpeechResponse carries the transcript for one chunk.
type SpeechResponse struct {
	Timestamp        string  `json:"timestamp"`
	Source           string  `json:"source"`
	DetectedLanguage string  `json:"detected_language"`
	OriginalText     string  `json:"original_text"`
	TranslatedText   string  `json:"translated_text"`
	Confidence       float64 `json:"confidence"`
}

// SaveSessionRequest persists the full session document remotely.
type SaveSessionRequest struct {
	SessionData     json.RawMessage `json:"session_data"`
	SessionID       string          `json:"session_id"`
	TriggerPipeline bool            `json:"trigger_pipeline"`
}

// SaveSessionResponse acknowledges a persisted session.
type SaveSessionResponse struct {
	Success      bool   `json:"success"`
	Filepath     string `json:"filepath"`
	Filename     string `json:"filename"`
	EntriesCount int    `json:"entries_count"`
}

// SaveImageRequest persists one captured frame remotely.
type SaveImageRequest struct {
	ImageData string `json:"image_data"` // base64 JPEG
	ImageID   string `json:"image_id"`
	Source    string `json:"source"`
}

// SaveImageResponse acknowledges a persisted image.
type SaveImageResponse struct {
	Success      bool   `json:"success"`
	Filepath     string `json:"filepath"`
	Filename     string `json:"filename"`
	RelativePath string `json:"relative_path"`
}

// ClaimMetadata ties a claim back to the session entries it came from.
type ClaimMetadata struct {
	ClaimID        string   `json:"claim_id"`
	Domain         string   `json:"domain"`
	SourceEntryIDs []string `json:"source_entry_ids"`
}

// Claim is one verified statement in a result document.
type Claim struct {
	Claim       string        `json:"claim"`
	Verdict     string        `json:"verdict"`
	TrustScore  float64       `json:"trust_score"`
	Flags       []string      `json:"flags"`
	Explanation string        `json:"explanation"`
	Sources     []string      `json:"sources"`
	Metadata    ClaimMetadata `json:"metadata"`
}

// Result is the analysis document for a session.
type Result struct {
	SessionID    string   `json:"session_id"`
	Status       string   `json:"status"`
	Stage        int      `json:"stage"`
	TotalClaims  int      `json:"total_claims"`
	Claims       []Claim  `json:"claims"`
	FlaggedTerms []string `json:"flagged_terms"`
}

// Final reports whether the analysis has reached its terminal stage.
func (r *Result) Final() bool {
	return r.Stage >= StageFinal
}

// Language is one supported target language.
type Language struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"native_name"`
}

// Health is the backend health document.
type Health struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}

// Healthy reports whether the backend considers itself fully up.
func (h *Health) Healthy() bool {
	return h.Status == HealthyStatus
}
