// Package session owns the ordered evidence list for one capture run
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Session status values as they appear on the wire.
const (
	StatusActive    = "active"
	StatusFinalized = "finalized"
)

// Entry kinds tag the variant union.
const (
	KindSubtitle     = "subtitle"
	KindScreenOCR    = "screen_ocr"
	KindSelectedText = "selected_text"
	KindKeyframe     = "keyframe"
)

// Rect is a bounding rectangle in page coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SelectionMeta records where a text selection came from.
type SelectionMeta struct {
	PageURL   string `json:"page_url"`
	PageTitle string `json:"page_title"`
	Rect      Rect   `json:"rect"`
}

// Entry is one captured evidence item. Type tags the variant; fields
// belonging to other variants stay empty.
type Entry struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Source       string         `json:"source"`
	Text         string         `json:"text"`
	OriginalText string         `json:"original_text,omitempty"`
	Language     string         `json:"language,omitempty"`
	Confidence   float64        `json:"confidence"`
	CreatedAt    time.Time      `json:"created_at"`
	Timestamp    string         `json:"timestamp,omitempty"` // HH:MM:SS media position
	ImageID      string         `json:"image_id,omitempty"`
	ImagePath    string         `json:"image_path,omitempty"`
	BBox         []float64      `json:"bbox,omitempty"`
	Metadata     *SelectionMeta `json:"metadata,omitempty"`
}

// Session is the canonical capture document sent to the backend and
// stored locally. Entry ids are "e<seq>" with seq monotonically
// increasing from 1 in append order.
type Session struct {
	ID             string    `json:"session_id"`
	StartTime      time.Time `json:"start_time"`
	LastUpdated    time.Time `json:"last_updated"`
	Status         string    `json:"status"`
	TargetLanguage string    `json:"target_language"`
	Entries        []Entry   `json:"entries"`

	seq int
}

// NewSession creates an active session with a fresh id.
func NewSession(targetLanguage string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             NewID(),
		StartTime:      now,
		LastUpdated:    now,
		Status:         StatusActive,
		TargetLanguage: targetLanguage,
		Entries:        []Entry{},
	}
}

// NewID mints a session id: session_<unix-millis>_<6 hex chars>.
func NewID() string {
	b := make([]byte, 3)
	rand.Read(b)
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}

// NewImageID mints an image artifact id in the same shape.
func NewImageID() string {
	b := make([]byte, 3)
	rand.Read(b)
	return fmt.Sprintf("img_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}

// append assigns the next id and stores the entry. Caller holds the
// aggregator lock.
func (s *Session) append(e Entry) Entry {
	s.seq++
	e.ID = fmt.Sprintf("e%d", s.seq)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.Entries = append(s.Entries, e)
	s.LastUpdated = time.Now().UTC()
	return e
}

// snapshot returns a copy safe to serialize outside the lock.
func (s *Session) snapshot() Session {
	cp := *s
	cp.Entries = make([]Entry, len(s.Entries))
	copy(cp.Entries, s.Entries)
	return cp
}
