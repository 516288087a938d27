package session

import (
	"encoding/json"
	"strconv"
	"strings"
	"testing"
)

func TestNewIDFormat(t *testing.T) {
	id := NewID()

	if !strings.HasPrefix(id, "session_") {
		t.Fatalf("id = %q, want session_ prefix", id)
	}
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		t.Fatalf("id = %q, want 3 underscore-separated parts", id)
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		t.Errorf("millis part %q not numeric: %v", parts[1], err)
	}
	if len(parts[2]) != 6 {
		t.Errorf("random part %q, want 6 hex chars", parts[2])
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestAppendAssignsSequentialIDs(t *testing.T) {
	s := NewSession("en")

	for i := 0; i < 3; i++ {
		s.append(Entry{Type: KindSubtitle, Text: "chunk"})
	}

	want := []string{"e1", "e2", "e3"}
	if len(s.Entries) != len(want) {
		t.Fatalf("entries = %d, want %d", len(s.Entries), len(want))
	}
	for i, w := range want {
		if s.Entries[i].ID != w {
			t.Errorf("entry %d id = %q, want %q", i, s.Entries[i].ID, w)
		}
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	s := NewSession("en")
	s.append(Entry{Type: KindSubtitle, Text: "first"})

	snap := s.snapshot()
	s.append(Entry{Type: KindSubtitle, Text: "second"})

	if len(snap.Entries) != 1 {
		t.Errorf("snapshot entries = %d, want 1", len(snap.Entries))
	}
	if len(s.Entries) != 2 {
		t.Errorf("live entries = %d, want 2", len(s.Entries))
	}
}

func TestSessionJSONShape(t *testing.T) {
	s := NewSession("es")
	s.append(Entry{
		Type:       KindSubtitle,
		Source:     "tab_audio",
		Text:       "hola",
		Language:   "es",
		Confidence: 0.9,
		Timestamp:  "00:00:05",
	})
	s.append(Entry{
		Type:       KindSelectedText,
		Source:     "user_selection",
		Text:       "picked",
		Confidence: 1,
		Metadata: &SelectionMeta{
			PageURL:   "https://example.com",
			PageTitle: "Example",
			Rect:      Rect{X: 1, Y: 2, Width: 3, Height: 4},
		},
	})

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"session_id", "start_time", "last_updated", "status", "target_language", "entries"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}
	if doc["status"] != StatusActive {
		t.Errorf("status = %v, want %q", doc["status"], StatusActive)
	}

	entries := doc["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	subtitle := entries[0].(map[string]any)
	if subtitle["type"] != KindSubtitle {
		t.Errorf("entry type = %v, want %q", subtitle["type"], KindSubtitle)
	}
	for _, absent := range []string{"image_id", "image_path", "bbox", "metadata"} {
		if _, ok := subtitle[absent]; ok {
			t.Errorf("subtitle entry carries %q", absent)
		}
	}

	selection := entries[1].(map[string]any)
	meta, ok := selection["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("selection metadata missing")
	}
	if meta["page_url"] != "https://example.com" {
		t.Errorf("page_url = %v", meta["page_url"])
	}
	rect := meta["rect"].(map[string]any)
	if rect["width"] != 3.0 {
		t.Errorf("rect width = %v, want 3", rect["width"])
	}
}

func TestEmptySessionMarshalsEmptyEntries(t *testing.T) {
	data, err := json.Marshal(NewSession("en"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"entries":[]`) {
		t.Errorf("empty session should carry entries:[], got %s", data)
	}
}
