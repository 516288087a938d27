package pipeline

import "strings"

// Options arrive from the control surface. Absent fields mean "use the
// default"; pointers distinguish absent from explicitly false.
type Options struct {
	TargetLanguage string `json:"target_language,omitempty"`
	Translation    *bool  `json:"translation,omitempty"`
	Audio          *bool  `json:"audio,omitempty"`
	OCR            *bool  `json:"ocr,omitempty"`
	KeyframeOCR    *bool  `json:"keyframe_ocr,omitempty"`
}

// Settings are fully resolved capture options for one run.
type Settings struct {
	TargetLanguage string `json:"target_language"`
	Translation    bool   `json:"translation"`
	Audio          bool   `json:"audio"`
	OCR            bool   `json:"ocr"`
	KeyframeOCR    bool   `json:"keyframe_ocr"`
}

// Normalize resolves absent options. Translation, audio capture, and
// screen OCR default on; keyframe OCR stays opt-in.
func (o Options) Normalize(defaultLanguage string) Settings {
	s := Settings{
		TargetLanguage: strings.TrimSpace(o.TargetLanguage),
		Translation:    true,
		Audio:          true,
		OCR:            true,
	}
	if s.TargetLanguage == "" {
		s.TargetLanguage = strings.TrimSpace(defaultLanguage)
	}
	if s.TargetLanguage == "" {
		s.TargetLanguage = "en"
	}
	if o.Translation != nil {
		s.Translation = *o.Translation
	}
	if o.Audio != nil {
		s.Audio = *o.Audio
	}
	if o.OCR != nil {
		s.OCR = *o.OCR
	}
	if o.KeyframeOCR != nil {
		s.KeyframeOCR = *o.KeyframeOCR
	}
	return s
}
