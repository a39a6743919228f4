package manifest

import "strings"

// Word is a single transcribed word with its time window
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// SpeechSegment is a contiguous span of recognized speech
type SpeechSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words,omitempty"`
}

// TranscriptionResult is the transcript of one audio file, timestamps
// relative to that file's start
type TranscriptionResult struct {
	Text     string          `json:"text"`
	Duration float64         `json:"duration"`
	Words    []Word          `json:"words"`
	Segments []SpeechSegment `json:"segments"`
}

// Offset shifts every timestamp forward by the given amount. Used to move
// a chunk transcript into the timeline of the full recording before merging
func (r *TranscriptionResult) Offset(by float64) {
	for i := range r.Words {
		r.Words[i].Start += by
		r.Words[i].End += by
	}
	for i := range r.Segments {
		r.Segments[i].Start += by
		r.Segments[i].End += by
		for j := range r.Segments[i].Words {
			r.Segments[i].Words[j].Start += by
			r.Segments[i].Words[j].End += by
		}
	}
	r.Duration += by
}

// Append merges another result into this one. The other result's
// timestamps must already be offset into this result's timeline; callers
// append in chunk order so words stay chronological. Duration becomes the
// larger end offset, not a sum, so overlapping or gapped chunks cannot
// inflate it
func (r *TranscriptionResult) Append(other *TranscriptionResult) {
	if other == nil {
		return
	}

	otherText := strings.TrimSpace(other.Text)
	if r.Text == "" {
		r.Text = otherText
	} else if otherText != "" {
		r.Text = r.Text + " " + otherText
	}

	r.Words = append(r.Words, other.Words...)
	r.Segments = append(r.Segments, other.Segments...)

	if other.Duration > r.Duration {
		r.Duration = other.Duration
	}
}

// SliceText joins the words that fall inside [start, end]. Both bounds are
// inclusive: a word counts when it starts no earlier than start and ends
// no later than end
func (r *TranscriptionResult) SliceText(start, end float64) string {
	var parts []string
	for i := range r.Words {
		w := &r.Words[i]
		if w.Start >= start && w.End <= end {
			if text := strings.TrimSpace(w.Word); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, " ")
}
