// Package transcription defines the transcript model and the contract the
// worker uses to turn stored audio into text.
//
// The recognizer itself is opaque to the rest of the system: anything that
// satisfies Transcriber can be plugged into the worker pool. The production
// implementation lives in services/whisperx.
package transcription

import (
	"context"
	"strings"
)

// Segment is a timed span of recognized speech. Offsets are seconds from the
// start of the audio.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the result of a successful transcription.
type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Normalize returns t with a non-nil segment list, so an empty transcript
// encodes as "segments": [] rather than null.
func (t Transcript) Normalize() Transcript {
	if t.Segments == nil {
		t.Segments = []Segment{}
	}
	return t
}

// Transcriber converts the audio stored at audioPath into a transcript.
// Implementations must honour ctx cancellation.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (Transcript, error)
}

// Func adapts a plain function to the Transcriber interface.
type Func func(ctx context.Context, audioPath string) (Transcript, error)

// Transcribe calls f.
func (f Func) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	return f(ctx, audioPath)
}

// FromSegments builds a transcript whose text joins the trimmed segment texts.
// Segments with no text are kept for timing but contribute nothing to Text.
func FromSegments(segments []Segment) Transcript {
	out := Transcript{Segments: make([]Segment, 0, len(segments))}
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg.Text = strings.TrimSpace(seg.Text)
		if seg.End < seg.Start {
			seg.End = seg.Start
		}
		out.Segments = append(out.Segments, seg)
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	out.Text = strings.Join(parts, " ")
	return out
}
