package asr

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func wordsFor(n int, secondsPerWord float64) []Word {
	words := make([]Word, n)
	for i := 0; i < n; i++ {
		words[i] = Word{
			Text:      "word",
			StartTime: Timestamp(float64(i) * secondsPerWord),
			EndTime:   Timestamp(float64(i+1) * secondsPerWord),
		}
	}
	return words
}

func TestExtractSegmentsCutRule(t *testing.T) {
	resp := &Response{Results: []Result{{
		Alternatives: []Alternative{{
			Transcript: "irrelevant",
			Confidence: 0.9,
			Words:      wordsFor(23, 0.5),
		}},
	}}}

	segments := ExtractSegments(resp)
	if len(segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(segments))
	}

	wantSizes := []int{10, 10, 3}
	for i, seg := range segments {
		got := len(strings.Fields(seg.Text))
		if got != wantSizes[i] {
			t.Errorf("segment %d has %d words, want %d", i, got, wantSizes[i])
		}
		if seg.EndTime < seg.StartTime {
			t.Errorf("segment %d: end %v before start %v", i, seg.EndTime, seg.StartTime)
		}
		if seg.Confidence != 0.9 {
			t.Errorf("segment %d confidence = %v, want 0.9", i, seg.Confidence)
		}
	}

	// Segments must tile the word sequence in order.
	if segments[0].StartTime != 0 {
		t.Errorf("first segment starts at %v, want 0", segments[0].StartTime)
	}
	if segments[1].StartTime != 5 {
		t.Errorf("second segment starts at %v, want 5", segments[1].StartTime)
	}
	if segments[2].EndTime != 11.5 {
		t.Errorf("last segment ends at %v, want 11.5", segments[2].EndTime)
	}
}

func TestExtractSegmentsEmpty(t *testing.T) {
	if got := ExtractSegments(&Response{}); len(got) != 0 {
		t.Fatalf("zero results produced %d segments", len(got))
	}

	resp := &Response{Results: []Result{{
		Alternatives: []Alternative{{Transcript: "", Confidence: 0.5}},
	}}}
	if got := ExtractSegments(resp); len(got) != 0 {
		t.Fatalf("zero words produced %d segments", len(got))
	}
}

func TestExtractSegmentsMultipleResults(t *testing.T) {
	resp := &Response{Results: []Result{
		{Alternatives: []Alternative{{Confidence: 0.8, Words: wordsFor(4, 1)}}},
		{Alternatives: []Alternative{{Confidence: 0.7, Words: wordsFor(12, 1)}}},
	}}

	segments := ExtractSegments(resp)
	// 4 words -> 1 segment, 12 words -> 2 segments, concatenated in order.
	if len(segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(segments))
	}
	if segments[0].Confidence != 0.8 || segments[1].Confidence != 0.7 {
		t.Errorf("confidences not carried per alternative: %+v", segments)
	}
}

func TestExtractSegmentsMalformedEndOffset(t *testing.T) {
	// A word whose end offset fails to decode carries 0; the segment end
	// must still not precede its start.
	raw := `{"alternatives": [{"confidence": 0.9, "words": [
		{"word": "primeira", "start_time": 5.0, "end_time": 5.4},
		{"word": "palavra", "start_time": 5.5, "end_time": "garbage"}
	]}]}`
	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}

	segments := ExtractSegments(&Response{Results: []Result{result}})
	if len(segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(segments))
	}
	seg := segments[0]
	if seg.EndTime < seg.StartTime {
		t.Fatalf("segment end %v precedes start %v", seg.EndTime, seg.StartTime)
	}
	if seg.EndTime != 5.4 {
		t.Errorf("segment end = %v, want 5.4 from the last well-formed offset", seg.EndTime)
	}

	// All offsets malformed: the segment collapses onto its start.
	resp := &Response{Results: []Result{{
		Alternatives: []Alternative{{Confidence: 1, Words: []Word{
			{Text: "word", StartTime: 3},
		}}},
	}}}
	segments = ExtractSegments(resp)
	if len(segments) != 1 || segments[0].EndTime != segments[0].StartTime {
		t.Fatalf("segment with no usable end offsets: %+v", segments)
	}
}

func TestExtractSegmentsSpeaker(t *testing.T) {
	words := wordsFor(2, 1)
	words[0].SpeakerTag = 2
	resp := &Response{Results: []Result{{
		Alternatives: []Alternative{{Confidence: 1, Words: words}},
	}}}

	segments := ExtractSegments(resp)
	if len(segments) != 1 || segments[0].Speaker != "speaker_2" {
		t.Fatalf("speaker label not set: %+v", segments)
	}
}

func TestMeanConfidence(t *testing.T) {
	if got := MeanConfidence(&Response{}); got != 0 {
		t.Errorf("empty response confidence = %v, want 0", got)
	}

	resp := &Response{Results: []Result{
		{Alternatives: []Alternative{{Confidence: 0.95}}},
		{Alternatives: []Alternative{{Confidence: 0.85}}},
	}}
	if got := MeanConfidence(resp); math.Abs(got-0.90) > 1e-9 {
		t.Errorf("confidence = %v, want 0.90", got)
	}

	// Every alternative counts, not just the best one per result.
	resp = &Response{Results: []Result{
		{Alternatives: []Alternative{{Confidence: 0.9}, {Confidence: 0.6}}},
		{Alternatives: []Alternative{{Confidence: 0.3}}},
	}}
	if got := MeanConfidence(resp); math.Abs(got-0.60) > 1e-9 {
		t.Errorf("confidence = %v, want 0.60", got)
	}
}

func TestTimestampDecoding(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"number", `1.5`, 1.5},
		{"suffix string", `"1.300s"`, 1.3},
		{"bare string", `"2.25"`, 2.25},
		{"seconds nanos", `{"seconds": 3, "nanos": 500000000}`, 3.5},
		{"invalid string", `"abc"`, 0},
		{"negative", `-4`, 0},
		{"null", `null`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tt.raw), &ts); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.raw, err)
			}
			if ts.Seconds() != tt.want {
				t.Errorf("decoded %s = %v, want %v", tt.raw, ts.Seconds(), tt.want)
			}
		})
	}
}

func TestResponseText(t *testing.T) {
	resp := &Response{Results: []Result{
		{Alternatives: []Alternative{{Transcript: "hello world"}}},
		{Alternatives: []Alternative{{Transcript: " again "}}},
		{},
	}}
	if got := resp.Text(); got != "hello world again" {
		t.Errorf("Text() = %q", got)
	}
}

