package asr

import (
	"fmt"
	"strings"

	"github.com/JoaoMarcos160/vet-transcription-platform/internal/types"
)

// MaxWordsPerSegment is the fixed segment window. This is a simplification,
// not a linguistic boundary detector: segments are cut every N words and at
// the end of each result, giving uniform windows with a possibly shorter
// final segment.
const MaxWordsPerSegment = 10

// ExtractSegments converts raw provider output into transcript segments,
// using only the best alternative of each result.
func ExtractSegments(resp *Response) []types.TranscriptSegment {
	var segments []types.TranscriptSegment

	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		alt := result.Alternatives[0]

		var words []string
		var current types.TranscriptSegment

		for i, word := range alt.Words {
			if len(words) == 0 {
				current = types.TranscriptSegment{
					StartTime:  word.StartTime.Seconds(),
					Confidence: alt.Confidence,
				}
				// Malformed offsets decode to 0, so the end only ever
				// advances from the start; it never precedes it.
				current.EndTime = current.StartTime
				if word.SpeakerTag > 0 {
					current.Speaker = fmt.Sprintf("speaker_%d", word.SpeakerTag)
				}
			}
			words = append(words, word.Text)
			if end := word.EndTime.Seconds(); end > current.EndTime {
				current.EndTime = end
			}

			if len(words) == MaxWordsPerSegment || i == len(alt.Words)-1 {
				current.Text = strings.Join(words, " ")
				segments = append(segments, current)
				words = words[:0]
			}
		}
	}

	return segments
}

// MeanConfidence is the arithmetic mean over every alternative's confidence
// in the response. A response with no alternatives has confidence 0.
func MeanConfidence(resp *Response) float64 {
	var sum float64
	var count int
	for _, result := range resp.Results {
		for _, alt := range result.Alternatives {
			sum += alt.Confidence
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
