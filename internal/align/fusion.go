package align

import (
	"math"
	"sort"
	"strings"
)

// FrameResolution is the fixed grid step of the fused timeline.
const FrameResolution = 0.250

// BuildFrames merges the heterogeneous analysis results for one session onto
// the fixed 250ms grid. It is deterministic and side-effect free, so a
// refired fusion rebuilds byte-identical frames.
//
// Alignment strategy:
//   - audio features are already at grid resolution: direct lookup, zero default
//   - beats become a per-frame flag (any beat within the frame window)
//   - chords resolve to the segment whose half-open interval contains the frame time
//   - key and BPM are global session properties, constant across frames
//   - speech text is the join of all words overlapping the frame window
func BuildFrames(sessionID string, duration float64, music MusicPayload, transcript []TranscriptSegment) []PerceptionFrame {
	beatTimes := append([]float64(nil), music.Tempo.BeatTimes...)
	sort.Float64s(beatTimes)

	chords := append([]ChordSegment(nil), music.Chords...)
	sort.SliceStable(chords, func(i, j int) bool { return chords[i].TStart < chords[j].TStart })

	words := flattenWords(transcript)

	featureAt := make(map[float64]AudioFeature, len(music.Features))
	for _, f := range music.Features {
		featureAt[roundGrid(f.T)] = f
	}

	keyStr := keyString(music.Key)
	bpm := music.Tempo.TempoBPM

	n := int(math.Ceil(duration / FrameResolution))
	frames := make([]PerceptionFrame, 0, n+1)

	for i := 0; i <= n; i++ {
		t := roundGrid(float64(i) * FrameResolution)
		tEnd := t + FrameResolution

		audio := AudioFrame{}
		if f, ok := featureAt[t]; ok {
			audio = AudioFrame{RMS: f.RMS, SpectralCentroid: f.SpectralCentroid}
		}

		beatIdx := sort.SearchFloat64s(beatTimes, t)
		hasBeat := beatIdx < len(beatTimes) && beatTimes[beatIdx] < tEnd

		chord := "N"
		for _, cs := range chords {
			if cs.TStart <= t && t < cs.TEnd {
				chord = cs.Label
				break
			}
			if cs.TStart > t {
				break
			}
		}

		frameWords := []string{}
		for _, w := range words {
			if w.End < t {
				continue
			}
			if w.Start >= tEnd {
				break
			}
			frameWords = append(frameWords, w.Word)
		}

		frames = append(frames, PerceptionFrame{
			SessionID: sessionID,
			T:         t,
			Audio:     audio,
			Music: MusicFrame{
				Chord: chord,
				Key:   keyStr,
				BPM:   bpm,
				Beat:  hasBeat,
			},
			Speech: SpeechFrame{
				TextPartial: strings.TrimSpace(strings.Join(frameWords, " ")),
				Words:       frameWords,
			},
		})
	}

	return frames
}

// flattenWords collects the words of all transcript segments into one
// time-ordered list.
func flattenWords(transcript []TranscriptSegment) []Word {
	var words []Word
	for _, seg := range transcript {
		words = append(words, seg.Words...)
	}
	sort.SliceStable(words, func(i, j int) bool { return words[i].Start < words[j].Start })
	return words
}

// keyString renders the global key as "label:sca" (scale truncated to three
// characters, matching the downstream display convention).
func keyString(key KeyResult) string {
	if key.KeyLabel == "" && key.KeyScale == "" {
		return ""
	}
	scale := key.KeyScale
	if len(scale) > 3 {
		scale = scale[:3]
	}
	return key.KeyLabel + ":" + scale
}

// roundGrid quantizes a grid time to 4 decimals so float accumulation cannot
// split lookup keys.
func roundGrid(t float64) float64 {
	return math.Round(t*1e4) / 1e4
}
