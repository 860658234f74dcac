package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameAt(t *testing.T, frames []PerceptionFrame, at float64) PerceptionFrame {
	t.Helper()
	for _, f := range frames {
		if f.T == at {
			return f
		}
	}
	t.Fatalf("no frame at t=%v", at)
	return PerceptionFrame{}
}

func TestBuildFramesChordLookup(t *testing.T) {
	music := MusicPayload{
		Chords: []ChordSegment{
			{TStart: 0, TEnd: 2, Label: "C"},
			{TStart: 2, TEnd: 5, Label: "G"},
		},
	}

	frames := BuildFrames("s1", 6.5, music, nil)

	assert.Equal(t, "C", frameAt(t, frames, 1.0).Music.Chord)
	assert.Equal(t, "G", frameAt(t, frames, 2.0).Music.Chord)
	assert.Equal(t, "N", frameAt(t, frames, 6.0).Music.Chord)
}

func TestBuildFramesChordBoundaryIsHalfOpen(t *testing.T) {
	music := MusicPayload{
		Chords: []ChordSegment{{TStart: 0, TEnd: 1, Label: "Am"}},
	}

	frames := BuildFrames("s1", 2, music, nil)

	assert.Equal(t, "Am", frameAt(t, frames, 0.75).Music.Chord)
	// t_end is exclusive
	assert.Equal(t, "N", frameAt(t, frames, 1.0).Music.Chord)
}

func TestBuildFramesBeatFlag(t *testing.T) {
	music := MusicPayload{
		Tempo: TempoResult{BeatTimes: []float64{0.1, 0.6, 1.1}},
	}

	frames := BuildFrames("s1", 1.5, music, nil)

	assert.True(t, frameAt(t, frames, 0.0).Music.Beat)
	assert.False(t, frameAt(t, frames, 0.25).Music.Beat)
	assert.True(t, frameAt(t, frames, 0.5).Music.Beat)
	assert.False(t, frameAt(t, frames, 0.75).Music.Beat)
	assert.True(t, frameAt(t, frames, 1.0).Music.Beat)
}

func TestBuildFramesFrameCount(t *testing.T) {
	// N = ceil(D/G) + 1 frames, one per grid step over [0, D].
	frames := BuildFrames("s1", 2.0, MusicPayload{}, nil)
	require.Len(t, frames, 9)
	assert.Equal(t, 0.0, frames[0].T)
	assert.Equal(t, 2.0, frames[len(frames)-1].T)

	// Non-multiple duration rounds the grid up.
	frames = BuildFrames("s1", 1.1, MusicPayload{}, nil)
	require.Len(t, frames, 6)
	assert.Equal(t, 1.25, frames[len(frames)-1].T)
}

func TestBuildFramesAudioFeatures(t *testing.T) {
	music := MusicPayload{
		Features: []AudioFeature{
			{T: 0.25, RMS: 0.5, SpectralCentroid: 1200},
		},
	}

	frames := BuildFrames("s1", 0.5, music, nil)

	assert.Equal(t, AudioFrame{RMS: 0.5, SpectralCentroid: 1200}, frameAt(t, frames, 0.25).Audio)
	// Missing sample defaults to zeros.
	assert.Equal(t, AudioFrame{}, frameAt(t, frames, 0.0).Audio)
}

func TestBuildFramesSpeechWordOverlap(t *testing.T) {
	transcript := []TranscriptSegment{
		{
			TStart: 0,
			TEnd:   2,
			Text:   "hello world again",
			Words: []Word{
				{Word: "hello", Start: 0.0, End: 0.4},
				{Word: "world", Start: 0.4, End: 0.7},
				{Word: "again", Start: 1.5, End: 1.9},
			},
		},
	}

	frames := BuildFrames("s1", 2, MusicPayload{}, transcript)

	// [0.25, 0.5): "hello" ends at 0.4 (>= 0.25), "world" starts at 0.4 (< 0.5).
	assert.Equal(t, "hello world", frameAt(t, frames, 0.25).Speech.TextPartial)
	assert.Equal(t, []string{"hello", "world"}, frameAt(t, frames, 0.25).Speech.Words)
	assert.Equal(t, "", frameAt(t, frames, 1.0).Speech.TextPartial)
	assert.Equal(t, "again", frameAt(t, frames, 1.5).Speech.TextPartial)
}

func TestBuildFramesGlobalKeyAndBPM(t *testing.T) {
	music := MusicPayload{
		Tempo: TempoResult{TempoBPM: 120.5},
		Key:   KeyResult{KeyLabel: "A", KeyScale: "minor"},
	}

	frames := BuildFrames("s1", 1, music, nil)

	for _, f := range frames {
		assert.Equal(t, "A:min", f.Music.Key)
		assert.Equal(t, 120.5, f.Music.BPM)
	}
}

func TestBuildFramesEmptyKey(t *testing.T) {
	frames := BuildFrames("s1", 0.25, MusicPayload{}, nil)
	assert.Equal(t, "", frames[0].Music.Key)
}

func TestBuildFramesIdempotent(t *testing.T) {
	music := MusicPayload{
		Tempo: TempoResult{TempoBPM: 98, BeatTimes: []float64{0.2, 0.8, 1.4}},
		Key:   KeyResult{KeyLabel: "C", KeyScale: "major"},
		Chords: []ChordSegment{
			{TStart: 0, TEnd: 1.2, Label: "C"},
			{TStart: 1.2, TEnd: 3, Label: "F"},
		},
		Features: []AudioFeature{
			{T: 0, RMS: 0.1, SpectralCentroid: 800},
			{T: 0.25, RMS: 0.2, SpectralCentroid: 900},
		},
	}
	transcript := []TranscriptSegment{
		{Words: []Word{{Word: "one", Start: 0.1, End: 0.3}, {Word: "two", Start: 0.5, End: 0.9}}},
	}

	first := BuildFrames("s1", 3, music, transcript)
	second := BuildFrames("s1", 3, music, transcript)

	assert.Equal(t, first, second)
}

func TestBuildFramesSessionIDStamped(t *testing.T) {
	frames := BuildFrames("session-42", 0.5, MusicPayload{}, nil)
	for _, f := range frames {
		assert.Equal(t, "session-42", f.SessionID)
	}
}
