package align

// Payload schemas exchanged with the analysis workers. All of these travel
// JSON-encoded inside flat stream message fields.

// AudioFeature is one low-level feature sample, already on the frame grid.
type AudioFeature struct {
	T                float64 `json:"t"`
	RMS              float64 `json:"rms"`
	SpectralCentroid float64 `json:"spectral_centroid"`
}

// TempoResult is the global tempo/beat analysis for a session.
type TempoResult struct {
	TempoBPM        float64   `json:"tempo_bpm"`
	TempoConfidence float64   `json:"tempo_confidence"`
	BeatTimes       []float64 `json:"beat_times"`
	DownbeatTimes   []float64 `json:"downbeat_times"`
	TimeSignature   string    `json:"time_signature"`
}

// KeyResult is the global key estimate for a session.
type KeyResult struct {
	KeyLabel      string  `json:"key_label"`
	KeyScale      string  `json:"key_scale"`
	KeyConfidence float64 `json:"key_confidence"`
}

// ChordSegment is a half-open [TStart, TEnd) interval labeled with a chord.
// Segments arrive time-ordered and non-overlapping.
type ChordSegment struct {
	TStart     float64 `json:"t_start"`
	TEnd       float64 `json:"t_end"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// MusicPayload is the combined music-worker result.
type MusicPayload struct {
	Tempo    TempoResult    `json:"tempo"`
	Key      KeyResult      `json:"key"`
	Chords   []ChordSegment `json:"chords"`
	Features []AudioFeature `json:"features"`
}

// Word is a single recognized word with its time interval.
type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// TranscriptSegment is one span of recognized speech.
type TranscriptSegment struct {
	TStart     float64 `json:"t_start"`
	TEnd       float64 `json:"t_end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words"`
}

// AudioFrame is the per-frame audio feature slice.
type AudioFrame struct {
	RMS              float64 `json:"rms"`
	SpectralCentroid float64 `json:"spectral_centroid"`
}

// MusicFrame is the per-frame music slice. Key and BPM are constant across
// a session; chord and beat vary per frame.
type MusicFrame struct {
	Chord string  `json:"chord"`
	Key   string  `json:"key"`
	BPM   float64 `json:"bpm"`
	Beat  bool    `json:"beat"`
}

// SpeechFrame is the per-frame speech slice.
type SpeechFrame struct {
	TextPartial string   `json:"text_partial"`
	Words       []string `json:"words"`
}

// PerceptionFrame is one record of the fused, time-aligned artifact, one per
// grid step.
type PerceptionFrame struct {
	SessionID string      `json:"session_id"`
	T         float64     `json:"t"`
	Audio     AudioFrame  `json:"audio"`
	Music     MusicFrame  `json:"music"`
	Speech    SpeechFrame `json:"speech"`
}
