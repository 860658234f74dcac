package streams

// Stream names shared across the pipeline. Every stage publishes flat
// string-keyed fields; non-string values are JSON-encoded by convention.
const (
	TopicPreprocessPending = "lens:preprocess:pending"
	TopicASRPending        = "lens:asr:pending"
	TopicMusicPending      = "lens:music:pending"
	TopicAlignPending      = "lens:align:pending"
	TopicResults           = "lens:results"
	TopicSessionStatus     = "lens:session:status"
	TopicTTSPending        = "lens:tts:pending"
	TopicTTSComplete       = "lens:tts:complete"
)

// DLQTopic returns the dead-letter stream paired with stream.
func DLQTopic(stream string) string {
	return stream + ":dlq"
}

const (
	retryKeyPrefix = "lens:retries:"
	lockKeyPrefix  = "lens:lock:"
)
