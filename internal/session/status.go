package session

// Status is the lifecycle state of an audio session.
type Status string

const (
	StatusCreated          Status = "created"
	StatusUploading        Status = "uploading"
	StatusPreprocessing    Status = "preprocessing"
	StatusAnalyzing        Status = "analyzing"
	StatusAligning         Status = "aligning"
	StatusCompleted        Status = "completed"
	StatusCompletedPartial Status = "completed_partial"
	StatusFailed           Status = "failed"
)

// rank orders the forward progression. Terminal states share the top rank.
var rank = map[Status]int{
	StatusCreated:          0,
	StatusUploading:        1,
	StatusPreprocessing:    2,
	StatusAnalyzing:        3,
	StatusAligning:         4,
	StatusCompleted:        5,
	StatusCompletedPartial: 5,
	StatusFailed:           5,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := rank[s]
	return ok
}

// IsTerminal reports whether s admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedPartial, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from current to next follows the
// allowed lifecycle graph: strictly forward progression, with failed
// reachable from any non-terminal state.
func CanTransition(current, next Status) bool {
	if !current.IsValid() || !next.IsValid() {
		return false
	}
	if current.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return rank[next] > rank[current]
}
