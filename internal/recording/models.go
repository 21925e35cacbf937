package recording

import (
	"errors"
	"time"

	"github.com/soundscribe/analytics-service/internal/analysis"
)

// Status represents the lifecycle of a call recording.
type Status string

const (
	StatusUploaded     Status = "uploaded"
	StatusTranscribing Status = "transcribing"
	StatusTranscribed  Status = "transcribed"
	StatusAnalyzing    Status = "analyzing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var (
	ErrNotFound          = errors.New("recording not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var allStatuses = []Status{
	StatusUploaded,
	StatusTranscribing,
	StatusTranscribed,
	StatusAnalyzing,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusTranscribing: {},
	StatusAnalyzing:    {},
}

// allowedTransitions is the full lifecycle graph. The rollback edges
// from the two processing states exist for stuck-recording recovery,
// and both terminal states can loop back to uploaded for reprocessing.
var allowedTransitions = map[Status][]Status{
	StatusUploaded:     {StatusTranscribing},
	StatusTranscribing: {StatusTranscribed, StatusFailed, StatusUploaded},
	StatusTranscribed:  {StatusAnalyzing},
	StatusAnalyzing:    {StatusCompleted, StatusFailed, StatusTranscribed},
	StatusCompleted:    {StatusUploaded},
	StatusFailed:       {StatusUploaded},
}

func (s Status) Valid() bool {
	_, ok := statusSet[s]
	return ok
}

// IsProcessing reports whether a recording in this status is owned by
// a pipeline worker.
func (s Status) IsProcessing() bool {
	_, ok := processingStatuses[s]
	return ok
}

func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Recording is a call recording tracked through the analytics pipeline.
type Recording struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	AgentName    string            `json:"agent_name,omitempty"`
	CallType     string            `json:"call_type,omitempty"`
	Source       string            `json:"source"`
	Status       Status            `json:"status"`
	WordCount    int               `json:"word_count"`
	Transcript   string            `json:"transcript,omitempty"`
	Summary      *analysis.Summary `json:"summary,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewRecording carries the caller-supplied fields for Create.
type NewRecording struct {
	Title     string
	AgentName string
	CallType  string
	Source    string
}
