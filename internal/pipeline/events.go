package pipeline

import "time"

// Event types broadcast while a run progresses.
const (
	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventStageFailed    = "stage_failed"
	EventRunCompleted   = "run_completed"
	EventRunFailed      = "run_failed"
)

// ProgressHub receives progress updates. The websocket hub implements it.
type ProgressHub interface {
	BroadcastUpdate(eventType, stage, status string, metadata interface{})
}

// EventMetadata is the payload attached to every broadcast.
type EventMetadata struct {
	RunID     string    `json:"run_id"`
	Mode      string    `json:"mode"`
	StageName string    `json:"stage_name,omitempty"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
