package calls

import "time"

// Call is one inbound call handled by a client.
//
// A call is finalized exactly once: EndTime, DurationSeconds and a terminal
// Status are written together.
type Call struct {
	ID           string `json:"id" db:"id"`
	ClientID     string `json:"client_id" db:"client_id"`
	ClientName   string `json:"client_name,omitempty" db:"client_name"`
	SIPCallID    string `json:"call_id" db:"call_id"`
	CallerNumber string `json:"caller_number" db:"caller_number"`
	CalledNumber string `json:"called_number" db:"called_number"`

	Status CallStatus `json:"status" db:"status"`

	StartTime time.Time  `json:"start_time" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`
	// DurationSeconds is EndTime - StartTime in whole seconds.
	DurationSeconds *int `json:"duration,omitempty" db:"duration"`
}

type CallStatus string

const (
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

func (s CallStatus) Terminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Interaction is one persisted utterance. Ordered by (Timestamp, Seq) within a call.
type Interaction struct {
	ID        string    `json:"id" db:"id"`
	CallID    string    `json:"call_id" db:"call_id"`
	Seq       int       `json:"seq" db:"seq"`
	Speaker   Speaker   `json:"speaker" db:"speaker"`
	Content   string    `json:"content" db:"content"`
	Timestamp time.Time `json:"timestamp" db:"created_at"`
}

// ErrorLog is an append-only diagnostic record.
type ErrorLog struct {
	ID        string         `json:"id" db:"id"`
	ErrorType string         `json:"error_type" db:"error_type"`
	Details   map[string]any `json:"details" db:"details"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

const ErrorTypeCallProcessing = "call_processing"

// Duration returns end - start in whole seconds, never negative.
func Duration(start, end time.Time) int {
	d := int(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
