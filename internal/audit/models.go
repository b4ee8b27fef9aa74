package audit

import "time"

// Event is an immutable, append-only audit log record of an operator action.
//
// Events are never updated or deleted. Actor and IP capture are best-effort;
// callers do not block client management on audit failures.
type Event struct {
	ID string `json:"id" db:"id"`

	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	ClientID string `json:"client_id,omitempty" db:"client_id"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventClientCreated       EventType = "client_created"
	EventClientUpdated       EventType = "client_updated"
	EventClientRemoved       EventType = "client_removed"
	EventRegistrationStarted EventType = "registration_started"
	EventRegistrationStopped EventType = "registration_stopped"
)

// Actor identifies who performed an action.
type Actor struct {
	UserID string
	Role   string
	IP     string
}
