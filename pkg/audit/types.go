package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeRegister       EventType = "auth.register"
	EventTypeLogin          EventType = "auth.login"
	EventTypeLoginFailed    EventType = "auth.login_failed"
	EventTypeFederatedLogin EventType = "auth.federated_login"
	EventTypeProvision      EventType = "auth.provision"
	EventTypeRefresh        EventType = "auth.refresh"
	EventTypeRevoke         EventType = "auth.revoke"
	EventTypeAccessDenied   EventType = "authz.access_denied"
)

// Outcome represents the result of the audited operation
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is a single audit trail entry. ActorID is nil for failed
// sign-ins where no account could be established.
type Event struct {
	ID         int64      `json:"id"`
	Time       time.Time  `json:"time"`
	Type       EventType  `json:"type"`
	Outcome    Outcome    `json:"outcome"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	ActorEmail string     `json:"actor_email,omitempty"`
	Method     string     `json:"method,omitempty"`
	IP         string     `json:"ip,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	RequestID  string     `json:"request_id,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

// Filter narrows an audit trail query. Zero values match everything.
type Filter struct {
	Type    EventType
	ActorID *uuid.UUID
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}
