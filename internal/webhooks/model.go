package webhooks

import (
	"time"

	"github.com/google/uuid"
)

// Event types dispatched by the sequencer.
const (
	EventRootRecorded       = "root.recorded"
	EventRootMined          = "root.mined"
	EventIntegrityViolation = "ledger.integrity_violation"
)

// KnownEvent reports whether the event type is one the sequencer dispatches.
func KnownEvent(eventType string) bool {
	switch eventType {
	case EventRootRecorded, EventRootMined, EventIntegrityViolation:
		return true
	}
	return false
}

// Subscription registers a listener URL for sequencer events. Subscriptions
// are operator-managed; the HMAC secret is generated server-side and shown
// exactly once.
type Subscription struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	URL       string    `json:"url"        db:"url"`
	Events    []string  `json:"events"     db:"events"`
	Secret    string    `json:"-"          db:"secret"` // never returned in API responses
	Active    bool      `json:"active"     db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Event is dispatched to matching subscriptions.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	ID             uuid.UUID `json:"id"              db:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id" db:"subscription_id"`
	EventType      string    `json:"event_type"      db:"event_type"`
	StatusCode     int       `json:"status_code"     db:"status_code"`
	Attempt        int       `json:"attempt"         db:"attempt"`
	Success        bool      `json:"success"         db:"success"`
	ErrorMessage   string    `json:"error_message"   db:"error_message"`
	DeliveredAt    time.Time `json:"delivered_at"    db:"delivered_at"`
}

// CreateSubscriptionRequest is the payload for creating a subscription.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url"    binding:"required,url"`
	Events []string `json:"events" binding:"required"`
}
