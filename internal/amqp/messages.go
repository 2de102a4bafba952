package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message kinds. They double as routing keys on the direct exchange, so an
// invalidation and a progression report can never land in each other's queue,
// and as a payload discriminator so a misrouted body is rejected instead of
// being decoded as the wrong type.
const (
	KindInvalidation         = "projection.invalidated"
	KindProgressionCompleted = "progression.completed"
)

// InvalidationMessage tells consumers that persisted projections for a group
// are superseded and must be recomputed (entity data changed, or a month
// progression moved statement balances).
type InvalidationMessage struct {
	Kind      string    `json:"kind"`
	GroupID   string    `json:"group_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Invalidation reasons.
const (
	ReasonEntityChanged    = "entity_changed"
	ReasonMonthProgression = "month_progression"
)

// NewInvalidationMessage creates an invalidation message for a group.
func NewInvalidationMessage(groupID, reason string) *InvalidationMessage {
	return &InvalidationMessage{
		Kind:      KindInvalidation,
		GroupID:   groupID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *InvalidationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InvalidationMessageFromJSON parses an invalidation from JSON bytes,
// rejecting payloads of any other kind.
func InvalidationMessageFromJSON(data []byte) (*InvalidationMessage, error) {
	var msg InvalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Kind != KindInvalidation {
		return nil, fmt.Errorf("message kind %q, want %q", msg.Kind, KindInvalidation)
	}
	return &msg, nil
}

// ProgressionCompletedMessage reports a finished month-progression run.
type ProgressionCompletedMessage struct {
	Kind              string    `json:"kind"`
	GroupID           string    `json:"group_id"`
	ProgressedCards   int       `json:"progressed_cards"`
	CleanedStatements int       `json:"cleaned_statements"`
	Timestamp         time.Time `json:"timestamp"`
}

// NewProgressionCompletedMessage creates a completion report.
func NewProgressionCompletedMessage(groupID string, progressed, cleaned int) *ProgressionCompletedMessage {
	return &ProgressionCompletedMessage{
		Kind:              KindProgressionCompleted,
		GroupID:           groupID,
		ProgressedCards:   progressed,
		CleanedStatements: cleaned,
		Timestamp:         time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *ProgressionCompletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ProgressionCompletedMessageFromJSON parses a progression report from JSON
// bytes, rejecting payloads of any other kind.
func ProgressionCompletedMessageFromJSON(data []byte) (*ProgressionCompletedMessage, error) {
	var msg ProgressionCompletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Kind != KindProgressionCompleted {
		return nil, fmt.Errorf("message kind %q, want %q", msg.Kind, KindProgressionCompleted)
	}
	return &msg, nil
}
