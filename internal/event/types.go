// Package event defines the events that decouple the ledger, pool
// coordinator, and watch UI. Components publish onto a shared Bus and
// interested parties subscribe without direct dependencies.
package event

import (
	"time"

	"github.com/bitrange/rangepool/internal/keyspace"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g. "range.updated", "assignment.claimed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Range Events
// -----------------------------------------------------------------------------

// RangeUpdatedEvent is emitted when a progress report lands in the ledger.
type RangeUpdatedEvent struct {
	baseEvent
	RangeID         string
	PercentComplete float64
	SearchRate      float64
}

// NewRangeUpdatedEvent creates a RangeUpdatedEvent.
func NewRangeUpdatedEvent(rangeID string, percent, rate float64) RangeUpdatedEvent {
	return RangeUpdatedEvent{
		baseEvent:       newBaseEvent("range.updated"),
		RangeID:         rangeID,
		PercentComplete: percent,
		SearchRate:      rate,
	}
}

// RangeCompletedEvent is emitted when a range reaches its terminal
// completed state, either by full coverage or a found key.
type RangeCompletedEvent struct {
	baseEvent
	RangeID string
	Found   bool
}

// NewRangeCompletedEvent creates a RangeCompletedEvent.
func NewRangeCompletedEvent(rangeID string, found bool) RangeCompletedEvent {
	return RangeCompletedEvent{
		baseEvent: newBaseEvent("range.completed"),
		RangeID:   rangeID,
		Found:     found,
	}
}

// RangeSplitEvent is emitted when the scheduler splits a range into
// contiguous children.
type RangeSplitEvent struct {
	baseEvent
	ParentID string
	ChildIDs []string
}

// NewRangeSplitEvent creates a RangeSplitEvent.
func NewRangeSplitEvent(parentID string, children []keyspace.Range) RangeSplitEvent {
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.ID
	}
	return RangeSplitEvent{
		baseEvent: newBaseEvent("range.split"),
		ParentID:  parentID,
		ChildIDs:  ids,
	}
}

// -----------------------------------------------------------------------------
// Assignment Events
// -----------------------------------------------------------------------------

// AssignmentClaimedEvent is emitted when a participant wins a range claim.
type AssignmentClaimedEvent struct {
	baseEvent
	AssignmentID string
	RangeID      string
	ClientID     string
}

// NewAssignmentClaimedEvent creates an AssignmentClaimedEvent.
func NewAssignmentClaimedEvent(assignmentID, rangeID, clientID string) AssignmentClaimedEvent {
	return AssignmentClaimedEvent{
		baseEvent:    newBaseEvent("assignment.claimed"),
		AssignmentID: assignmentID,
		RangeID:      rangeID,
		ClientID:     clientID,
	}
}

// AssignmentReleasedEvent is emitted when an assignment ends without
// completing its range: voluntary abandonment or heartbeat expiry.
type AssignmentReleasedEvent struct {
	baseEvent
	AssignmentID string
	RangeID      string
	Reason       string
}

// NewAssignmentReleasedEvent creates an AssignmentReleasedEvent.
func NewAssignmentReleasedEvent(assignmentID, rangeID, reason string) AssignmentReleasedEvent {
	return AssignmentReleasedEvent{
		baseEvent:    newBaseEvent("assignment.released"),
		AssignmentID: assignmentID,
		RangeID:      rangeID,
		Reason:       reason,
	}
}
