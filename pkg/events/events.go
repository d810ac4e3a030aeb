// Package events defines the execution lifecycle and notification events carried on the event bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const Topic = "stepflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionSuspendedEvent EventType = "execution.suspended"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionSucceededEvent EventType = "execution.succeeded"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionTimedOutEvent  EventType = "execution.timed_out"

	// NotificationEvent carries a (detail type, detail) pair that trigger rules match on.
	NotificationEvent EventType = "notification"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	ExecutionID  string         `json:"execution_id,omitempty"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, executionID, workflowName string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		ExecutionID:  executionID,
		WorkflowName: workflowName,
	}
}

type ExecutionStarted struct {
	BaseEvent

	Input map[string]any `json:"input,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionSuspended struct {
	BaseEvent

	State  string     `json:"state"`
	Kind   string     `json:"kind"`
	WakeAt *time.Time `json:"wake_at,omitempty"`
}

func (e ExecutionSuspended) GetType() EventType {
	return ExecutionSuspendedEvent
}

type ExecutionResumed struct {
	BaseEvent

	State  string `json:"state"`
	Failed bool   `json:"failed"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionSucceeded struct {
	BaseEvent

	Output   map[string]any `json:"output,omitempty"`
	Duration time.Duration  `json:"duration"`
}

func (e ExecutionSucceeded) GetType() EventType {
	return ExecutionSucceededEvent
}

type ExecutionFailed struct {
	BaseEvent

	State    string        `json:"state"`
	Error    string        `json:"error"`
	Cause    string        `json:"cause,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionTimedOut struct {
	BaseEvent

	State    string    `json:"state"`
	Deadline time.Time `json:"deadline"`
}

func (e ExecutionTimedOut) GetType() EventType {
	return ExecutionTimedOutEvent
}

// Notification is published by the publish action. Rules route it to the
// workflows whose trigger detail type equals DetailType.
type Notification struct {
	BaseEvent

	DetailType string `json:"detail_type"`
	Source     string `json:"source,omitempty"`
	Detail     any    `json:"detail"`
}

func (n Notification) GetType() EventType {
	return NotificationEvent
}

// New returns an empty event of the given type for decoding, or false if the type is unknown.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case ExecutionStartedEvent:
		return &ExecutionStarted{}, true
	case ExecutionSuspendedEvent:
		return &ExecutionSuspended{}, true
	case ExecutionResumedEvent:
		return &ExecutionResumed{}, true
	case ExecutionSucceededEvent:
		return &ExecutionSucceeded{}, true
	case ExecutionFailedEvent:
		return &ExecutionFailed{}, true
	case ExecutionTimedOutEvent:
		return &ExecutionTimedOut{}, true
	case NotificationEvent:
		return &Notification{}, true
	default:
		return nil, false
	}
}
