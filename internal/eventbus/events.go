package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Plan lifecycle events
	EventPlanBuilt           EventType = "plan_built"
	EventPlanDriveStarted    EventType = "plan_drive_started"
	EventPlanCompleted       EventType = "plan_completed"
	EventPlanFailed          EventType = "plan_failed"
	EventPlanSuspended       EventType = "plan_suspended"
	EventPlanAborted         EventType = "plan_aborted"
	EventPlanWaitingForInput EventType = "plan_waiting_for_input"

	// Step execution events
	EventStepStarted   EventType = "step_started"
	EventStepSucceeded EventType = "step_succeeded"
	EventStepRetry     EventType = "step_retry"
	EventStepFailed    EventType = "step_failed"

	// System events
	EventSystemError   EventType = "system_error"
	EventSystemWarning EventType = "system_warning"
)

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the system
type Event interface {
	// Type returns the event type
	Type() EventType

	// Payload returns the event data
	Payload() any

	// Metadata returns additional information about the event
	Metadata() map[string]any

	// Timestamp returns when the event occurred
	Timestamp() int64

	// Source returns information about what generated the event
	Source() string
}

// Publisher is the write side of an event bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventBus is the central event dispatch system
type EventBus interface {
	Publisher

	// Subscribe registers a handler for specific event types and returns a subscription ID.
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for all event types.
	SubscribeAll(handler EventHandler) (string, error)

	// Unsubscribe removes a subscription by ID
	Unsubscribe(subscriptionID string) error

	// Close shuts down the event bus, cleaning up resources
	Close() error
}

// BaseEvent is a simple implementation of the Event interface
type BaseEvent struct {
	eventType  EventType
	payload    any
	metadata   map[string]any
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent
func NewEvent(eventType EventType, payload any, source string, metadata map[string]any) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

func (e *BaseEvent) Type() EventType          { return e.eventType }
func (e *BaseEvent) Payload() any             { return e.payload }
func (e *BaseEvent) Metadata() map[string]any { return e.metadata }
func (e *BaseEvent) Timestamp() int64         { return e.timestamp }
func (e *BaseEvent) Source() string           { return e.sourceInfo }

// WithMetadata adds or updates metadata and returns the same event.
func (e *BaseEvent) WithMetadata(key string, value any) *BaseEvent {
	e.metadata[key] = value
	return e
}

// StepPayload is the payload of step events.
type StepPayload struct {
	PlanID     string        `json:"plan_id"`
	StepID     string        `json:"step_id"`
	ToolName   string        `json:"tool_name"`
	RetryCount int           `json:"retry_count"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// PlanPayload is the payload of plan events.
type PlanPayload struct {
	PlanID    string `json:"plan_id"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status"`
	Completed int    `json:"completed"`
	Pending   int    `json:"pending"`
	Failed    int    `json:"failed"`
}
