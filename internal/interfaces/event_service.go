package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventJobCreated    EventType = "job_created"
	EventJobStarted    EventType = "job_started"
	EventJobProgress   EventType = "job_progress"
	EventJobCompleted  EventType = "job_completed"
	EventJobFailed     EventType = "job_failed"
	EventJobCancelled  EventType = "job_cancelled"
	EventJobPaused     EventType = "job_paused"
	EventJobResumed    EventType = "job_resumed"
	EventAuditLogged   EventType = "audit_logged"
	EventMetricsSample EventType = "metrics_sample"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// Subscription identifies a registered handler so it can be removed later
type Subscription uint64

// EventService manages the pub/sub event bus between the job manager and its
// observers (broadcaster, metrics store)
type EventService interface {
	// Subscribe to an event type, returning a token for Unsubscribe
	Subscribe(eventType EventType, handler EventHandler) Subscription

	// Unsubscribe removes a previously registered handler
	Unsubscribe(eventType EventType, sub Subscription)

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
