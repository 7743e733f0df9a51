package interfaces

import "context"

// Task is the immutable message the job manager submits to the queue backend
type Task struct {
	JobID    string `json:"job_id"`
	JobType  string `json:"job_type"`
	Priority int    `json:"priority"`
	Payload  []byte `json:"payload,omitempty"`
}

// QueueStats is a point-in-time view of the backend queue
type QueueStats struct {
	Pending    int    `json:"pending"`
	InFlight   int    `json:"in_flight"`
	DeadLetter int    `json:"dead_letter"`
	QueueName  string `json:"queue_name"`
	Available  bool   `json:"available"`
}

// QueueBackend is the durable, priority-ordered, retry-capable queue the job
// manager prefers over direct execution. Implementations report
// unavailability through a sentinel error; the manager falls back to direct
// processing and never branches on implementation identity elsewhere.
type QueueBackend interface {
	// Submit enqueues a task. Returns queue.ErrUnavailable when the backend
	// cannot accept work.
	Submit(ctx context.Context, task Task) error

	// Stats returns queue depth counters
	Stats(ctx context.Context) (*QueueStats, error)

	// Close releases backend resources
	Close() error
}
