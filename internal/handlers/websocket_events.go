package handlers

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/jobs"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// jobEventTypes are the bus events fanned out to the job topics
var jobEventTypes = []interfaces.EventType{
	interfaces.EventJobCreated,
	interfaces.EventJobStarted,
	interfaces.EventJobProgress,
	interfaces.EventJobCompleted,
	interfaces.EventJobFailed,
	interfaces.EventJobCancelled,
	interfaces.EventJobPaused,
	interfaces.EventJobResumed,
}

// EventSubscriber bridges the internal event bus to WebSocket broadcasts.
// It is the only consumer that fans job events out to topic subscribers;
// the job manager stays unaware of the realtime layer.
type EventSubscriber struct {
	handler *WebSocketHandler
	events  interfaces.EventService
	logger  arbor.ILogger

	subs map[interfaces.EventType]interfaces.Subscription
}

// NewEventSubscriber wires the broadcaster to the event bus
func NewEventSubscriber(handler *WebSocketHandler, events interfaces.EventService, logger arbor.ILogger) *EventSubscriber {
	s := &EventSubscriber{
		handler: handler,
		events:  events,
		logger:  logger,
		subs:    make(map[interfaces.EventType]interfaces.Subscription),
	}

	for _, eventType := range jobEventTypes {
		et := eventType
		s.subs[et] = events.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			return s.handleJobEvent(event)
		})
	}

	s.subs[interfaces.EventAuditLogged] = events.Subscribe(interfaces.EventAuditLogged, func(ctx context.Context, event interfaces.Event) error {
		return s.handleAuditEvent(event)
	})

	logger.Debug().
		Int("subscriptions", len(s.subs)).
		Msg("WebSocket event subscriber registered")

	return s
}

// handleJobEvent fans a lifecycle event out to the job's list scopes and its
// own topic
func (s *EventSubscriber) handleJobEvent(event interfaces.Event) error {
	payload, ok := event.Payload.(jobs.JobEventPayload)
	if !ok || payload.Job == nil {
		s.logger.Warn().
			Str("event_type", string(event.Type)).
			Msg("Job event with unexpected payload dropped")
		return nil
	}

	s.handler.BroadcastJobEvent(string(event.Type), payload.Job, payload)
	return nil
}

// handleAuditEvent forwards audit entries to the audit_logs topic
func (s *EventSubscriber) handleAuditEvent(event interfaces.Event) error {
	entry, ok := event.Payload.(models.AuditEntry)
	if !ok {
		return nil
	}
	s.handler.BroadcastToTopic(TopicAuditLogs, string(interfaces.EventAuditLogged), entry)
	return nil
}

// Close removes all bus subscriptions
func (s *EventSubscriber) Close() {
	for eventType, sub := range s.subs {
		s.events.Unsubscribe(eventType, sub)
	}
}
