package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/interfaces"
)

type registration struct {
	id      interfaces.Subscription
	handler interfaces.EventHandler
}

// Service implements EventService with an in-process pub/sub pattern.
// The job manager publishes typed lifecycle events here; the broadcaster and
// metrics store subscribe independently.
type Service struct {
	subscribers map[interfaces.EventType][]registration
	nextID      interfaces.Subscription
	mu          sync.RWMutex
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[interfaces.EventType][]registration),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) interfaces.Subscription {
	if handler == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subscribers[eventType] = append(s.subscribers[eventType], registration{id: id, handler: handler})

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return id
}

// Unsubscribe removes a handler registration from an event type
func (s *Service) Unsubscribe(eventType interfaces.EventType, sub interfaces.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	regs := s.subscribers[eventType]
	for i, r := range regs {
		if r.id == sub {
			s.subscribers[eventType] = append(regs[:i], regs[i+1:]...)
			s.logger.Debug().
				Str("event_type", string(eventType)).
				Msg("Event handler unsubscribed")
			return
		}
	}
}

// Publish sends an event to all subscribers asynchronously
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	regs := make([]registration, len(s.subscribers[event.Type]))
	copy(regs, s.subscribers[event.Type])
	s.mu.RUnlock()

	if len(regs) == 0 {
		return nil
	}

	for _, r := range regs {
		go func(h interfaces.EventHandler) {
			if err := h(ctx, event); err != nil {
				s.logger.Error().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
			}
		}(r.handler)
	}

	return nil
}

// PublishSync sends an event to all subscribers and waits for completion.
// The broadcaster relies on this for per-job event ordering: all of a job's
// events originate from one sequential executor, so synchronous delivery
// preserves their order.
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	regs := make([]registration, len(s.subscribers[event.Type]))
	copy(regs, s.subscribers[event.Type])
	s.mu.RUnlock()

	if len(regs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(regs))

	for _, r := range regs {
		wg.Add(1)
		go func(h interfaces.EventHandler) {
			defer wg.Done()
			if err := h(ctx, event); err != nil {
				s.logger.Error().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
				errChan <- err
			}
		}(r.handler)
	}

	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("event handlers failed: %d errors", len(errs))
	}

	return nil
}

// Close shuts down the event service
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = make(map[interfaces.EventType][]registration)
	s.logger.Info().Msg("Event service closed")

	return nil
}
