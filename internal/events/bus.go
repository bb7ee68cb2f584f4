// Package events persists activity events and dispatches them to handlers.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/database"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/metrics"
)

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event *Event) error

// EventBus manages event publishing and subscription.
type EventBus struct {
	store       *Store
	subscribers map[string][]EventHandler // key: "type:source:action"
	mu          sync.RWMutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	retention   time.Duration
	batchSize   int
}

// EventBusConfig holds configuration for EventBus.
type EventBusConfig struct {
	// Retention is how long to keep completed/failed events (default: 7 days).
	Retention time.Duration
	// ProcessInterval is how often to poll for pending events (default: 1 second).
	ProcessInterval time.Duration
	// CleanupInterval is how often to cleanup old events (default: 1 hour).
	CleanupInterval time.Duration
	// BatchSize is how many pending events one pass handles (default: 100).
	BatchSize int
}

func (c *EventBusConfig) withDefaults() *EventBusConfig {
	out := EventBusConfig{}
	if c != nil {
		out = *c
	}
	if out.Retention == 0 {
		out.Retention = 7 * 24 * time.Hour
	}
	if out.ProcessInterval == 0 {
		out.ProcessInterval = time.Second
	}
	if out.CleanupInterval == 0 {
		out.CleanupInterval = time.Hour
	}
	if out.BatchSize == 0 {
		out.BatchSize = 100
	}
	return &out
}

// NewEventBus creates a new event bus.
func NewEventBus(db *database.DB, config *EventBusConfig) *EventBus {
	config = config.withDefaults()

	return &EventBus{
		store:       NewStore(db),
		subscribers: make(map[string][]EventHandler),
		retention:   config.Retention,
		batchSize:   config.BatchSize,
	}
}

// Start begins background processing. It stops when ctx is done or Stop is
// called.
func (bus *EventBus) Start(ctx context.Context, config *EventBusConfig) {
	config = config.withDefaults()

	ctx, bus.cancel = context.WithCancel(ctx)

	bus.wg.Add(2)
	go bus.processLoop(ctx, config.ProcessInterval)
	go bus.cleanupLoop(ctx, config.CleanupInterval)
}

// Stop gracefully shuts down the event bus.
func (bus *EventBus) Stop() {
	if bus.cancel != nil {
		bus.cancel()
	}
	bus.wg.Wait()
}

// Publish publishes an event to the queue.
func (bus *EventBus) Publish(ctx context.Context, event *Event) error {
	if err := bus.store.Create(ctx, event); err != nil {
		return fmt.Errorf("creating event: %w", err)
	}

	log.Debug().
		Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Str("source", event.Source).
		Str("action", event.Action).
		Msg("Event published")

	return nil
}

// Subscribe registers a handler for events matching the pattern.
// Use "*" for source or action to match all.
func (bus *EventBus) Subscribe(eventType EventType, source, action string, handler EventHandler) {
	key := bus.makeKey(eventType, source, action)

	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.subscribers[key] = append(bus.subscribers[key], handler)

	log.Debug().
		Str("type", string(eventType)).
		Str("source", source).
		Str("action", action).
		Msg("Handler subscribed")
}

// ProcessPending processes one batch of pending events in publish order.
func (bus *EventBus) ProcessPending(ctx context.Context) error {
	events, err := bus.store.GetPending(ctx, bus.batchSize)
	if err != nil {
		return fmt.Errorf("getting pending events: %w", err)
	}

	for _, event := range events {
		if err := bus.processEvent(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID).
				Msg("Failed to process event")
		}
	}

	return nil
}

// Cleanup removes processed events older than the retention period.
func (bus *EventBus) Cleanup(ctx context.Context) (int64, error) {
	return bus.store.DeleteOlderThan(ctx, bus.retention)
}

// processEvent processes a single event.
func (bus *EventBus) processEvent(ctx context.Context, event *Event) error {
	if err := bus.store.UpdateStatus(ctx, event.ID, StatusProcessing); err != nil {
		return fmt.Errorf("updating event status to processing: %w", err)
	}

	handlers := bus.findHandlers(event)

	if len(handlers) == 0 {
		log.Debug().
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Str("source", event.Source).
			Str("action", event.Action).
			Msg("No handlers found for event")

		if err := bus.store.UpdateStatus(ctx, event.ID, StatusCompleted); err != nil {
			return fmt.Errorf("updating event status to completed: %w", err)
		}
		metrics.RecordEventProcessed(event.Action, StatusCompleted)
		return nil
	}

	var handlerErr error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID).
				Msg("Handler failed")
			handlerErr = err
			// Continue executing other handlers
		}
	}

	status := StatusCompleted
	if handlerErr != nil {
		status = StatusFailed
	}

	if err := bus.store.UpdateStatus(ctx, event.ID, status); err != nil {
		return fmt.Errorf("updating event status to %s: %w", status, err)
	}
	metrics.RecordEventProcessed(event.Action, status)

	log.Debug().
		Str("event_id", event.ID).
		Str("status", status).
		Int("handlers", len(handlers)).
		Msg("Event processed")

	return handlerErr
}

// findHandlers finds all handlers matching the event.
func (bus *EventBus) findHandlers(event *Event) []EventHandler {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	var handlers []EventHandler

	keys := []string{
		bus.makeKey(event.Type, event.Source, event.Action),
		bus.makeKey(event.Type, "*", event.Action),
		bus.makeKey(event.Type, event.Source, "*"),
		bus.makeKey(event.Type, "*", "*"),
	}
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		handlers = append(handlers, bus.subscribers[key]...)
	}

	return handlers
}

// makeKey creates a subscription key.
func (bus *EventBus) makeKey(eventType EventType, source, action string) string {
	return fmt.Sprintf("%s:%s:%s", eventType, source, action)
}

// processLoop periodically processes pending events.
func (bus *EventBus) processLoop(ctx context.Context, interval time.Duration) {
	defer bus.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := bus.ProcessPending(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to process pending events")
			}
		}
	}
}

// cleanupLoop periodically removes old events.
func (bus *EventBus) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer bus.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := bus.Cleanup(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old events")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("Cleaned up old events")
			}
		}
	}
}
