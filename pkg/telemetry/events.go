package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle event emitted by the registry, resolver or host.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	// Source identifies the emitting component (registry, resolver, config, policy).
	Source string `json:"source"`

	Scope     string `json:"scope,omitempty"`
	Function  string `json:"function,omitempty"`
	Path      string `json:"path,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message string `json:"message"`

	// Level is info, warning or error.
	Level string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeFunctionRegistered   = "function.registered"
	EventTypeFunctionUnregistered = "function.unregistered"
	EventTypeCacheCleared         = "cache.cleared"
	EventTypeRegistryCleared      = "registry.cleared"
	EventTypeResolutionFailed     = "resolution.failed"
	EventTypePolicyDenied         = "policy.denied"
	EventTypeConfigReloaded       = "config.reloaded"
	EventTypeError                = "error"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// ErrEventBufferFull is returned by Publish when the async buffer is full.
var ErrEventBufferFull = errors.New("event buffer full, event dropped")

// EventSubscriber handles a delivered event.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. A nil or disabled
// publisher accepts and drops every event.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

func (ep *EventPublisher) enabled() bool {
	return ep != nil && ep.config.Enabled
}

// Publish delivers an event to all subscribers. In async mode the event is
// queued and ErrEventBufferFull is returned when the queue is full.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.enabled() {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return ErrEventBufferFull
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishFunctionRegistered publishes a function registration.
func (ep *EventPublisher) PublishFunctionRegistered(name, scope string) error {
	return ep.Publish(Event{
		Type:     EventTypeFunctionRegistered,
		Source:   "registry",
		Function: name,
		Scope:    scope,
		Message:  fmt.Sprintf("Function %s registered with scope %s", name, scope),
		Level:    EventLevelInfo,
	})
}

// PublishFunctionUnregistered publishes a function removal.
func (ep *EventPublisher) PublishFunctionUnregistered(name string) error {
	return ep.Publish(Event{
		Type:     EventTypeFunctionUnregistered,
		Source:   "registry",
		Function: name,
		Message:  fmt.Sprintf("Function %s unregistered", name),
		Level:    EventLevelInfo,
	})
}

// PublishCacheCleared publishes a STARTUP cache reset.
func (ep *EventPublisher) PublishCacheCleared(entries int) error {
	return ep.Publish(Event{
		Type:    EventTypeCacheCleared,
		Source:  "registry",
		Message: fmt.Sprintf("Startup cache cleared (%d entries)", entries),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"entries": entries,
		},
	})
}

// PublishRegistryCleared publishes a full registry reset.
func (ep *EventPublisher) PublishRegistryCleared(functions int) error {
	return ep.Publish(Event{
		Type:    EventTypeRegistryCleared,
		Source:  "registry",
		Message: fmt.Sprintf("Registry cleared (%d functions)", functions),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"functions": functions,
		},
	})
}

// PublishResolutionFailed publishes an aborted resolution pass.
func (ep *EventPublisher) PublishResolutionFailed(scope, code, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeResolutionFailed,
		Source:  "resolver",
		Scope:   scope,
		Message: fmt.Sprintf("Resolution failed in %s scope: %s", scope, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"code":   code,
			"reason": reason,
		},
	})
}

// PublishPolicyDenied publishes an access policy denial for a path or function.
func (ep *EventPublisher) PublishPolicyDenied(kind, target, scope, reason string) error {
	ev := Event{
		Type:    EventTypePolicyDenied,
		Source:  "policy",
		Scope:   scope,
		Message: fmt.Sprintf("Access to %s %s denied: %s", kind, target, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"kind":   kind,
			"reason": reason,
		},
	}
	if kind == "function" {
		ev.Function = target
	} else {
		ev.Path = target
	}
	return ep.Publish(ev)
}

// PublishConfigReloaded publishes a configuration reload result.
func (ep *EventPublisher) PublishConfigReloaded(source string, err error) error {
	ev := Event{
		Type:    EventTypeConfigReloaded,
		Source:  "config",
		Message: fmt.Sprintf("Configuration reloaded from %s", source),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"source": source,
		},
	}
	if err != nil {
		ev.Level = EventLevelError
		ev.Message = fmt.Sprintf("Configuration reload from %s failed: %v", source, err)
		ev.Data["error"] = err.Error()
	}
	return ep.Publish(ev)
}

// Subscribe adds a subscriber. filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents drains the buffer in batches until shutdown.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-tick:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						ep.flushBatch(batch)
					}
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent calls each matching subscriber in registration order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering queued events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.enabled() {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel allows events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType allows only the given event types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByFunction allows only events about one compute function.
func FilterByFunction(name string) EventFilter {
	return func(event Event) bool {
		return event.Function == name
	}
}

// FilterByScope allows only events tagged with scope.
func FilterByScope(scope string) EventFilter {
	return func(event Event) bool {
		return event.Scope == scope
	}
}
