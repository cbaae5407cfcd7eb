// Package hooks lets an embedding application observe the engine's
// pipeline — writes, seals, checkpoints, deletes, queries — without
// modifying it.
package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/waffledb/waffledb/core"
)

// EventType identifies a point in the engine's pipeline.
type EventType string

const (
	EventPreWrite  EventType = "PreWrite"
	EventPostWrite EventType = "PostWrite"

	EventPreSeal  EventType = "PreSeal"
	EventPostSeal EventType = "PostSeal"

	EventPreCheckpoint  EventType = "PreCheckpoint"
	EventPostCheckpoint EventType = "PostCheckpoint"

	EventPreDeleteMetric  EventType = "PreDeleteMetric"
	EventPostDeleteMetric EventType = "PostDeleteMetric"

	EventPreQuery  EventType = "PreQuery"
	EventPostQuery EventType = "PostQuery"

	EventPreStartEngine  EventType = "PreStartEngine"
	EventPostStartEngine EventType = "PostStartEngine"
	EventPreCloseEngine  EventType = "PreCloseEngine"
	EventPostCloseEngine EventType = "PostCloseEngine"
)

// HookManager registers and fires listeners for pipeline events.
type HookManager interface {
	Register(eventType EventType, listener HookListener)
	Trigger(ctx context.Context, event HookEvent) error
	Stop()
}

// HookEvent is the interface every event object implements.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent is the common HookEvent implementation.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PreWritePayload carries the sample about to be admitted to the
// ingest queue; Sample is a pointer so a listener can reject or mutate it.
type PreWritePayload struct {
	Sample *core.Sample
}

func NewPreWriteEvent(p PreWritePayload) HookEvent {
	return &BaseEvent{eventType: EventPreWrite, payload: p}
}

// PostWritePayload reports the outcome of an admitted write.
type PostWritePayload struct {
	Sample core.Sample
	Error  error
}

func NewPostWriteEvent(p PostWritePayload) HookEvent {
	return &BaseEvent{eventType: EventPostWrite, payload: p}
}

// PreSealPayload carries the chunk about to be sealed.
type PreSealPayload struct {
	Metric string
	ChunkID uint64
}

func NewPreSealEvent(p PreSealPayload) HookEvent {
	return &BaseEvent{eventType: EventPreSeal, payload: p}
}

// PostSealPayload reports a completed seal, including counts fed to
// the adaptive index.
type PostSealPayload struct {
	Metric   string
	ChunkID  uint64
	Count    int
	MinTS    int64
	MaxTS    int64
	Error    error
}

func NewPostSealEvent(p PostSealPayload) HookEvent {
	return &BaseEvent{eventType: EventPostSeal, payload: p}
}

type PreCheckpointPayload struct{}

func NewPreCheckpointEvent() HookEvent {
	return &BaseEvent{eventType: EventPreCheckpoint, payload: PreCheckpointPayload{}}
}

type PostCheckpointPayload struct {
	Error error
}

func NewPostCheckpointEvent(p PostCheckpointPayload) HookEvent {
	return &BaseEvent{eventType: EventPostCheckpoint, payload: p}
}

type PreDeleteMetricPayload struct {
	Metric *string
}

func NewPreDeleteMetricEvent(p PreDeleteMetricPayload) HookEvent {
	return &BaseEvent{eventType: EventPreDeleteMetric, payload: p}
}

type PostDeleteMetricPayload struct {
	Metric string
	Error  error
}

func NewPostDeleteMetricEvent(p PostDeleteMetricPayload) HookEvent {
	return &BaseEvent{eventType: EventPostDeleteMetric, payload: p}
}

type PreQueryPayload struct {
	Metric string
	Lo, Hi int64
	Tags   map[string]string
}

func NewPreQueryEvent(p PreQueryPayload) HookEvent {
	return &BaseEvent{eventType: EventPreQuery, payload: p}
}

type PostQueryPayload struct {
	Metric    string
	ResultLen int
	Duration  time.Duration
	Error     error
}

func NewPostQueryEvent(p PostQueryPayload) HookEvent {
	return &BaseEvent{eventType: EventPostQuery, payload: p}
}

type EngineLifecyclePayload struct{}

func NewPreStartEngineEvent() HookEvent {
	return &BaseEvent{eventType: EventPreStartEngine, payload: EngineLifecyclePayload{}}
}
func NewPostStartEngineEvent() HookEvent {
	return &BaseEvent{eventType: EventPostStartEngine, payload: EngineLifecyclePayload{}}
}
func NewPreCloseEngineEvent() HookEvent {
	return &BaseEvent{eventType: EventPreCloseEngine, payload: EngineLifecyclePayload{}}
}
func NewPostCloseEngineEvent() HookEvent {
	return &BaseEvent{eventType: EventPostCloseEngine, payload: EngineLifecyclePayload{}}
}

// HookListener is implemented by components that observe pipeline events.
type HookListener interface {
	OnEvent(ctx context.Context, event HookEvent) error
	Priority() int
	IsAsync() bool
}

type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager dispatches events to listeners in priority order.
// Pre-hooks always run synchronously so a listener can cancel the
// operation by returning an error; Post-hooks run synchronously or
// asynchronously per listener preference.
type DefaultHookManager struct {
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup
	logger    *slog.Logger
}

func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{listener: listener, priority: listener.Priority()}
	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool { return l[i].priority >= item.priority })
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item
	m.listeners[eventType] = l
}

func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners, ok := m.listeners[event.Type()]
	m.mu.RUnlock()
	if !ok || len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")
	for _, item := range listeners {
		if isPreHook || !item.listener.IsAsync() {
			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("post-hook listener failed", "event", event.Type(), "priority", item.priority, "error", err)
			}
			continue
		}
		m.wg.Add(1)
		go func(it *listenerWithPriority) {
			defer m.wg.Done()
			if err := it.listener.OnEvent(ctx, event); err != nil {
				m.logger.Error("async post-hook listener failed", "event", event.Type(), "priority", it.priority, "error", err)
			}
		}(item)
	}
	return nil
}

func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
