package runner

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// EventRecord is what every listener receives for one emission.
type EventRecord struct {
	ID        string
	Data      any
	Source    string
	Timestamp time.Time

	stopped   atomic.Bool
	suppress  atomic.Bool
	isErrorEv bool
}

// StopPropagation halts further listener execution for this emission.
func (r *EventRecord) StopPropagation() { r.stopped.Store(true) }

func (r *EventRecord) propagationStopped() bool { return r.stopped.Load() }

// Suppress converts a task's error into a nil return. Only meaningful when
// this record backs an onError emission; calling it elsewhere is a no-op on
// the caller's behalf (TaskRunner only consults it on onError records).
func (r *EventRecord) Suppress() { r.suppress.Store(true) }

func (r *EventRecord) suppressed() bool { return r.suppress.Load() }

// eventChainKey carries the causal chain of in-flight event ids so re-entry
// on the same chain can be detected without a recursive call stack check.
type eventChainKey struct{}

func chainFrom(ctx context.Context) []string {
	chain, _ := ctx.Value(eventChainKey{}).([]string)
	return chain
}

func pushChain(ctx context.Context, id string) context.Context {
	chain := append(append([]string{}, chainFrom(ctx)...), id)
	return context.WithValue(ctx, eventChainKey{}, chain)
}

func chainContains(ctx context.Context, id string) bool {
	for _, c := range chainFrom(ctx) {
		if c == id {
			return true
		}
	}
	return false
}

type listenerEntry struct {
	sourceID          string
	order             int
	registrationIndex int
	run               func(ctx context.Context, rec *EventRecord) error
}

// EventInterceptor wraps every emission; HookInterceptor wraps one listener
// dispatch.
type EventInterceptor func(ctx context.Context, rec *EventRecord, next func() error) error
type HookInterceptor func(ctx context.Context, hookID string, rec *EventRecord, next func() error) error

// EventManager implements typed pub/sub with ordered listeners, wildcard
// fan-out, propagation control, and ambient cycle detection. Grounded on the
// teacher's ReactiveGraph dispatch loop (graph.go), replacing reactive
// dependent-notification with explicit listener registration.
type EventManager struct {
	mu        sync.Mutex
	events    map[string]*EventDefinition
	listeners map[string][]*listenerEntry
	wildcard  []*listenerEntry
	regSeq    int
	locked    bool

	interceptors     []EventInterceptor
	hookInterceptors []HookInterceptor

	excludeTag *TagDefinition
	logger     *Logger
}

func NewEventManager(logger *Logger) *EventManager {
	return &EventManager{
		events:    make(map[string]*EventDefinition),
		listeners: make(map[string][]*listenerEntry),
		logger:    logger,
	}
}

// SetExcludeFromGlobalHooksTag wires the tag whose presence on an event
// definition skips wildcard dispatch for that event. Set once by the boot
// controller, which owns the globals bundle the tag comes from.
func (m *EventManager) SetExcludeFromGlobalHooksTag(tag *TagDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.excludeTag = tag
}

func (m *EventManager) registerEvent(def *EventDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[def.id] = def
}

// AddListener attaches handler to eventID ("*" for wildcard), run only
// before lockdown.
func (m *EventManager) AddListener(eventID string, sourceID string, order int, run func(ctx context.Context, rec *EventRecord) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return &LockdownViolationError{frameworkError: newFrameworkError(), Operation: "addListener"}
	}
	entry := &listenerEntry{sourceID: sourceID, order: order, registrationIndex: m.regSeq, run: run}
	m.regSeq++
	if eventID == "*" {
		m.wildcard = append(m.wildcard, entry)
		sortListeners(m.wildcard)
		return nil
	}
	m.listeners[eventID] = append(m.listeners[eventID], entry)
	sortListeners(m.listeners[eventID])
	return nil
}

func sortListeners(entries []*listenerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].order != entries[j].order {
			return entries[i].order < entries[j].order
		}
		return entries[i].registrationIndex < entries[j].registrationIndex
	})
}

func (m *EventManager) Intercept(i EventInterceptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interceptors = append(m.interceptors, i)
}

func (m *EventManager) InterceptHook(i HookInterceptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hookInterceptors = append(m.hookInterceptors, i)
}

func (m *EventManager) lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = true
}

// Emit dispatches payload to eventID's listeners, then to wildcard listeners
// unless the event definition carries the excludeFromGlobalHooks tag.
// source identifies the emitter for the self-suppression rule.
func (m *EventManager) Emit(ctx context.Context, eventID string, payload any, source string) error {
	_, err := m.EmitRecord(ctx, eventID, payload, source)
	return err
}

// EmitRecord is Emit but also returns the dispatched *EventRecord so the
// caller can inspect suppressed() — used by TaskRunner's onError handling,
// where suppression has to be observed after dispatch completes.
func (m *EventManager) EmitRecord(ctx context.Context, eventID string, payload any, source string) (*EventRecord, error) {
	if chainContains(ctx, eventID) {
		chain := append(append([]string{}, chainFrom(ctx)...), eventID)
		return nil, &EventCycleError{frameworkError: newFrameworkError(), EventID: eventID, Chain: chain}
	}

	m.mu.Lock()
	def := m.events[eventID]
	listeners := append([]*listenerEntry{}, m.listeners[eventID]...)
	wildcard := append([]*listenerEntry{}, m.wildcard...)
	interceptors := append([]EventInterceptor{}, m.interceptors...)
	hookInterceptors := append([]HookInterceptor{}, m.hookInterceptors...)
	excludeTag := m.excludeTag
	m.mu.Unlock()

	excludeFromGlobalHooks := def != nil && excludeTag != nil && excludeTag.Exists(def)

	validated := payload
	if def != nil && def.payloadSchema != nil {
		v, err := validateWith(def.payloadSchema, KindEvent, eventID, payload)
		if err != nil {
			return nil, err
		}
		validated = v
	}

	rec := &EventRecord{ID: eventID, Data: validated, Source: source, Timestamp: time.Now(), isErrorEv: isErrorEventID(eventID)}
	dispatchCtx := pushChain(ctx, eventID)

	dispatch := func() error {
		for _, l := range listeners {
			if rec.propagationStopped() {
				break
			}
			if err := m.runListener(dispatchCtx, hookInterceptors, l, rec); err != nil {
				return err
			}
		}
		if excludeFromGlobalHooks {
			return nil
		}
		for _, l := range wildcard {
			if rec.propagationStopped() {
				break
			}
			if l.sourceID != "" && l.sourceID == source {
				continue // source-spoofing self-suppression: a wildcard listener never hears its own emission
			}
			if err := m.runListener(dispatchCtx, hookInterceptors, l, rec); err != nil {
				return err
			}
		}
		return nil
	}

	err := runEventInterceptorChain(dispatchCtx, rec, interceptors, dispatch)
	return rec, err
}

func (m *EventManager) runListener(ctx context.Context, hookInterceptors []HookInterceptor, l *listenerEntry, rec *EventRecord) error {
	run := func() error { return l.run(ctx, rec) }
	for i := len(hookInterceptors) - 1; i >= 0; i-- {
		interceptor := hookInterceptors[i]
		next := run
		run = func() error { return interceptor(ctx, l.sourceID, rec, next) }
	}
	return run()
}

func runEventInterceptorChain(ctx context.Context, rec *EventRecord, interceptors []EventInterceptor, tail func() error) error {
	run := tail
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		next := run
		run = func() error { return interceptor(ctx, rec, next) }
	}
	return run()
}

func isErrorEventID(id string) bool {
	return len(id) > 8 && id[len(id)-8:] == ".onError"
}
