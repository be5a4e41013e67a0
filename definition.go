package runner

import (
	"context"
	"fmt"

	"github.com/bluelibs/runner-go/internal/meta"
	"github.com/bluelibs/runner-go/internal/schema"
)

// Identifiable is implemented by every registrable component: tasks,
// resources, events, hooks, middleware, tags, errors, async contexts.
type Identifiable interface {
	ID() string
	Kind() Kind
}

// Deps is the resolved dependency map handed to run/init/dispose functions,
// keyed by the alias each Dependencies map used at definition time. This is
// the "typed builder API" design note's dynamic-map counterpart (§9): Go's
// lack of first-class structural records makes a literal typed Deps record
// per component impractical without codegen, so resolution stays map-based
// and callers use the generic DepsGet[T] helper for a typed read.
type Deps map[string]any

// DepsGet reads id from deps and asserts it to T, producing a descriptive
// error instead of panicking on a bad assertion.
func DepsGet[T any](deps Deps, id string) (T, error) {
	var zero T
	v, ok := deps[id]
	if !ok {
		return zero, fmt.Errorf("dependency %q was not resolved", id)
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("dependency %q has type %T, want %T", id, v, zero)
	}
	return typed, nil
}

// Dependencies maps a local alias to the definition it refers to; the
// resolver turns this into a Deps map of the same aliases at resolve time.
type Dependencies map[string]Identifiable

// DependenciesFactory builds a Dependencies map from a resource's bound
// config — used when a resource's dependency set varies by configuration.
type DependenciesFactory func(config any) Dependencies

// ---- TaskDefinition ----------------------------------------------------

type TaskDefinition struct {
	id                  string
	dependencies        Dependencies
	dependenciesFactory DependenciesFactory
	middleware          []MiddlewareAttachment
	inputSchema         schema.Schema
	run                 func(ctx context.Context, input any, deps Deps) (any, error)
	meta                *meta.Bag
	tags                []TagAttachment
	throws              []*ErrorDefinition

	beforeRun *EventDefinition
	afterRun  *EventDefinition
	onError   *EventDefinition
}

func (t *TaskDefinition) ID() string                      { return t.id }
func (t *TaskDefinition) Kind() Kind                       { return KindTask }
func (t *TaskDefinition) TagAttachments() []TagAttachment  { return t.tags }
func (t *TaskDefinition) Meta() *meta.Bag                  { return t.meta }
func (t *TaskDefinition) BeforeRun() *EventDefinition      { return t.beforeRun }
func (t *TaskDefinition) AfterRun() *EventDefinition       { return t.afterRun }
func (t *TaskDefinition) OnErrorEvent() *EventDefinition   { return t.onError }
func (t *TaskDefinition) Throws() []*ErrorDefinition       { return t.throws }

// resolveDependencies returns this task's dependency map; tasks never take a
// config, so the factory form (if present) is called with nil.
func (t *TaskDefinition) resolveDependencies() Dependencies {
	if t.dependenciesFactory != nil {
		return t.dependenciesFactory(nil)
	}
	return t.dependencies
}

type TaskOption func(*TaskDefinition)

func WithTaskDependencies(deps Dependencies) TaskOption {
	return func(t *TaskDefinition) { t.dependencies = deps }
}

func WithTaskDependenciesFactory(f DependenciesFactory) TaskOption {
	return func(t *TaskDefinition) { t.dependenciesFactory = f }
}

func WithTaskMiddleware(attachments ...MiddlewareAttachment) TaskOption {
	return func(t *TaskDefinition) { t.middleware = append(t.middleware, attachments...) }
}

func WithTaskInputSchema(s schema.Schema) TaskOption {
	return func(t *TaskDefinition) { t.inputSchema = s }
}

func WithTaskMeta(key string, value any) TaskOption {
	return func(t *TaskDefinition) { t.meta.Set(key, value) }
}

func WithTaskTags(attachments ...TagAttachment) TaskOption {
	return func(t *TaskDefinition) { t.tags = append(t.tags, attachments...) }
}

func WithTaskThrows(errs ...*ErrorDefinition) TaskOption {
	return func(t *TaskDefinition) { t.throws = append(t.throws, errs...) }
}

// Task defines a callable unit of computation. I is the input type, O the
// output type; both are erased to `any` internally and restored via type
// assertion at the call boundary, mirroring the teacher's mainExecutor
// pattern of wrapping a typed factory behind an `any`-returning closure.
func Task[I any, O any](id string, run func(ctx context.Context, input I, deps Deps) (O, error), opts ...TaskOption) *TaskDefinition {
	id = withID(id, KindTask)
	td := &TaskDefinition{
		id:   id,
		meta: meta.NewBag(),
		run: func(ctx context.Context, input any, deps Deps) (any, error) {
			typedInput, _ := input.(I)
			return run(ctx, typedInput, deps)
		},
	}
	td.beforeRun = NewEvent(id + ".beforeRun")
	td.afterRun = NewEvent(id + ".afterRun")
	td.onError = NewEvent(id + ".onError")
	for _, opt := range opts {
		opt(td)
	}
	return td
}

// ---- ResourceDefinition --------------------------------------------------

type ResourceDefinition struct {
	id                  string
	dependencies        Dependencies
	dependenciesFactory DependenciesFactory
	register            []any
	registerFactory     func(config any) []any
	middleware          []MiddlewareAttachment
	contextFactory      func() any
	init                func(ctx context.Context, config any, deps Deps, rctx any) (any, error)
	dispose             func(ctx context.Context, value any, config any, deps Deps, rctx any) error
	configSchema        schema.Schema
	resultSchema        schema.Schema
	meta                *meta.Bag
	tags                []TagAttachment
	throws              []*ErrorDefinition

	beforeInit *EventDefinition
	afterInit  *EventDefinition
	onError    *EventDefinition
}

func (r *ResourceDefinition) ID() string                     { return r.id }
func (r *ResourceDefinition) Kind() Kind                      { return KindResource }
func (r *ResourceDefinition) TagAttachments() []TagAttachment { return r.tags }
func (r *ResourceDefinition) Meta() *meta.Bag                 { return r.meta }
func (r *ResourceDefinition) BeforeInit() *EventDefinition    { return r.beforeInit }
func (r *ResourceDefinition) AfterInit() *EventDefinition     { return r.afterInit }
func (r *ResourceDefinition) OnErrorEvent() *EventDefinition  { return r.onError }
func (r *ResourceDefinition) Throws() []*ErrorDefinition      { return r.throws }

func (r *ResourceDefinition) dependenciesFor(config any) Dependencies {
	if r.dependenciesFactory != nil {
		return r.dependenciesFactory(config)
	}
	return r.dependencies
}

func (r *ResourceDefinition) registerFor(config any) []any {
	if r.registerFactory != nil {
		return r.registerFactory(config)
	}
	return r.register
}

type ResourceOption func(*ResourceDefinition)

func WithResourceDependencies(deps Dependencies) ResourceOption {
	return func(r *ResourceDefinition) { r.dependencies = deps }
}

func WithResourceDependenciesFactory(f DependenciesFactory) ResourceOption {
	return func(r *ResourceDefinition) { r.dependenciesFactory = f }
}

// WithResourceRegister accepts any mix of Identifiable children (tasks,
// resources, bound resources, events, hooks, middleware, tags, errors) and
// *Override entries.
func WithResourceRegister(children ...any) ResourceOption {
	return func(r *ResourceDefinition) { r.register = append(r.register, children...) }
}

func WithResourceRegisterFactory(f func(config any) []any) ResourceOption {
	return func(r *ResourceDefinition) { r.registerFactory = f }
}

func WithResourceMiddleware(attachments ...MiddlewareAttachment) ResourceOption {
	return func(r *ResourceDefinition) { r.middleware = append(r.middleware, attachments...) }
}

func WithResourceContext(f func() any) ResourceOption {
	return func(r *ResourceDefinition) { r.contextFactory = f }
}

func WithResourceConfigSchema(s schema.Schema) ResourceOption {
	return func(r *ResourceDefinition) { r.configSchema = s }
}

func WithResourceResultSchema(s schema.Schema) ResourceOption {
	return func(r *ResourceDefinition) { r.resultSchema = s }
}

func WithResourceDispose(f func(ctx context.Context, value any, config any, deps Deps, rctx any) error) ResourceOption {
	return func(r *ResourceDefinition) { r.dispose = f }
}

func WithResourceTags(attachments ...TagAttachment) ResourceOption {
	return func(r *ResourceDefinition) { r.tags = append(r.tags, attachments...) }
}

func WithResourceThrows(errs ...*ErrorDefinition) ResourceOption {
	return func(r *ResourceDefinition) { r.throws = append(r.throws, errs...) }
}

func WithResourceMeta(key string, value any) ResourceOption {
	return func(r *ResourceDefinition) { r.meta.Set(key, value) }
}

// Resource defines a long-lived, dependency-injected component. C is the
// config type, V the produced value type.
func Resource[C any, V any](id string, init func(ctx context.Context, config C, deps Deps, rctx any) (V, error), opts ...ResourceOption) *ResourceDefinition {
	id = withID(id, KindResource)
	rd := &ResourceDefinition{
		id:   id,
		meta: meta.NewBag(),
		init: func(ctx context.Context, config any, deps Deps, rctx any) (any, error) {
			typedConfig, _ := config.(C)
			return init(ctx, typedConfig, deps, rctx)
		},
	}
	rd.beforeInit = NewEvent(id + ".beforeInit")
	rd.afterInit = NewEvent(id + ".afterInit")
	rd.onError = NewEvent(id + ".onError")
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// BoundResource pairs a ResourceDefinition with a validated config, produced
// by ResourceDefinition.With. It satisfies Identifiable by delegating to the
// underlying definition so it can sit directly in a register list.
type BoundResource struct {
	Definition *ResourceDefinition
	Config     any
}

func (b BoundResource) ID() string { return b.Definition.id }
func (b BoundResource) Kind() Kind { return KindResource }

// With validates config against the resource's configSchema (when present)
// and returns a bound, registrable instance.
func (r *ResourceDefinition) With(config any) (BoundResource, error) {
	validated, err := validateWith(r.configSchema, KindResource, r.id, config)
	if err != nil {
		return BoundResource{}, err
	}
	return BoundResource{Definition: r, Config: validated}, nil
}

// MustWith is With but panics on validation failure.
func (r *ResourceDefinition) MustWith(config any) BoundResource {
	b, err := r.With(config)
	if err != nil {
		panic(err)
	}
	return b
}

// ---- EventDefinition ------------------------------------------------------

type EventDefinition struct {
	id            string
	payloadSchema schema.Schema
	tags          []TagAttachment
}

func (e *EventDefinition) ID() string                      { return e.id }
func (e *EventDefinition) Kind() Kind                       { return KindEvent }
func (e *EventDefinition) TagAttachments() []TagAttachment { return e.tags }

type EventOption func(*EventDefinition)

func WithEventPayloadSchema(s schema.Schema) EventOption {
	return func(e *EventDefinition) { e.payloadSchema = s }
}

func WithEventTags(attachments ...TagAttachment) EventOption {
	return func(e *EventDefinition) { e.tags = append(e.tags, attachments...) }
}

// NewEvent defines a typed pub/sub channel.
func NewEvent(id string, opts ...EventOption) *EventDefinition {
	id = withID(id, KindEvent)
	ed := &EventDefinition{id: id}
	for _, opt := range opts {
		opt(ed)
	}
	return ed
}

// ---- HookDefinition ---------------------------------------------------

// HookTarget selects which event(s) a hook listens to: a concrete set, or
// the wildcard "*".
type HookTarget struct {
	events   []*EventDefinition
	wildcard bool
}

// OnEvents targets one or more concrete events.
func OnEvents(events ...*EventDefinition) HookTarget { return HookTarget{events: events} }

// OnAnyEvent targets the "*" wildcard.
func OnAnyEvent() HookTarget { return HookTarget{wildcard: true} }

type HookDefinition struct {
	id                  string
	on                  HookTarget
	order               int
	dependencies        Dependencies
	dependenciesFactory DependenciesFactory
	run                 func(ctx context.Context, event *EventRecord, deps Deps) error
}

func (h *HookDefinition) ID() string { return h.id }
func (h *HookDefinition) Kind() Kind { return KindHook }

func (h *HookDefinition) resolveDependencies() Dependencies {
	if h.dependenciesFactory != nil {
		return h.dependenciesFactory(nil)
	}
	return h.dependencies
}

type HookOption func(*HookDefinition)

func WithHookOrder(order int) HookOption {
	return func(h *HookDefinition) { h.order = order }
}

func WithHookDependencies(deps Dependencies) HookOption {
	return func(h *HookDefinition) { h.dependencies = deps }
}

func WithHookDependenciesFactory(f DependenciesFactory) HookOption {
	return func(h *HookDefinition) { h.dependenciesFactory = f }
}

// Hook defines a lightweight event listener with no middleware.
func Hook(id string, on HookTarget, run func(ctx context.Context, event *EventRecord, deps Deps) error, opts ...HookOption) *HookDefinition {
	id = withID(id, KindHook)
	hd := &HookDefinition{id: id, on: on, run: run}
	for _, opt := range opts {
		opt(hd)
	}
	return hd
}

// ---- MiddlewareDefinition -----------------------------------------------

type MiddlewareKind string

const (
	MiddlewareKindTask     MiddlewareKind = "task"
	MiddlewareKindResource MiddlewareKind = "resource"
)

// MiddlewareNext invokes the remainder of the chain with a (possibly
// rewritten) input/config, returning the eventual task output / init value.
type MiddlewareNext func(input any) (any, error)

// MiddlewareInput is what a middleware's run function receives to describe
// the operation it wraps.
type MiddlewareInput struct {
	TaskDefinition     *TaskDefinition
	ResourceDefinition *ResourceDefinition
	Input              any // task input, or resource config
}

type MiddlewareDefinition struct {
	id                  string
	middlewareKind      MiddlewareKind
	dependencies        Dependencies
	dependenciesFactory DependenciesFactory
	configSchema        schema.Schema
	run                 func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps, config any) (any, error)
	everywhere          bool
	everywherePredicate func(target Identifiable) bool
	meta                *meta.Bag
	tags                []TagAttachment
	throws              []*ErrorDefinition
}

func (m *MiddlewareDefinition) ID() string                      { return m.id }
func (m *MiddlewareDefinition) Kind() Kind                       { return KindMiddleware }
func (m *MiddlewareDefinition) TagAttachments() []TagAttachment { return m.tags }
func (m *MiddlewareDefinition) MiddlewareKindOf() MiddlewareKind { return m.middlewareKind }
func (m *MiddlewareDefinition) Meta() *meta.Bag                  { return m.meta }

func (m *MiddlewareDefinition) resolveDependencies() Dependencies {
	if m.dependenciesFactory != nil {
		return m.dependenciesFactory(nil)
	}
	return m.dependencies
}

// appliesGlobally reports whether this middleware applies to every task/resource
// not in its own exclusion subtree (everywhere==true, or the predicate
// matches the target).
func (m *MiddlewareDefinition) appliesGlobally(target Identifiable) bool {
	if m.everywherePredicate != nil {
		return m.everywherePredicate(target)
	}
	return m.everywhere
}

type MiddlewareOption func(*MiddlewareDefinition)

func WithMiddlewareDependencies(deps Dependencies) MiddlewareOption {
	return func(m *MiddlewareDefinition) { m.dependencies = deps }
}

func WithMiddlewareConfigSchema(s schema.Schema) MiddlewareOption {
	return func(m *MiddlewareDefinition) { m.configSchema = s }
}

// WithMiddlewareEverywhere makes this middleware a global middleware applied
// to every task/resource of its kind (minus its own dependency subtree).
func WithMiddlewareEverywhere() MiddlewareOption {
	return func(m *MiddlewareDefinition) { m.everywhere = true }
}

// WithMiddlewareEverywherePredicate is like WithMiddlewareEverywhere but
// scopes application to targets matching predicate.
func WithMiddlewareEverywherePredicate(predicate func(target Identifiable) bool) MiddlewareOption {
	return func(m *MiddlewareDefinition) { m.everywherePredicate = predicate }
}

func WithMiddlewareTags(attachments ...TagAttachment) MiddlewareOption {
	return func(m *MiddlewareDefinition) { m.tags = append(m.tags, attachments...) }
}

func WithMiddlewareThrows(errs ...*ErrorDefinition) MiddlewareOption {
	return func(m *MiddlewareDefinition) { m.throws = append(m.throws, errs...) }
}

func WithMiddlewareMeta(key string, value any) MiddlewareOption {
	return func(m *MiddlewareDefinition) { m.meta.Set(key, value) }
}

func TaskMiddleware(id string, run func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps, config any) (any, error), opts ...MiddlewareOption) *MiddlewareDefinition {
	return newMiddleware(id, MiddlewareKindTask, run, opts...)
}

func ResourceMiddleware(id string, run func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps, config any) (any, error), opts ...MiddlewareOption) *MiddlewareDefinition {
	return newMiddleware(id, MiddlewareKindResource, run, opts...)
}

func newMiddleware(id string, kind MiddlewareKind, run func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps, config any) (any, error), opts ...MiddlewareOption) *MiddlewareDefinition {
	if id == "" {
		// skip 3: anonymousID, newMiddleware, Task/ResourceMiddleware, caller.
		id = anonymousIDs.anonymousID(KindMiddleware, 3)
	}
	md := &MiddlewareDefinition{id: id, middlewareKind: kind, meta: meta.NewBag(), run: run}
	for _, opt := range opts {
		opt(md)
	}
	return md
}

// MiddlewareAttachment pairs a middleware definition with the config it was
// attached with at a specific task/resource.
type MiddlewareAttachment struct {
	Definition *MiddlewareDefinition
	Config     any
}

// With validates config against the middleware's configSchema and returns
// an attachment to place in a task/resource's middleware list.
func (m *MiddlewareDefinition) With(config any) (MiddlewareAttachment, error) {
	validated, err := validateWith(m.configSchema, KindMiddleware, m.id, config)
	if err != nil {
		return MiddlewareAttachment{}, err
	}
	return MiddlewareAttachment{Definition: m, Config: validated}, nil
}

func (m *MiddlewareDefinition) MustWith(config any) MiddlewareAttachment {
	att, err := m.With(config)
	if err != nil {
		panic(err)
	}
	return att
}

// ---- ErrorDefinition ------------------------------------------------------

type ErrorDefinition struct {
	id         string
	dataSchema schema.Schema
}

func (e *ErrorDefinition) ID() string { return e.id }
func (e *ErrorDefinition) Kind() Kind { return KindError }

type ErrorOption func(*ErrorDefinition)

func WithErrorDataSchema(s schema.Schema) ErrorOption {
	return func(e *ErrorDefinition) { e.dataSchema = s }
}

// NewErrorDefinition defines a named error kind.
func NewErrorDefinition(id string, opts ...ErrorOption) *ErrorDefinition {
	ed := &ErrorDefinition{id: id}
	for _, opt := range opts {
		opt(ed)
	}
	return ed
}

// DefinedError is the concrete error value thrown by ErrorDefinition.Throw.
// Its name is the owning definition's id; its message comes from data when
// data exposes a Message() string method, else it is "<id>: <data>".
type DefinedError struct {
	frameworkError
	Name string
	Data any
	def  *ErrorDefinition
}

func (e *DefinedError) Error() string {
	if msg, ok := e.Data.(interface{ Message() string }); ok {
		return msg.Message()
	}
	return fmt.Sprintf("%s: %v", e.Name, e.Data)
}

// Throw validates data against dataSchema (if present) and returns a
// *DefinedError carrying it.
func (e *ErrorDefinition) Throw(data any) error {
	validated, err := validateWith(e.dataSchema, KindError, e.id, data)
	if err != nil {
		return err
	}
	return &DefinedError{frameworkError: newFrameworkError(), Name: e.id, Data: validated, def: e}
}

// Is reports whether err was thrown by this definition.
func (e *ErrorDefinition) Is(err error) bool {
	de, ok := err.(*DefinedError)
	return ok && de.def == e
}
