package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// RunOptions configures a boot. A nil *RunOptions, or any zero field, is
// valid: OnUnhandledError defaults to a no-op, DisposeTimeout to 30s, Debug
// to no debug logging, and the bool fields to false. ShutdownHooks, when
// true, disposes on SIGINT/SIGTERM. ErrorBoundary is not read by Run; no
// process-level error handler is installed.
type RunOptions struct {
	Debug          DebugMode
	LogWriter      io.Writer
	PrintStrategy  PrintStrategy
	PrintThreshold *LogLevel
	ErrorBoundary  bool
	ShutdownHooks  bool
	OnUnhandledError OnUnhandledError
	DryRun         bool
	DisposeTimeout time.Duration
}

func defaultRunOptions(opts *RunOptions) *RunOptions {
	if opts == nil {
		opts = &RunOptions{}
	}
	out := *opts
	if out.OnUnhandledError == nil {
		out.OnUnhandledError = func(err error, kind string, source string) {}
	}
	if out.DisposeTimeout <= 0 {
		out.DisposeTimeout = 30 * time.Second
	}
	return &out
}

// RunResult is the handle a successful boot returns.
type RunResult struct {
	Value            any
	Logger           *Logger
	Store            *Store
	RunTask          func(ctx context.Context, task *TaskDefinition, input any) (any, error)
	EmitEvent        func(ctx context.Context, event *EventDefinition, payload any) error
	GetResourceValue func(id string) (any, bool)

	resources *ResourceManager
	disposeMu sync.Mutex
	disposed  bool
	onErr     OnUnhandledError
	timeout   time.Duration
}

// Dispose runs every initialized resource's dispose, in reverse init order.
// A second call resolves without effect.
func (r *RunResult) Dispose(ctx context.Context) error {
	r.disposeMu.Lock()
	if r.disposed {
		r.disposeMu.Unlock()
		return nil
	}
	r.disposed = true
	r.disposeMu.Unlock()
	r.resources.DisposeAll(ctx, r.Store, r.timeout, r.onErr)
	return nil
}

// buildDependencyValueResolver turns a declared Dependencies map into
// resolved Deps: resources resolve to their live value, tasks resolve to a
// bound callable, events resolve to a bound emitter — the same type-erasure
// idiom definition.go uses for run/init closures.
func buildDependencyValueResolver(store *Store, resources *ResourceManager, tasks *TaskRunner, events *EventManager) DependencyValueResolver {
	return func(deps Dependencies) (Deps, error) {
		out := make(Deps, len(deps))
		for alias, ref := range deps {
			resolved, ok := store.resolveByRef(ref)
			if !ok {
				return nil, &UnknownDependencyError{frameworkError: newFrameworkError(), From: alias, To: ref.ID()}
			}
			switch v := resolved.(type) {
			case *ResourceDefinition:
				val, ready := resources.GetValue(v.id)
				if !ready {
					return nil, fmt.Errorf("resource %q is not yet initialized", v.id)
				}
				out[alias] = val
			case *TaskDefinition:
				task := v
				out[alias] = func(ctx context.Context, input any) (any, error) { return tasks.Run(ctx, task, input) }
			case *EventDefinition:
				ev := v
				out[alias] = func(ctx context.Context, payload any) error { return events.Emit(ctx, ev.id, payload, "") }
			default:
				out[alias] = resolved
			}
		}
		return out, nil
	}
}

// Run boots root (and its transitive register tree) and returns the runtime
// handle. This is the spec's boot controller: build Store → apply overrides
// → resolve init order → init resources → wire hooks → emit ready → lock.
func Run(ctx context.Context, root *ResourceDefinition, rootConfig any, opts *RunOptions) (*RunResult, error) {
	o := defaultRunOptions(opts)

	logger := NewLogger(o.LogWriter, o.PrintStrategy)
	if o.PrintThreshold != nil {
		logger.SetPrintThreshold(o.PrintThreshold)
	}

	store := NewStore()
	g := newGlobals()
	for _, def := range []Identifiable{
		g.Resources.Logger, g.Resources.Store, g.Resources.EventManager, g.Resources.TaskRunner,
		g.Resources.Cache, g.Resources.Serializer,
		g.Middleware.Task.Cache, g.Middleware.Task.Retry, g.Middleware.Task.Timeout,
		g.Middleware.Resource.Retry, g.Middleware.Resource.Timeout,
		g.Events.Ready,
		g.Tags.System, g.Tags.Debug, g.Tags.ExcludeFromGlobalHooks,
	} {
		if err := store.register(def); err != nil {
			return nil, err
		}
	}

	var rootEntry any = root
	if rootConfig != nil {
		bound, err := root.With(rootConfig)
		if err != nil {
			return nil, err
		}
		rootEntry = bound
	}
	if err := store.collect(rootEntry, 0); err != nil {
		return nil, err
	}
	if err := store.applyOverrides(); err != nil {
		return nil, err
	}

	resolver := NewDependencyResolver(store)
	initOrder, err := resolver.InitOrder()
	if err != nil {
		return nil, err
	}

	eventManager := NewEventManager(logger)
	eventManager.SetExcludeFromGlobalHooksTag(g.Tags.ExcludeFromGlobalHooks)
	for _, def := range store.all() {
		if ev, ok := def.(*EventDefinition); ok {
			eventManager.registerEvent(ev)
		}
	}

	middlewareManager := NewMiddlewareManager(store, resolver)
	resourceManager := NewResourceManager(middlewareManager, eventManager, logger)
	taskRunner := NewTaskRunner(middlewareManager, eventManager, logger)

	depsResolver := buildDependencyValueResolver(store, resourceManager, taskRunner, eventManager)
	resourceManager.SetDependencyResolver(depsResolver)
	taskRunner.SetDependencyResolver(depsResolver)
	middlewareManager.SetDependencyResolver(depsResolver)

	resourceManager.seed(g.Resources.Logger.id, logger)
	resourceManager.seed(g.Resources.Store.id, store)
	resourceManager.seed(g.Resources.EventManager.id, eventManager)
	resourceManager.seed(g.Resources.TaskRunner.id, taskRunner)
	bootstrapIDs := map[string]bool{
		g.Resources.Logger.id: true, g.Resources.Store.id: true,
		g.Resources.EventManager.id: true, g.Resources.TaskRunner.id: true,
	}

	if !o.DryRun {
		for _, id := range initOrder {
			if bootstrapIDs[id] {
				continue
			}
			def, _ := store.resolve(id)
			res := def.(*ResourceDefinition)
			config := store.configFor(id)
			if _, err := resourceManager.Init(ctx, res, config); err != nil {
				resourceManager.DisposeAll(ctx, store, o.DisposeTimeout, o.OnUnhandledError)
				return nil, err
			}
		}
	}

	for _, def := range store.all() {
		hook, ok := def.(*HookDefinition)
		if !ok {
			continue
		}
		h := hook
		listener := func(ctx context.Context, rec *EventRecord) error {
			deps, err := depsResolver(h.resolveDependencies())
			if err != nil {
				o.OnUnhandledError(err, "hook", h.id)
				return err
			}
			if err := h.run(ctx, rec, deps); err != nil {
				o.OnUnhandledError(err, "hook", h.id)
				return err
			}
			return nil
		}
		if h.on.wildcard {
			if err := eventManager.AddListener("*", h.id, h.order, listener); err != nil {
				return nil, err
			}
			continue
		}
		for _, ev := range h.on.events {
			if err := eventManager.AddListener(ev.id, h.id, h.order, listener); err != nil {
				return nil, err
			}
		}
	}

	installDebug(resolveDebugConfig(o.Debug), store, middlewareManager, logger)

	rootValue, _ := resourceManager.GetValue(root.id)
	if err := eventManager.Emit(ctx, g.Events.Ready.id, rootValue, "run"); err != nil {
		logger.Error("ready emission failed", err, nil)
	}

	store.lock()
	eventManager.lock()

	result := &RunResult{
		Value:     rootValue,
		Logger:    logger,
		Store:     store,
		resources: resourceManager,
		onErr:     o.OnUnhandledError,
		timeout:   o.DisposeTimeout,
	}
	result.RunTask = func(ctx context.Context, task *TaskDefinition, input any) (any, error) {
		return taskRunner.Run(ctx, task, input)
	}
	result.EmitEvent = func(ctx context.Context, event *EventDefinition, payload any) error {
		return eventManager.Emit(ctx, event.id, payload, "")
	}
	result.GetResourceValue = resourceManager.GetValue

	if o.ShutdownHooks {
		installShutdownHooks(result)
	}

	return result, nil
}

func installShutdownHooks(result *RunResult) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		ctx, cancel := context.WithTimeout(context.Background(), result.timeout)
		defer cancel()
		_ = result.Dispose(ctx)
	}()
}
