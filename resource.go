package runner

import (
	"context"
	"sync"
	"time"
)

type resourceState int

const (
	stateRegistered resourceState = iota
	stateInitializing
	stateReady
	stateDisposing
	stateDisposed
)

// OnUnhandledError reports a best-effort failure that could not otherwise
// propagate to a caller: a dispose error (reported with kind "resourceInit")
// or a hook error (kind "hook").
type OnUnhandledError func(err error, kind string, source string)

// ResourceManager drives resource init/dispose through the resource
// middleware chain, tracking each resource's lifecycle state. Adapted from
// the teacher's controller.go Controller (Get/Set/Update/invalidate single
// value box) generalized to own the full init → ready → dispose state
// machine plus lifecycle events.
type ResourceManager struct {
	middleware  *MiddlewareManager
	events      *EventManager
	logger      *Logger
	resolveDeps DependencyValueResolver

	mu           sync.Mutex
	values       map[string]any
	contexts     map[string]any
	states       map[string]resourceState
	disposeOrder []string
}

func NewResourceManager(middleware *MiddlewareManager, events *EventManager, logger *Logger) *ResourceManager {
	return &ResourceManager{
		middleware: middleware,
		events:     events,
		logger:     logger,
		values:     make(map[string]any),
		contexts:   make(map[string]any),
		states:     make(map[string]resourceState),
	}
}

func (rm *ResourceManager) SetDependencyResolver(f DependencyValueResolver) {
	rm.resolveDeps = f
}

// seed installs a pre-built value as Ready without running init or entering
// the dispose order — used for the bootstrap resources (logger, store,
// eventManager, taskRunner) that must exist before any resource, including
// themselves, can be initialized.
func (rm *ResourceManager) seed(id string, value any) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.values[id] = value
	rm.states[id] = stateReady
}

// Init runs res's middleware chain around init(config, deps, ctx) exactly
// once; a second call for an already-Ready resource returns the cached
// value.
func (rm *ResourceManager) Init(ctx context.Context, res *ResourceDefinition, config any) (any, error) {
	rm.mu.Lock()
	if rm.states[res.id] == stateReady {
		v := rm.values[res.id]
		rm.mu.Unlock()
		return v, nil
	}
	rm.states[res.id] = stateInitializing
	rm.mu.Unlock()

	deps, err := rm.resolveDeps(res.dependenciesFor(config))
	if err != nil {
		return nil, err
	}

	var rctx any
	if res.contextFactory != nil {
		rctx = res.contextFactory()
	}

	chain := rm.middleware.CompileResourceChain(res)
	mwInput := MiddlewareInput{ResourceDefinition: res}

	value, initErr := rm.middleware.RunChain(ctx, MiddlewareKindResource, res.id, chain, mwInput, deps, config,
		func(ctx context.Context, cfg any) (any, error) {
			validatedCfg := cfg
			if res.configSchema != nil {
				v, verr := validateWith(res.configSchema, KindResource, res.id, cfg)
				if verr != nil {
					return nil, verr
				}
				validatedCfg = v
			}
			if err := rm.events.Emit(ctx, res.beforeInit.id, validatedCfg, res.id); err != nil {
				return nil, err
			}
			out, err := res.init(ctx, validatedCfg, deps, rctx)
			if err != nil {
				return nil, &UserError{frameworkError: newFrameworkError(), ComponentKind: KindResource, ID: res.id, Cause: err}
			}
			if res.resultSchema != nil {
				if _, verr := validateWith(res.resultSchema, KindResource, res.id, out); verr != nil {
					return nil, verr
				}
			}
			if err := rm.events.Emit(ctx, res.afterInit.id, out, res.id); err != nil {
				return nil, err
			}
			return out, nil
		})

	if initErr != nil {
		if rec, emitErr := rm.events.EmitRecord(ctx, res.onError.id, initErr, res.id); emitErr != nil {
			rm.logger.Error("onError listener failed", emitErr, map[string]any{"resource": res.id})
		} else if rec != nil && rec.suppressed() {
			rm.logger.Warn("resource init error suppressed but still fails boot", initErr, map[string]any{"resource": res.id})
		}
		rm.mu.Lock()
		rm.states[res.id] = stateDisposed
		rm.mu.Unlock()
		return nil, initErr
	}

	rm.mu.Lock()
	rm.values[res.id] = value
	rm.contexts[res.id] = rctx
	rm.states[res.id] = stateReady
	rm.disposeOrder = append(rm.disposeOrder, res.id)
	rm.mu.Unlock()
	return value, nil
}

// GetValue returns the ready value for a resource id, if any.
func (rm *ResourceManager) GetValue(id string) (any, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.states[id] != stateReady {
		return nil, false
	}
	v, ok := rm.values[id]
	return v, ok
}

// DisposeAll disposes every initialized resource in reverse init order,
// time-bounding each dispose call and reporting failures via
// onUnhandledError without aborting the rest.
func (rm *ResourceManager) DisposeAll(ctx context.Context, store *Store, timeout time.Duration, onUnhandledError OnUnhandledError) {
	rm.mu.Lock()
	order := append([]string{}, rm.disposeOrder...)
	rm.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		rm.disposeOne(ctx, store, order[i], timeout, onUnhandledError)
	}
}

func (rm *ResourceManager) disposeOne(ctx context.Context, store *Store, id string, timeout time.Duration, onUnhandledError OnUnhandledError) {
	rm.mu.Lock()
	if rm.states[id] != stateReady {
		rm.mu.Unlock()
		return
	}
	rm.states[id] = stateDisposing
	value := rm.values[id]
	rctx := rm.contexts[id]
	rm.mu.Unlock()

	defer func() {
		rm.mu.Lock()
		rm.states[id] = stateDisposed
		rm.mu.Unlock()
	}()

	def, ok := store.resolve(id)
	if !ok {
		return
	}
	res, ok := def.(*ResourceDefinition)
	if !ok || res.dispose == nil {
		return
	}

	config := store.configFor(id)
	deps, err := rm.resolveDeps(res.dependenciesFor(config))
	if err != nil {
		onUnhandledError(err, "resourceInit", id)
		return
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := res.dispose(dctx, value, config, deps, rctx); err != nil {
		onUnhandledError(err, "resourceInit", id)
	}
}
