package runner

import (
	"context"
	"sync"
)

// DispatchInterceptor wraps a single middleware attachment's execution
// within a compiled chain.
type DispatchInterceptor func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps) (any, error)

// ChainInterceptor wraps an entire compiled chain for one task or resource.
type ChainInterceptor func(ctx context.Context, input any, next func(any) (any, error)) (any, error)

// MiddlewareManager compiles and executes onion-composed middleware chains
// for tasks and resource initialization, adapted from the teacher's
// extension.go Wrap-chaining (Extension.Wrap around Scope.Resolve/Update)
// generalized to two independent per-kind chains plus interception at three
// granularities (per-kind, per-middleware, per-component).
type MiddlewareManager struct {
	store       *Store
	resolver    *DependencyResolver
	resolveDeps DependencyValueResolver

	mu                    sync.Mutex
	taskDispatch          []DispatchInterceptor
	resourceDispatch      []DispatchInterceptor
	perMiddleware         map[string][]DispatchInterceptor
	perTaskChain          map[string][]ChainInterceptor
	perResourceChain      map[string][]ChainInterceptor
	excludedCache         map[string]map[string]bool
}

func NewMiddlewareManager(store *Store, resolver *DependencyResolver) *MiddlewareManager {
	return &MiddlewareManager{
		store:         store,
		resolver:      resolver,
		perMiddleware: make(map[string][]DispatchInterceptor),
		perTaskChain:  make(map[string][]ChainInterceptor),
		perResourceChain: make(map[string][]ChainInterceptor),
		excludedCache: make(map[string]map[string]bool),
	}
}

// SetDependencyResolver wires in the boot controller's value resolver, used
// to resolve each middleware's own declared dependencies (distinct from the
// task/resource body's dependencies) at dispatch time.
func (m *MiddlewareManager) SetDependencyResolver(f DependencyValueResolver) {
	m.resolveDeps = f
}

// InterceptTask wraps every task-middleware dispatch across every task.
func (m *MiddlewareManager) InterceptTask(fn DispatchInterceptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskDispatch = append(m.taskDispatch, fn)
}

// InterceptResource wraps every resource-middleware dispatch — the
// first-class resource-interception counterpart to InterceptTask, resolving
// the spec's open question in favor of symmetry with the task API.
func (m *MiddlewareManager) InterceptResource(fn DispatchInterceptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resourceDispatch = append(m.resourceDispatch, fn)
}

// InterceptMiddleware wraps every dispatch of one specific middleware,
// regardless of which task/resource it's attached to.
func (m *MiddlewareManager) InterceptMiddleware(md *MiddlewareDefinition, fn DispatchInterceptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perMiddleware[md.id] = append(m.perMiddleware[md.id], fn)
}

// InterceptTaskChain wraps the fully-compiled chain of one task.
func (m *MiddlewareManager) InterceptTaskChain(taskID string, fn ChainInterceptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perTaskChain[taskID] = append(m.perTaskChain[taskID], fn)
}

// InterceptResourceChain wraps the fully-compiled chain of one resource.
func (m *MiddlewareManager) InterceptResourceChain(resourceID string, fn ChainInterceptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perResourceChain[resourceID] = append(m.perResourceChain[resourceID], fn)
}

func (m *MiddlewareManager) excludedSet(md *MiddlewareDefinition) map[string]bool {
	m.mu.Lock()
	if cached, ok := m.excludedCache[md.id]; ok {
		m.mu.Unlock()
		return cached
	}
	m.mu.Unlock()
	set := transitiveDependencyIDs(m.store, md.resolveDependencies())
	m.mu.Lock()
	m.excludedCache[md.id] = set
	m.mu.Unlock()
	return set
}

func (m *MiddlewareManager) globalMiddlewareOfKind(kind MiddlewareKind) []*MiddlewareDefinition {
	var out []*MiddlewareDefinition
	for _, id := range m.store.registrationOrder() {
		def, ok := m.store.resolve(id)
		if !ok {
			continue
		}
		md, ok := def.(*MiddlewareDefinition)
		if !ok || md.middlewareKind != kind {
			continue
		}
		if md.everywhere || md.everywherePredicate != nil {
			out = append(out, md)
		}
	}
	return out
}

// CompileTaskChain produces the task's full middleware chain: filtered
// global task-middleware (in registration order, excluding this middleware's
// own transitive dependency subtree), followed by the task's own
// declaration-order local middleware.
func (m *MiddlewareManager) CompileTaskChain(task *TaskDefinition) []MiddlewareAttachment {
	var chain []MiddlewareAttachment
	for _, md := range m.globalMiddlewareOfKind(MiddlewareKindTask) {
		if !md.appliesGlobally(task) {
			continue
		}
		if m.excludedSet(md)[task.id] {
			continue
		}
		chain = append(chain, MiddlewareAttachment{Definition: md})
	}
	chain = append(chain, task.middleware...)
	return chain
}

// CompileResourceChain is CompileTaskChain's resource-init counterpart.
func (m *MiddlewareManager) CompileResourceChain(res *ResourceDefinition) []MiddlewareAttachment {
	var chain []MiddlewareAttachment
	for _, md := range m.globalMiddlewareOfKind(MiddlewareKindResource) {
		if !md.appliesGlobally(res) {
			continue
		}
		if m.excludedSet(md)[res.id] {
			continue
		}
		chain = append(chain, MiddlewareAttachment{Definition: md})
	}
	chain = append(chain, res.middleware...)
	return chain
}

// RunChain executes chain as an onion around tail: outer-to-inner, each
// middleware receiving the (possibly rewritten) input from the layer
// outside it and a next() that invokes the remaining layers.
func (m *MiddlewareManager) RunChain(
	ctx context.Context,
	kind MiddlewareKind,
	componentID string,
	chain []MiddlewareAttachment,
	mwInputTemplate MiddlewareInput,
	bodyDeps Deps,
	input any,
	tail func(ctx context.Context, input any) (any, error),
) (any, error) {
	m.mu.Lock()
	kindInterceptors := m.taskDispatch
	if kind == MiddlewareKindResource {
		kindInterceptors = m.resourceDispatch
	}
	chainInterceptors := m.perTaskChain[componentID]
	if kind == MiddlewareKindResource {
		chainInterceptors = m.perResourceChain[componentID]
	}
	m.mu.Unlock()

	run := func(in any) (any, error) { return tail(ctx, in) }
	for i := len(chain) - 1; i >= 0; i-- {
		att := chain[i]
		next := run
		run = m.composeDispatch(ctx, att, kindInterceptors, mwInputTemplate, next)
	}

	final := run
	for _, ci := range chainInterceptors {
		prev := final
		interceptor := ci
		final = func(in any) (any, error) { return interceptor(ctx, in, prev) }
	}
	_ = bodyDeps // body already closed over its own deps; kept for signature symmetry with tail's caller
	return final(input)
}

// composeDispatch resolves md's OWN declared dependencies (distinct from
// the wrapped task/resource's dependencies) lazily at call time, since
// resolution can fail and composeDispatch only builds closures.
func (m *MiddlewareManager) composeDispatch(
	ctx context.Context,
	att MiddlewareAttachment,
	kindInterceptors []DispatchInterceptor,
	mwInputTemplate MiddlewareInput,
	next func(any) (any, error),
) func(any) (any, error) {
	md := att.Definition
	m.mu.Lock()
	specific := m.perMiddleware[md.id]
	m.mu.Unlock()

	resolveMWDeps := func() (Deps, error) {
		if m.resolveDeps == nil {
			return Deps{}, nil
		}
		return m.resolveDeps(md.resolveDependencies())
	}

	tail := func(in any) (any, error) {
		mwDeps, err := resolveMWDeps()
		if err != nil {
			return nil, err
		}
		mwInput := mwInputTemplate
		mwInput.Input = in
		return md.run(ctx, mwInput, MiddlewareNext(next), mwDeps, att.Config)
	}

	interceptors := append(append([]DispatchInterceptor{}, kindInterceptors...), specific...)
	run := tail
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		prev := run
		run = func(in any) (any, error) {
			mwDeps, err := resolveMWDeps()
			if err != nil {
				return nil, err
			}
			mwInput := mwInputTemplate
			mwInput.Input = in
			return interceptor(ctx, mwInput, MiddlewareNext(prev), mwDeps)
		}
	}
	return run
}
