package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMiddlewareResolvesItsOwnDependenciesIndependently guards against
// conflating a middleware's declared dependencies with the wrapped task's
// own dependencies — two distinct sets resolved through two distinct calls.
func TestMiddlewareResolvesItsOwnDependenciesIndependently(t *testing.T) {
	counterRes := Resource[any, *int]("test.resources.counter", func(ctx context.Context, config any, deps Deps, rctx any) (*int, error) {
		n := 0
		return &n, nil
	})

	var sawCounterInMiddleware bool
	countingMW := TaskMiddleware("test.middleware.counting",
		func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps, config any) (any, error) {
			if c, err := DepsGet[*int](deps, "counter"); err == nil && c != nil {
				sawCounterInMiddleware = true
				*c++
			}
			return next(mw.Input)
		}, WithMiddlewareDependencies(Dependencies{"counter": counterRes}))

	// The task itself declares NO dependency on the counter resource — if the
	// middleware wrongly reused the task's own (empty) deps, it would never
	// see "counter".
	task := Task[any, string]("test.tasks.plain", func(ctx context.Context, input any, deps Deps) (string, error) {
		return "ok", nil
	}, WithTaskMiddleware(MiddlewareAttachment{Definition: countingMW}))

	root := Resource[any, string]("test.root", func(ctx context.Context, config any, deps Deps, rctx any) (string, error) {
		return "booted", nil
	}, WithResourceRegister(counterRes, task))

	result, err := Run(context.Background(), root, nil, &RunOptions{})
	require.NoError(t, err)
	defer result.Dispose(context.Background())

	out, err := result.RunTask(context.Background(), task, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.True(t, sawCounterInMiddleware, "middleware should resolve its own declared dependencies independently of the task body's deps")
}

// TestGlobalMiddlewareAppliesToAllTasksExceptItsOwnDependencySubtree guards
// the exclusion rule CompileTaskChain implements via excludedSet: a
// middleware declared "everywhere" wraps every task except one it
// transitively depends on, which would otherwise self-wrap.
func TestGlobalMiddlewareAppliesToAllTasksExceptItsOwnDependencySubtree(t *testing.T) {
	store := NewStore()

	loggingDep := Task[any, string]("test.tasks.loggingDep", func(ctx context.Context, input any, deps Deps) (string, error) {
		return "dep", nil
	})
	global := TaskMiddleware("test.middleware.global",
		func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps, config any) (any, error) {
			return next(mw.Input)
		}, WithMiddlewareEverywhere(), WithMiddlewareDependencies(Dependencies{"logger": loggingDep}))

	plain := Task[any, string]("test.tasks.plain2", func(ctx context.Context, input any, deps Deps) (string, error) {
		return "ok", nil
	})

	require.NoError(t, store.register(loggingDep))
	require.NoError(t, store.register(global))
	require.NoError(t, store.register(plain))

	resolver := NewDependencyResolver(store)
	mw := NewMiddlewareManager(store, resolver)

	plainChain := mw.CompileTaskChain(plain)
	require.Len(t, plainChain, 1)
	assert.Equal(t, global.id, plainChain[0].Definition.id)

	depChain := mw.CompileTaskChain(loggingDep)
	assert.Empty(t, depChain, "a global middleware must not wrap a task in its own dependency subtree")
}
