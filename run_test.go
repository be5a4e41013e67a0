package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBootsResourcesInDependencyOrder(t *testing.T) {
	var initOrder []string

	db := Resource[any, string]("app.resources.db",
		func(ctx context.Context, config any, deps Deps, rctx any) (string, error) {
			initOrder = append(initOrder, "db")
			return "db-conn", nil
		})
	api := Resource[any, string]("app.resources.api",
		func(ctx context.Context, config any, deps Deps, rctx any) (string, error) {
			initOrder = append(initOrder, "api")
			conn, err := DepsGet[string](deps, "db")
			if err != nil {
				return "", err
			}
			return "api-on-" + conn, nil
		}, WithResourceDependencies(Dependencies{"db": db}))

	greet := Task[any, string]("app.tasks.greet", func(ctx context.Context, input any, deps Deps) (string, error) {
		api, err := DepsGet[string](deps, "api")
		if err != nil {
			return "", err
		}
		return "hello via " + api, nil
	}, WithTaskDependencies(Dependencies{"api": api}))

	root := Resource[any, string]("app.root",
		func(ctx context.Context, config any, deps Deps, rctx any) (string, error) { return "booted", nil },
		WithResourceRegister(db, api, greet))

	result, err := Run(context.Background(), root, nil, &RunOptions{})
	require.NoError(t, err)
	defer result.Dispose(context.Background())

	assert.Equal(t, []string{"db", "api"}, initOrder)

	out, err := result.RunTask(context.Background(), greet, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello via api-on-db-conn", out)

	v, ok := result.GetResourceValue(db.id)
	require.True(t, ok)
	assert.Equal(t, "db-conn", v)
}

func TestRunFiresReadyEventAndHooks(t *testing.T) {
	fired := false
	ready := Hook("app.hooks.onReady", OnAnyEvent(), func(ctx context.Context, rec *EventRecord, deps Deps) error {
		if rec.ID == "globals.events.ready" {
			fired = true
		}
		return nil
	})

	root := Resource[any, string]("app.root2",
		func(ctx context.Context, config any, deps Deps, rctx any) (string, error) { return "booted", nil },
		WithResourceRegister(ready))

	result, err := Run(context.Background(), root, nil, &RunOptions{})
	require.NoError(t, err)
	defer result.Dispose(context.Background())

	assert.True(t, fired)
}

func TestRunFailsBootOnResourceInitError(t *testing.T) {
	failing := Resource[any, string]("app.resources.failing",
		func(ctx context.Context, config any, deps Deps, rctx any) (string, error) {
			return "", assert.AnError
		})
	root := Resource[any, string]("app.root3",
		func(ctx context.Context, config any, deps Deps, rctx any) (string, error) { return "booted", nil },
		WithResourceRegister(failing))

	_, err := Run(context.Background(), root, nil, &RunOptions{})
	require.Error(t, err)
}

func TestExcludeFromGlobalHooksTagSkipsWildcardHooksEndToEnd(t *testing.T) {
	excludeAtt := TagExcludeFromGlobalHooks.MustWith(nil)
	quiet := NewEvent("app.events.quiet", WithEventTags(excludeAtt))
	loud := NewEvent("app.events.loud")

	var wildcardHeard []string
	sink := Hook("app.hooks.sink", OnAnyEvent(), func(ctx context.Context, rec *EventRecord, deps Deps) error {
		wildcardHeard = append(wildcardHeard, rec.ID)
		return nil
	})

	root := Resource[any, string]("app.root5",
		func(ctx context.Context, config any, deps Deps, rctx any) (string, error) { return "booted", nil },
		WithResourceRegister(quiet, loud, sink))

	result, err := Run(context.Background(), root, nil, &RunOptions{})
	require.NoError(t, err)
	defer result.Dispose(context.Background())

	require.NoError(t, result.EmitEvent(context.Background(), quiet, nil))
	require.NoError(t, result.EmitEvent(context.Background(), loud, nil))

	assert.NotContains(t, wildcardHeard, "app.events.quiet")
	assert.Contains(t, wildcardHeard, "app.events.loud")
}

func TestDisposeIsIdempotent(t *testing.T) {
	disposed := 0
	res := Resource[any, string]("app.resources.disposable",
		func(ctx context.Context, config any, deps Deps, rctx any) (string, error) { return "v", nil },
		WithResourceDispose(func(ctx context.Context, value any, config any, deps Deps, rctx any) error {
			disposed++
			return nil
		}))
	root := Resource[any, string]("app.root4",
		func(ctx context.Context, config any, deps Deps, rctx any) (string, error) { return "booted", nil },
		WithResourceRegister(res))

	result, err := Run(context.Background(), root, nil, &RunOptions{})
	require.NoError(t, err)

	require.NoError(t, result.Dispose(context.Background()))
	require.NoError(t, result.Dispose(context.Background()))
	assert.Equal(t, 1, disposed)
}
