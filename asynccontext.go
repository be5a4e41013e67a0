package runner

import (
	"context"

	"github.com/bluelibs/runner-go/internal/schema"
)

// AsyncContextDefinition exposes ambient request-scoped data bound to the
// current async execution, mirroring the teacher's flow.go ExecutionCtx
// parent-lookup chain but built directly on context.Context values instead
// of a hand-rolled stack, since Go's context package already is the
// platform's ambient-scope primitive.
type AsyncContextDefinition struct {
	id           string
	configSchema schema.Schema
	key          asyncContextKey
}

type asyncContextKey struct{ id string }

// NewAsyncContext defines a lexically-scoped ambient value carrier.
func NewAsyncContext(id string, opts ...AsyncContextOption) *AsyncContextDefinition {
	d := &AsyncContextDefinition{id: id, key: asyncContextKey{id: id}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type AsyncContextOption func(*AsyncContextDefinition)

func (d *AsyncContextDefinition) ID() string { return d.id }
func (d *AsyncContextDefinition) Kind() Kind  { return KindAsyncContext }

// Provide establishes value for the duration of fn's execution. Nested
// Provide calls on the same definition shadow the outer value; fn observes
// only the innermost one.
func (d *AsyncContextDefinition) Provide(ctx context.Context, value any, fn func(ctx context.Context) error) error {
	return fn(context.WithValue(ctx, d.key, value))
}

// Use retrieves the innermost value bound via Provide, failing with
// MissingContextError if ctx carries none.
func (d *AsyncContextDefinition) Use(ctx context.Context) (any, error) {
	v := ctx.Value(d.key)
	if v == nil {
		return nil, &MissingContextError{frameworkError: newFrameworkError(), ContextID: d.id}
	}
	return v, nil
}

// Require returns a task-middleware attachment that asserts this context is
// present before the task body runs.
func (d *AsyncContextDefinition) Require() MiddlewareAttachment {
	return MiddlewareAttachment{Definition: TaskMiddleware(d.id+".require", func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps, config any) (any, error) {
		if _, err := d.Use(ctx); err != nil {
			return nil, err
		}
		return next(mw.Input)
	})}
}
