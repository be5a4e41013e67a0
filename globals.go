package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bluelibs/runner-go/internal/schema"
)

// Cache is the in-memory store backing globals.middleware.task.cache. It is
// intentionally process-local and non-persistent — durable caching is out
// of scope.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value   any
	expires time.Time
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.entries[key] = cacheEntry{value: value, expires: expires}
}

// Serializer is the JSON-backed implementation behind
// globals.resources.serializer; cycle-safety is inherited from
// encoding/json, which rejects cyclic structures rather than looping.
type Serializer struct{}

func (Serializer) Stringify(v any) ([]byte, error) { return json.Marshal(v) }
func (Serializer) Parse(data []byte, out any) error { return json.Unmarshal(data, out) }

// RetryConfig configures globals.middleware.task.retry /
// globals.middleware.resource.retry.
type RetryConfig struct {
	MaxAttempts     int           `validate:"min=1"`
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// TimeoutConfig configures globals.middleware.task.timeout /
// globals.middleware.resource.timeout.
type TimeoutConfig struct {
	Duration time.Duration `validate:"required"`
}

// CacheConfig configures globals.middleware.task.cache.
type CacheConfig struct {
	Key string
	TTL time.Duration
}

// globalsBundle is the set of built-in definitions every run() wires in
// implicitly, mirroring the teacher's BaseExtension pattern of a few
// always-present cross-cutting concerns (here: retry, timeout, caching)
// instead of ad hoc per-app wiring.
type globalsBundle struct {
	Resources struct {
		Logger       *ResourceDefinition
		Store        *ResourceDefinition
		EventManager *ResourceDefinition
		TaskRunner   *ResourceDefinition
		Cache        *ResourceDefinition
		Serializer   *ResourceDefinition
	}
	Middleware struct {
		Task struct {
			Cache   *MiddlewareDefinition
			Retry   *MiddlewareDefinition
			Timeout *MiddlewareDefinition
		}
		Resource struct {
			Retry   *MiddlewareDefinition
			Timeout *MiddlewareDefinition
		}
	}
	Events struct {
		Ready *EventDefinition
	}
	Tags struct {
		System                 *TagDefinition
		Debug                  *TagDefinition
		ExcludeFromGlobalHooks *TagDefinition
	}
}

// TagSystem, TagDebug, and TagExcludeFromGlobalHooks are the built-in tags a
// user attaches to their own task/resource/event definitions before ever
// calling Run — unlike the resources/middleware/events below, tag identity
// is compared by pointer (TagDefinition.find), so these must stay stable
// package-level singletons rather than being recreated per run.
var (
	TagSystem                 = NewTag("globals.tags.system")
	TagDebug                  = NewTag("globals.tags.debug")
	TagExcludeFromGlobalHooks = NewTag("globals.tags.excludeFromGlobalHooks")
)

// newGlobals builds a fresh set of built-in definitions for one run. Most
// fields are not package-level singletons because each run() owns its own
// Store; sharing *ResourceDefinition pointers across runs would let one
// run's registration lock affect another's. The Tags field is the
// exception — see TagSystem et al above.
func newGlobals() *globalsBundle {
	g := &globalsBundle{}

	g.Resources.Cache = Resource[any, *Cache]("globals.resources.cache",
		func(ctx context.Context, config any, deps Deps, rctx any) (*Cache, error) {
			return NewCache(), nil
		})
	g.Resources.Serializer = Resource[any, Serializer]("globals.resources.serializer",
		func(ctx context.Context, config any, deps Deps, rctx any) (Serializer, error) {
			return Serializer{}, nil
		})
	// Logger/Store/EventManager/TaskRunner are bootstrap components that must
	// exist before any resource can be initialized (they ARE the init
	// machinery). Their ResourceDefinition is a handle only: the boot
	// controller pre-seeds its value directly rather than calling init, so
	// user code can still depend on globals.resources.logger like any other
	// resource without a construction-order paradox.
	g.Resources.Logger = Resource[any, *Logger]("globals.resources.logger",
		func(ctx context.Context, config any, deps Deps, rctx any) (*Logger, error) {
			return nil, fmt.Errorf("globals.resources.logger is seeded by the boot controller, not initialized directly")
		})
	g.Resources.Store = Resource[any, *Store]("globals.resources.store",
		func(ctx context.Context, config any, deps Deps, rctx any) (*Store, error) {
			return nil, fmt.Errorf("globals.resources.store is seeded by the boot controller, not initialized directly")
		})
	g.Resources.EventManager = Resource[any, *EventManager]("globals.resources.eventManager",
		func(ctx context.Context, config any, deps Deps, rctx any) (*EventManager, error) {
			return nil, fmt.Errorf("globals.resources.eventManager is seeded by the boot controller, not initialized directly")
		})
	g.Resources.TaskRunner = Resource[any, *TaskRunner]("globals.resources.taskRunner",
		func(ctx context.Context, config any, deps Deps, rctx any) (*TaskRunner, error) {
			return nil, fmt.Errorf("globals.resources.taskRunner is seeded by the boot controller, not initialized directly")
		})

	g.Middleware.Task.Retry = TaskMiddleware("globals.middleware.task.retry",
		func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps, config any) (any, error) {
			return runWithRetry(ctx, config, func() (any, error) { return next(mw.Input) })
		}, WithMiddlewareConfigSchema(schema.Struct[RetryConfig]()))

	g.Middleware.Resource.Retry = ResourceMiddleware("globals.middleware.resource.retry",
		func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps, config any) (any, error) {
			return runWithRetry(ctx, config, func() (any, error) { return next(mw.Input) })
		}, WithMiddlewareConfigSchema(schema.Struct[RetryConfig]()))

	g.Middleware.Task.Timeout = TaskMiddleware("globals.middleware.task.timeout",
		func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps, config any) (any, error) {
			return runWithTimeout(ctx, config, func(ctx context.Context) (any, error) { return next(mw.Input) })
		}, WithMiddlewareConfigSchema(schema.Struct[TimeoutConfig]()))

	g.Middleware.Resource.Timeout = ResourceMiddleware("globals.middleware.resource.timeout",
		func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps, config any) (any, error) {
			return runWithTimeout(ctx, config, func(ctx context.Context) (any, error) { return next(mw.Input) })
		}, WithMiddlewareConfigSchema(schema.Struct[TimeoutConfig]()))

	g.Middleware.Task.Cache = TaskMiddleware("globals.middleware.task.cache",
		func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps, config any) (any, error) {
			cache, err := DepsGet[*Cache](deps, "cache")
			if err != nil {
				return next(mw.Input)
			}
			cfg, _ := config.(CacheConfig)
			key := cfg.Key
			if key == "" {
				key = mw.TaskDefinition.id
			}
			if v, ok := cache.Get(key); ok {
				return v, nil
			}
			out, err := next(mw.Input)
			if err != nil {
				return nil, err
			}
			cache.Set(key, out, cfg.TTL)
			return out, nil
		}, WithMiddlewareDependencies(Dependencies{"cache": g.Resources.Cache}),
		WithMiddlewareConfigSchema(schema.Struct[CacheConfig]()))

	g.Events.Ready = NewEvent("globals.events.ready")

	g.Tags.System = TagSystem
	g.Tags.Debug = TagDebug
	g.Tags.ExcludeFromGlobalHooks = TagExcludeFromGlobalHooks

	return g
}

func runWithRetry(ctx context.Context, config any, fn func() (any, error)) (any, error) {
	cfg, _ := config.(RetryConfig)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = cfg.InitialInterval
	boff.MaxInterval = cfg.MaxInterval
	bounded := backoff.WithMaxRetries(boff, uint64(cfg.MaxAttempts-1))
	bounded = backoff.WithContext(bounded, ctx) //nolint:staticcheck

	var result any
	err := backoff.Retry(func() error {
		out, err := fn()
		if err != nil {
			return err
		}
		result = out
		return nil
	}, bounded)
	return result, err
}

func runWithTimeout(ctx context.Context, config any, fn func(ctx context.Context) (any, error)) (any, error) {
	cfg, _ := config.(TimeoutConfig)
	if cfg.Duration <= 0 {
		cfg.Duration = 30 * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	type res struct {
		value any
		err   error
	}
	done := make(chan res, 1)
	go func() {
		v, err := fn(tctx)
		done <- res{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-tctx.Done():
		return nil, &TimeoutError{frameworkError: newFrameworkError(), Operation: "task/resource"}
	}
}
