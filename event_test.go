package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenersRunInOrderThenWildcard(t *testing.T) {
	m := NewEventManager(nil)
	ev := NewEvent("test.ping")
	m.registerEvent(ev)

	var calls []string
	require.NoError(t, m.AddListener(ev.id, "second", 20, func(ctx context.Context, rec *EventRecord) error {
		calls = append(calls, "second")
		return nil
	}))
	require.NoError(t, m.AddListener(ev.id, "first", 10, func(ctx context.Context, rec *EventRecord) error {
		calls = append(calls, "first")
		return nil
	}))
	require.NoError(t, m.AddListener("*", "wild", 0, func(ctx context.Context, rec *EventRecord) error {
		calls = append(calls, "wildcard")
		return nil
	}))

	_, err := m.EmitRecord(context.Background(), ev.id, nil, "emitter")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "wildcard"}, calls)
}

func TestStopPropagationHaltsRemainingListeners(t *testing.T) {
	m := NewEventManager(nil)
	ev := NewEvent("test.stoppable")
	m.registerEvent(ev)

	var calls []string
	require.NoError(t, m.AddListener(ev.id, "a", 0, func(ctx context.Context, rec *EventRecord) error {
		calls = append(calls, "a")
		rec.StopPropagation()
		return nil
	}))
	require.NoError(t, m.AddListener(ev.id, "b", 1, func(ctx context.Context, rec *EventRecord) error {
		calls = append(calls, "b")
		return nil
	}))

	_, err := m.EmitRecord(context.Background(), ev.id, nil, "emitter")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, calls)
}

func TestWildcardListenerNeverHearsItsOwnEmission(t *testing.T) {
	m := NewEventManager(nil)
	ev := NewEvent("test.selfsource")
	m.registerEvent(ev)

	called := false
	require.NoError(t, m.AddListener("*", "same-source", 0, func(ctx context.Context, rec *EventRecord) error {
		called = true
		return nil
	}))

	_, err := m.EmitRecord(context.Background(), ev.id, nil, "same-source")
	require.NoError(t, err)
	assert.False(t, called)
}

func TestEmitDetectsCausalChainCycle(t *testing.T) {
	m := NewEventManager(nil)
	a := NewEvent("test.a")
	b := NewEvent("test.b")
	m.registerEvent(a)
	m.registerEvent(b)

	require.NoError(t, m.AddListener(a.id, "a-listener", 0, func(ctx context.Context, rec *EventRecord) error {
		_, err := m.EmitRecord(ctx, b.id, nil, "a-listener")
		return err
	}))
	require.NoError(t, m.AddListener(b.id, "b-listener", 0, func(ctx context.Context, rec *EventRecord) error {
		_, err := m.EmitRecord(ctx, a.id, nil, "b-listener")
		return err
	}))

	_, err := m.EmitRecord(context.Background(), a.id, nil, "root")
	require.Error(t, err)
	var cycleErr *EventCycleError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestExcludeFromGlobalHooksTagSkipsWildcardDispatch(t *testing.T) {
	m := NewEventManager(nil)
	excludeTag := NewTag("test.tags.excludeFromGlobalHooks")
	m.SetExcludeFromGlobalHooksTag(excludeTag)

	att := excludeTag.MustWith(nil)
	quiet := NewEvent("test.quiet", WithEventTags(att))
	loud := NewEvent("test.loud")
	m.registerEvent(quiet)
	m.registerEvent(loud)

	var concreteCalls, wildcardCalls []string
	require.NoError(t, m.AddListener(quiet.id, "concrete-quiet", 0, func(ctx context.Context, rec *EventRecord) error {
		concreteCalls = append(concreteCalls, "quiet")
		return nil
	}))
	require.NoError(t, m.AddListener(loud.id, "concrete-loud", 0, func(ctx context.Context, rec *EventRecord) error {
		concreteCalls = append(concreteCalls, "loud")
		return nil
	}))
	require.NoError(t, m.AddListener("*", "wild", 0, func(ctx context.Context, rec *EventRecord) error {
		wildcardCalls = append(wildcardCalls, rec.ID)
		return nil
	}))

	_, err := m.EmitRecord(context.Background(), quiet.id, nil, "emitter")
	require.NoError(t, err)
	_, err = m.EmitRecord(context.Background(), loud.id, nil, "emitter")
	require.NoError(t, err)

	assert.Equal(t, []string{"quiet", "loud"}, concreteCalls, "tag only skips wildcard dispatch, not concrete listeners")
	assert.Equal(t, []string{"test.loud"}, wildcardCalls, "wildcard listener must not hear the excluded event")
}

func TestAddListenerAfterLockFails(t *testing.T) {
	m := NewEventManager(nil)
	m.lock()
	err := m.AddListener("*", "late", 0, func(ctx context.Context, rec *EventRecord) error { return nil })
	require.Error(t, err)
	var lockErr *LockdownViolationError
	assert.ErrorAs(t, err, &lockErr)
}
