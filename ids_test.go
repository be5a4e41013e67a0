package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDRegistryClaimRejectsDuplicate(t *testing.T) {
	r := newIDRegistry()
	assert.True(t, r.claim("app.tasks.a"))
	assert.False(t, r.claim("app.tasks.a"))
}

func TestAnonymousIDIsUniqueAndSequential(t *testing.T) {
	r := newIDRegistry()
	first := r.anonymousID(KindTask, 1)
	second := r.anonymousID(KindTask, 1)
	assert.NotEqual(t, first, second)
	assert.Contains(t, first, ".task.")
	assert.Contains(t, second, ".task.")
}

func TestNewRecordIDProducesDistinctValues(t *testing.T) {
	a := newRecordID()
	b := newRecordID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}

func TestWithIDPassesThroughExplicitID(t *testing.T) {
	assert.Equal(t, "app.tasks.explicit", withID("app.tasks.explicit", KindTask))
}

func TestWithIDDerivesAnonymousIDWhenOmitted(t *testing.T) {
	id := withID("", KindTask)
	assert.Contains(t, id, ".task.")
}

func TestTaskConstructorDerivesAnonymousIDWhenOmitted(t *testing.T) {
	task := Task[any, string]("", func(ctx context.Context, input any, deps Deps) (string, error) {
		return "ok", nil
	})
	assert.Contains(t, task.ID(), ".task.")
}

func TestResourceConstructorDerivesAnonymousIDWhenOmitted(t *testing.T) {
	res := Resource[any, string]("", func(ctx context.Context, config any, deps Deps, rctx any) (string, error) {
		return "ok", nil
	})
	assert.Contains(t, res.ID(), ".resource.")
}

func TestStoreRegisterRejectsDistinctDefinitionsWithSameID(t *testing.T) {
	store := NewStore()
	a := Task[any, string]("app.tasks.dup", func(ctx context.Context, input any, deps Deps) (string, error) { return "a", nil })
	b := Task[any, string]("app.tasks.dup", func(ctx context.Context, input any, deps Deps) (string, error) { return "b", nil })

	require.NoError(t, store.register(a))
	err := store.register(b)
	require.Error(t, err)
}
