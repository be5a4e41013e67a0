package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagExistsAndExtract(t *testing.T) {
	priority := NewTag("test.tags.priority")

	att, err := priority.With(5)
	require.NoError(t, err)

	task := Task[any, string]("test.tasks.tagged", func(ctx context.Context, input any, deps Deps) (string, error) {
		return "ok", nil
	}, WithTaskTags(att))

	untagged := Task[any, string]("test.tasks.untagged", func(ctx context.Context, input any, deps Deps) (string, error) {
		return "ok", nil
	})

	assert.True(t, priority.Exists(task))
	assert.False(t, priority.Exists(untagged))

	v, ok := priority.Extract(task)
	require.True(t, ok)
	assert.Equal(t, 5, v)

	_, ok = priority.Extract(untagged)
	assert.False(t, ok)
}

func TestGetTasksWithTagReturnsInRegistrationOrder(t *testing.T) {
	store := NewStore()
	slow := NewTag("test.tags.slow")
	att := slow.MustWith(nil)

	a := Task[any, string]("test.tasks.a", func(ctx context.Context, input any, deps Deps) (string, error) { return "a", nil }, WithTaskTags(att))
	b := Task[any, string]("test.tasks.b", func(ctx context.Context, input any, deps Deps) (string, error) { return "b", nil })
	c := Task[any, string]("test.tasks.c", func(ctx context.Context, input any, deps Deps) (string, error) { return "c", nil }, WithTaskTags(att))

	require.NoError(t, store.collect(a, 0))
	require.NoError(t, store.collect(b, 0))
	require.NoError(t, store.collect(c, 0))

	tagged := store.getTasksWithTag(slow)
	require.Len(t, tagged, 2)
	assert.Equal(t, "test.tasks.a", tagged[0].ID())
	assert.Equal(t, "test.tasks.c", tagged[1].ID())
}
