package kudoscache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inkstone/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "inkstone.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutKudosIsIdempotentPerInteraction(t *testing.T) {
	s := newTestStore(t)
	c := New(s)
	require.NoError(t, c.Warm(context.Background(), []string{"/posts/hello/"}))

	count, incremented := c.PutKudos("/posts/hello/", "interaction-b", time.Now())
	require.EqualValues(t, 1, count)
	require.True(t, incremented)

	count, incremented = c.PutKudos("/posts/hello/", "interaction-b", time.Now())
	require.EqualValues(t, 1, count)
	require.False(t, incremented)

	count, incremented = c.PutKudos("/posts/hello/", "interaction-c", time.Now())
	require.EqualValues(t, 2, count)
	require.True(t, incremented)
}

func TestGetReflectsInteractionState(t *testing.T) {
	s := newTestStore(t)
	c := New(s)
	require.NoError(t, c.Warm(context.Background(), []string{"/p"}))

	count, interacted := c.Get("/p", "x")
	require.Zero(t, count)
	require.False(t, interacted)

	c.PutKudos("/p", "x", time.Now())
	count, interacted = c.Get("/p", "x")
	require.EqualValues(t, 1, count)
	require.True(t, interacted)
}

func TestFlushPersistsAndClearsPending(t *testing.T) {
	s := newTestStore(t)
	c := New(s)
	require.NoError(t, c.Warm(context.Background(), []string{"/p"}))

	c.PutKudos("/p", "a", time.Now())
	c.PutKudos("/p", "b", time.Now())
	require.Equal(t, 2, c.PendingLen())

	require.NoError(t, c.Flush(context.Background()))
	require.Equal(t, 0, c.PendingLen())

	n, err := s.KudosCount(context.Background(), "/p")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestWarmLoadsPersistedStateOnRestart(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertKudosIgnore(ctx, store.KudosRow{Path: "/p", InteractionID: "old", CreatedAt: time.Now()}))

	c := New(s)
	require.NoError(t, c.Warm(ctx, []string{"/p"}))

	count, interacted := c.Get("/p", "old")
	require.EqualValues(t, 1, count)
	require.True(t, interacted)
}
