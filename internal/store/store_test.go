package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "inkstone.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKudosInsertIgnoreIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	row := KudosRow{Path: "/posts/hello/", InteractionID: "abc", CreatedAt: time.Now()}

	require.NoError(t, s.InsertKudosIgnore(ctx, row))
	require.NoError(t, s.InsertKudosIgnore(ctx, row))

	n, err := s.KudosCount(ctx, "/posts/hello/")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestKudosCountDistinguishesInteractions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertKudosIgnore(ctx, KudosRow{Path: "/p", InteractionID: "a", CreatedAt: time.Now()}))
	require.NoError(t, s.InsertKudosIgnore(ctx, KudosRow{Path: "/p", InteractionID: "b", CreatedAt: time.Now()}))

	n, err := s.KudosCount(ctx, "/p")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	ids, err := s.KudosInteractionIDs(ctx, "/p")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestKudosInsertIgnoreBatchAppliesAllRowsInOneTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InsertKudosIgnoreBatch(ctx, []KudosRow{
		{Path: "/p", InteractionID: "a", CreatedAt: now},
		{Path: "/p", InteractionID: "b", CreatedAt: now},
		{Path: "/p", InteractionID: "a", CreatedAt: now}, // duplicate, ignored
	}))

	n, err := s.KudosCount(ctx, "/p")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestKudosInsertIgnoreBatchEmptyIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertKudosIgnoreBatch(context.Background(), nil))
}

func TestPulseVisitorUpsertStartsNewSessionAfterGap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.UpsertPulseVisitor(ctx, "site", "stats1", t0, "direct", ""))
	v, err := s.GetPulseVisitor(ctx, "site", "stats1")
	require.NoError(t, err)
	require.True(t, v.SessionStartTS.Equal(t0))

	t1 := t0.Add(5 * time.Minute)
	require.NoError(t, s.UpsertPulseVisitor(ctx, "site", "stats1", t1, "direct", ""))
	v, err = s.GetPulseVisitor(ctx, "site", "stats1")
	require.NoError(t, err)
	require.True(t, v.SessionStartTS.Equal(t0), "session should not restart within 30 minutes")

	t2 := t0.Add(40 * time.Minute)
	require.NoError(t, s.UpsertPulseVisitor(ctx, "site", "stats1", t2, "search", "google.com"))
	v, err = s.GetPulseVisitor(ctx, "site", "stats1")
	require.NoError(t, err)
	require.True(t, v.SessionStartTS.Equal(t2), "session should restart after a 30+ minute gap")
	require.Equal(t, "search", v.EntrySourceType)
}

func TestDoubanItemUpsertByTypeAndID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rating := 4
	require.NoError(t, s.UpsertDoubanItem(ctx, DoubanItem{
		Type: "movie", ID: "123", Title: "First", Rating: &rating, Tags: []string{"a"}, UpdatedAt: time.Now(),
	}))
	require.NoError(t, s.UpsertDoubanItem(ctx, DoubanItem{
		Type: "movie", ID: "123", Title: "Updated", Tags: []string{"a", "b"}, UpdatedAt: time.Now(),
	}))

	items, err := s.ListDoubanItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Updated", items[0].Title)
	require.Equal(t, []string{"a", "b"}, items[0].Tags)
}

func TestMigrationsAreIdempotentAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inkstone.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.KudosCount(context.Background(), "/anything")
	require.NoError(t, err)
	require.Zero(t, n)
}
