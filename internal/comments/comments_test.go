package comments

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

func TestTitleToPostID(t *testing.T) {
	require.Equal(t, "/posts/hello-world/", TitleToPostID("hello-world"))
	require.Equal(t, "/posts/hello-world/", TitleToPostID("posts/hello-world"))
	require.Equal(t, "/about/", TitleToPostID("/about/"))
}

func TestTreeFlattensTwoLevelsAndPromotesOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertCommentDiscussion(ctx, store.CommentDiscussion{
		PostID: "/posts/hello/", DiscussionID: "D1", Title: "hello", UpdatedAt: now,
	}))

	require.NoError(t, s.UpsertCommentItem(ctx, store.CommentItem{
		DiscussionID: "D1", CommentID: "C1", Author: "alice", BodyHTML: "<p>top</p>", CreatedAt: now,
	}))
	parent := "C1"
	require.NoError(t, s.UpsertCommentItem(ctx, store.CommentItem{
		DiscussionID: "D1", CommentID: "C2", ParentID: &parent, Author: "bob", BodyHTML: "<p>reply</p>", CreatedAt: now.Add(time.Minute),
	}))
	missingParent := "ghost"
	require.NoError(t, s.UpsertCommentItem(ctx, store.CommentItem{
		DiscussionID: "D1", CommentID: "C3", ParentID: &missingParent, Author: "carol", BodyHTML: "<p>orphan</p>", CreatedAt: now.Add(2 * time.Minute),
	}))

	tree, err := Tree(ctx, s, "/posts/hello/")
	require.NoError(t, err)

	var top, orphan *Comment
	for i := range tree {
		switch tree[i].CommentID {
		case "C1":
			top = &tree[i]
		case "C3":
			orphan = &tree[i]
		}
	}
	require.NotNil(t, top, "top-level comment must be present")
	require.NotNil(t, orphan, "orphaned reply must be promoted to top-level")
	require.Len(t, top.Replies, 1)
	require.Equal(t, "C2", top.Replies[0].CommentID)
}

func TestTreeUnknownPostIDReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	tree, err := Tree(context.Background(), s, "/posts/nowhere/")
	require.NoError(t, err)
	require.Empty(t, tree)
}
