// Package comments implements Inkstone's GitHub Discussions mirror
// (spec.md §4.9, C7): GraphQL paging, title-to-post_id mapping, and
// serve-time two-level tree flattening.
package comments

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"inkstone/internal/store"
)

type Mirror struct {
	client *graphqlClient
	owner  string
	name   string
	store  *store.Store
}

// New builds a Mirror against owner/repo, authenticated through httpClient
// — a ghinstallation-backed transport, used here purely for its
// App-JWT-to-installation-token exchange (see DESIGN.md).
func New(httpClient *http.Client, ownerRepo string, st *store.Store) (*Mirror, error) {
	owner, name, ok := strings.Cut(ownerRepo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("comments repo must be owner/repo, got %q", ownerRepo)
	}
	return &Mirror{client: &graphqlClient{http: httpClient}, owner: owner, name: name, store: st}, nil
}

// Sync pages through every discussion in the configured repo and upserts
// the discussion plus its flattened comment/reply rows.
func (m *Mirror) Sync(ctx context.Context) error {
	discussions, err := m.client.fetchAllDiscussions(ctx, m.owner, m.name)
	if err != nil {
		return err
	}

	for _, d := range discussions {
		postID := TitleToPostID(d.Title)
		updatedAt, _ := time.Parse(time.RFC3339, d.UpdatedAt)

		if err := m.store.UpsertCommentDiscussion(ctx, store.CommentDiscussion{
			PostID:       postID,
			DiscussionID: d.ID,
			Title:        d.Title,
			UpdatedAt:    updatedAt,
		}); err != nil {
			return err
		}

		for _, c := range d.Comments.Nodes {
			if err := m.upsertComment(ctx, d.ID, c, nil); err != nil {
				return err
			}
			for _, r := range c.Replies.Nodes {
				parent := c.ID
				if err := m.upsertComment(ctx, d.ID, r, &parent); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (m *Mirror) upsertComment(ctx context.Context, discussionID string, c ghComment, parentID *string) error {
	createdAt, _ := time.Parse(time.RFC3339, c.CreatedAt)
	return m.store.UpsertCommentItem(ctx, store.CommentItem{
		DiscussionID: discussionID,
		CommentID:    c.ID,
		ParentID:     parentID,
		Author:       c.Author.Login,
		BodyHTML:     c.BodyHTML,
		CreatedAt:    createdAt,
	})
}

// TitleToPostID maps a discussion title to a post_id per spec.md §4.9/§9
// Open Question 2: exact leading-`/` verbatim, else legacy `posts/<slug>`
// prefix accepted, else `/posts/<slug>/`.
func TitleToPostID(title string) string {
	if strings.HasPrefix(title, "/") {
		return title
	}
	if slug, ok := strings.CutPrefix(title, "posts/"); ok {
		return "/posts/" + slug + "/"
	}
	return "/posts/" + title + "/"
}

// Comment is the serve-time view of a flattened comment-tree node.
type Comment struct {
	CommentID string
	Author    string
	BodyHTML  string
	CreatedAt time.Time
	Replies   []Comment
}

// Tree flattens the persisted items for post_id into a two-level tree:
// top-level items have no parent, each reply attaches to its parent, and
// orphaned parent_id values are promoted to top-level (spec.md §4.9/§9).
func Tree(ctx context.Context, st *store.Store, postID string) ([]Comment, error) {
	items, err := st.CommentItemsByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Comment, len(items))
	for _, it := range items {
		byID[it.CommentID] = &Comment{
			CommentID: it.CommentID,
			Author:    it.Author,
			BodyHTML:  it.BodyHTML,
			CreatedAt: it.CreatedAt,
		}
	}

	var roots []*Comment
	for _, it := range items {
		node := byID[it.CommentID]
		if it.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := byID[*it.ParentID]
		if !ok {
			roots = append(roots, node) // orphan promoted to top-level
			continue
		}
		parent.Replies = append(parent.Replies, *node)
	}

	out := make([]Comment, 0, len(roots))
	for _, r := range roots {
		out = append(out, *r)
	}
	return out, nil
}
