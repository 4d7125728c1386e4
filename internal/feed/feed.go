// Package feed implements Inkstone's Atom feed ingester (spec.md §4.3, C4):
// conditional-GET fetch, HTML content extraction, diff against the index,
// and batch emission.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"inkstone/internal/apierr"
	"inkstone/internal/docindex"
)

// Post is the ingester's view of a feed entry, ready to become a
// docindex.Doc once diffed against the index.
type Post struct {
	ID          string
	Title       string
	Subtitle    string
	Content     string
	Tags        []string
	Category    string
	URL         string
	PublishedAt time.Time
	UpdatedAt   time.Time
}

func (p Post) toDoc() docindex.Doc {
	return docindex.Doc{
		ID:          p.ID,
		Title:       p.Title,
		Subtitle:    p.Subtitle,
		Content:     p.Content,
		Tags:        p.Tags,
		Category:    p.Category,
		URL:         p.URL,
		PublishedAt: p.PublishedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// Ingester fetches and parses the Atom feed. The ETag/Last-Modified cache
// is in-memory only, reset on process restart (spec.md §4.3).
type Ingester struct {
	url    string
	client *http.Client

	mu           sync.Mutex
	etag         string
	lastModified string
}

func New(feedURL string, timeout time.Duration) *Ingester {
	return &Ingester{
		url:    feedURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch performs a conditional GET; notModified=true on a 304 short-circuit.
func (ig *Ingester) Fetch(ctx context.Context) (posts []Post, notModified bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ig.url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: build feed request: %v", apierr.ErrUpstream, err)
	}

	ig.mu.Lock()
	if ig.etag != "" {
		req.Header.Set("If-None-Match", ig.etag)
	}
	if ig.lastModified != "" {
		req.Header.Set("If-Modified-Since", ig.lastModified)
	}
	ig.mu.Unlock()

	resp, err := ig.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: fetch feed: %v", apierr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("%w: feed fetch status %d", apierr.ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: read feed body: %v", apierr.ErrUpstream, err)
	}

	af, err := parseAtom(body)
	if err != nil {
		return nil, false, err
	}

	ig.mu.Lock()
	ig.etag = resp.Header.Get("ETag")
	ig.lastModified = resp.Header.Get("Last-Modified")
	ig.mu.Unlock()

	posts = make([]Post, 0, len(af.Entries))
	for _, e := range af.Entries {
		posts = append(posts, entryToPost(e))
	}
	return posts, false, nil
}

func entryToPost(e atomEntry) Post {
	tags, category := entryTagsAndCategory(e)
	published, _ := time.Parse(time.RFC3339, e.Published)
	updated, err := time.Parse(time.RFC3339, e.Updated)
	if err != nil {
		updated = published
	}
	if updated.Before(published) {
		updated = published
	}
	return Post{
		ID:          e.ID,
		Title:       e.Title,
		Subtitle:    e.Summary,
		Content:     extractText(e.Content.Body),
		Tags:        tags,
		Category:    category,
		URL:         entryURL(e),
		PublishedAt: published,
		UpdatedAt:   updated,
	}
}

// ExistingDoc is the minimal view of an already-indexed document the diff
// needs: its id and updated_at.
type ExistingDoc struct {
	ID        string
	UpdatedAt time.Time
}

// Diff computes the upsert/delete batch per spec.md §4.3: upsert entries
// whose updated_at differs from the index (or are new), delete ids present
// in the index but absent from the feed.
func Diff(current []ExistingDoc, fresh []Post) (upserts []docindex.Doc, deletes []string) {
	currentByID := make(map[string]time.Time, len(current))
	for _, d := range current {
		currentByID[d.ID] = d.UpdatedAt
	}
	freshIDs := make(map[string]struct{}, len(fresh))

	for _, p := range fresh {
		freshIDs[p.ID] = struct{}{}
		existingUpdated, known := currentByID[p.ID]
		if !known || !existingUpdated.Equal(p.UpdatedAt) {
			upserts = append(upserts, p.toDoc())
		}
	}
	for id := range currentByID {
		if _, ok := freshIDs[id]; !ok {
			deletes = append(deletes, id)
		}
	}
	return upserts, deletes
}

// Docs converts a full fetch into docindex.Doc values, for Rebuild mode
// which bypasses diffing entirely (spec.md §4.3).
func Docs(posts []Post) []docindex.Doc {
	out := make([]docindex.Doc, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.toDoc())
	}
	return out
}
