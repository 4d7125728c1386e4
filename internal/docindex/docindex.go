package docindex

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	bq "github.com/blevesearch/bleve/v2/search/query"

	"inkstone/internal/apierr"
	sq "inkstone/internal/query"
)

// SortMode re-exports inkstone/internal/query's sort modes for callers that
// only import docindex.
type SortMode = sq.SortMode

const (
	snippetFallbackRunes = 200
	highlightPre          = "<b>"
	highlightPost         = "</b>"
)

// Index is Inkstone's full-text index engine (C3): single writer, buffered
// batch, committed atomically.
type Index struct {
	dir string

	mu    sync.Mutex // serializes writer access (spec.md §5: exactly one writer)
	bidx  bleve.Index
	batch *bleve.Batch
}

// Open opens an existing index directory or creates a new one with the
// schema from NewMapping.
func Open(dir string) (*Index, error) {
	bidx, err := bleve.Open(dir)
	if err != nil {
		bidx, err = bleve.New(dir, NewMapping())
		if err != nil {
			return nil, fmt.Errorf("%w: open index: %v", apierr.ErrUpstream, err)
		}
	}
	return &Index{dir: dir, bidx: bidx}, nil
}

func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.bidx.Close()
}

// Upsert queues a delete-by-id-term followed by an add; buffered until
// Commit (spec.md §4.2).
func (x *Index) Upsert(d Doc) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensureBatchLocked()
	x.batch.Delete(d.ID)
	return x.batch.Index(d.ID, toIndexDoc(d))
}

// Delete queues a term-delete; buffered until Commit.
func (x *Index) Delete(id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensureBatchLocked()
	x.batch.Delete(id)
	return nil
}

func (x *Index) ensureBatchLocked() {
	if x.batch == nil {
		x.batch = x.bidx.NewBatch()
	}
}

// Commit persists the buffered batch atomically; readers after Commit see
// the new segment.
func (x *Index) Commit() error {
	x.mu.Lock()
	b := x.batch
	x.batch = nil
	x.mu.Unlock()
	if b == nil || b.Size() == 0 {
		return nil
	}
	if err := x.bidx.Batch(b); err != nil {
		return fmt.Errorf("%w: commit: %v", apierr.ErrUpstream, err)
	}
	return nil
}

// ApplyBatch is C4's incremental-update entry point: queue deletes, queue
// upserts, commit once (spec.md §4.2).
func (x *Index) ApplyBatch(upserts []Doc, deletes []string) error {
	for _, id := range deletes {
		if err := x.Delete(id); err != nil {
			return err
		}
	}
	for _, d := range upserts {
		if err := x.Upsert(d); err != nil {
			return err
		}
	}
	return x.Commit()
}

// Rebuild drops all segments and reindexes from docs in one batch
// (spec.md §4.2's rebuild()).
func (x *Index) Rebuild(docs []Doc) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.bidx.Close(); err != nil {
		return fmt.Errorf("%w: close for rebuild: %v", apierr.ErrUpstream, err)
	}
	if err := os.RemoveAll(x.dir); err != nil {
		return fmt.Errorf("%w: clear index dir: %v", apierr.ErrUpstream, err)
	}
	newIdx, err := bleve.New(x.dir, NewMapping())
	if err != nil {
		return fmt.Errorf("%w: recreate index: %v", apierr.ErrUpstream, err)
	}
	x.bidx = newIdx
	x.batch = nil

	b := newIdx.NewBatch()
	for _, d := range docs {
		if err := b.Index(d.ID, toIndexDoc(d)); err != nil {
			return fmt.Errorf("%w: %v", apierr.ErrUpstream, err)
		}
	}
	if b.Size() > 0 {
		if err := newIdx.Batch(b); err != nil {
			return fmt.Errorf("%w: rebuild batch: %v", apierr.ErrUpstream, err)
		}
	}
	return nil
}

// Hit is one search result, including highlighted snippets and the
// matched-filter breakdown spec.md §4.2 names.
type Hit struct {
	ID              string
	Title           string
	Subtitle        string
	Content         string
	URL             string
	Category        string
	Tags            []string
	PublishedAt     time.Time
	UpdatedAt       time.Time
	Score           float64
	SnippetTitle    string
	SnippetSubtitle string
	SnippetContent  string
	MatchedTags     []string
	MatchedCategory bool
}

// SearchResult is the output of Search.
type SearchResult struct {
	Total     uint64
	Hits      []Hit
	ElapsedMS int64
}

// Search executes a structured query (spec.md §4.2's five-step assembly),
// enforcing 1 <= limit <= maxLimit (InvalidLimit otherwise).
func (x *Index) Search(q sq.Query, offset, limit, maxLimit int) (SearchResult, error) {
	if limit < 1 || limit > maxLimit {
		return SearchResult{}, fmt.Errorf("%w: limit must be between 1 and %d", apierr.ErrValidation, maxLimit)
	}

	bleveQuery := buildQuery(q)
	req := bleve.NewSearchRequestOptions(bleveQuery, limit, offset, false)
	req.Fields = []string{"title", "subtitle", "content", "category", "tags_exact", "url", "published_at", "updated_at"}
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Highlight.Fields = []string{"title", "subtitle", "content"}

	if q.Sort == sq.SortLatest {
		req.SortBy([]string{"-updated_at", "id"})
	}

	start := time.Now()
	res, err := x.bidx.Search(req)
	elapsed := time.Since(start)
	if err != nil {
		return SearchResult{}, fmt.Errorf("%w: search: %v", apierr.ErrUpstream, err)
	}

	out := SearchResult{Total: res.Total, ElapsedMS: elapsed.Milliseconds()}
	for _, dh := range res.Hits {
		out.Hits = append(out.Hits, toHit(dh, q))
	}
	return out, nil
}

// AllIDsAndUpdatedAt enumerates every document currently in the index as
// id -> updated_at, paging through bleve's match-all in batches. The feed
// ingester's diff (spec.md §4.3) uses this to find deletions: ids present
// here but absent from a fresh fetch.
func (x *Index) AllIDsAndUpdatedAt() (map[string]time.Time, error) {
	const pageSize = 1000
	out := make(map[string]time.Time)

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), pageSize, 0, false)
	req.Fields = []string{"updated_at"}
	for {
		res, err := x.bidx.Search(req)
		if err != nil {
			return nil, fmt.Errorf("%w: enumerate index: %v", apierr.ErrUpstream, err)
		}
		if len(res.Hits) == 0 {
			break
		}
		for _, dh := range res.Hits {
			out[dh.ID] = fieldTime(dh.Fields, "updated_at")
		}
		req.From += pageSize
		if req.From >= int(res.Total) {
			break
		}
	}
	return out, nil
}

func buildQuery(q sq.Query) bq.Query {
	var textQuery bq.Query
	fields := []string{"title", "subtitle", "content", "tags_text", "category"}
	if len(q.Keywords) > 0 {
		perKeyword := make([]bq.Query, 0, len(q.Keywords))
		for _, kw := range q.Keywords {
			disj := make([]bq.Query, 0, len(fields))
			for _, f := range fields {
				mq := bq.NewMatchQuery(kw)
				mq.SetField(f)
				disj = append(disj, mq)
			}
			perKeyword = append(perKeyword, bq.NewDisjunctionQuery(disj...))
		}
		textQuery = bq.NewConjunctionQuery(perKeyword...)
	} else {
		textQuery = bq.NewMatchAllQuery()
	}

	conj := []bq.Query{textQuery}

	if len(q.Tags) > 0 {
		for _, orig := range q.Tags {
			tq := bq.NewTermQuery(strings.ToLower(orig))
			tq.SetField("tags_exact")
			conj = append(conj, tq)
		}
	}
	if q.Category != nil {
		cq := bq.NewTermQuery(strings.ToLower(*q.Category))
		cq.SetField("category")
		conj = append(conj, cq)
	}
	if q.RangeStart != nil || q.RangeEnd != nil {
		start := time.Unix(0, 0).UTC()
		if q.RangeStart != nil {
			start = *q.RangeStart
		}
		end := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
		if q.RangeEnd != nil {
			end = *q.RangeEnd
		}
		inclusiveStart, inclusiveEnd := true, false
		rq := bq.NewDateRangeInclusiveQuery(start, end, &inclusiveStart, &inclusiveEnd)
		rq.SetField("published_at")
		conj = append(conj, rq)
	}

	return bq.NewConjunctionQuery(conj...)
}

func toHit(dh *search.DocumentMatch, q sq.Query) Hit {
	h := Hit{ID: dh.ID, Score: dh.Score}
	h.Title = fieldString(dh.Fields, "title")
	h.Subtitle = fieldString(dh.Fields, "subtitle")
	h.Content = fieldString(dh.Fields, "content")
	h.URL = fieldString(dh.Fields, "url")
	h.Category = fieldString(dh.Fields, "category")
	h.Tags = fieldStrings(dh.Fields, "tags_exact")
	h.PublishedAt = fieldTime(dh.Fields, "published_at")
	h.UpdatedAt = fieldTime(dh.Fields, "updated_at")

	h.SnippetTitle = snippetFor(dh, "title", h.Title)
	h.SnippetSubtitle = snippetFor(dh, "subtitle", h.Subtitle)
	h.SnippetContent = snippetFor(dh, "content", h.Content)

	lowerTags := map[string]string{}
	for _, t := range h.Tags {
		lowerTags[strings.ToLower(t)] = t
	}
	for lower := range q.Tags {
		if orig, ok := lowerTags[lower]; ok {
			h.MatchedTags = append(h.MatchedTags, orig)
		}
	}
	if q.Category != nil && strings.EqualFold(*q.Category, h.Category) {
		h.MatchedCategory = true
	}
	return h
}

func snippetFor(dh *search.DocumentMatch, field, stored string) string {
	if stored == "" {
		return ""
	}
	if frags, ok := dh.Fragments[field]; ok && len(frags) > 0 {
		return rewriteHighlightTags(frags[0])
	}
	runes := []rune(stored)
	if len(runes) > snippetFallbackRunes {
		return string(runes[:snippetFallbackRunes])
	}
	return stored
}

// rewriteHighlightTags converts bleve's default <mark>/</mark> fragment
// markers into the <b>/</b> wrapping spec.md §4.2 requires.
func rewriteHighlightTags(fragment string) string {
	fragment = strings.ReplaceAll(fragment, "<mark>", highlightPre)
	fragment = strings.ReplaceAll(fragment, "</mark>", highlightPost)
	return fragment
}

func fieldString(fields map[string]interface{}, name string) string {
	if v, ok := fields[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func fieldStrings(fields map[string]interface{}, name string) []string {
	v, ok := fields[name]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{vv}
	}
	return nil
}

func fieldTime(fields map[string]interface{}, name string) time.Time {
	s := fieldString(fields, name)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
