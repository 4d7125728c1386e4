// Package kudoscache implements Inkstone's in-memory kudos counters and
// write-behind persistence (spec.md §4.7, C10): per-path mutation is
// serialized by a per-path lock, and a single coarse-locked pending-writes
// log absorbs writes until the next flush.
package kudoscache

import (
	"context"
	"sync"
	"time"

	"inkstone/internal/store"
)

type pathState struct {
	mu          sync.Mutex
	count       uint64
	interacted  map[string]struct{}
}

// pendingWrite is one not-yet-flushed (path, interaction_id) pair.
type pendingWrite struct {
	path          string
	interactionID string
	at            time.Time
}

// Cache is the process-wide kudos cache: one entry per valid path, a
// single pending-writes log protected by one coarse lock (spec.md §5).
type Cache struct {
	st *store.Store

	mu     sync.Mutex // guards paths map structure, not per-path contents
	paths  map[string]*pathState

	pendingMu sync.Mutex
	pending   []pendingWrite
}

func New(st *store.Store) *Cache {
	return &Cache{st: st, paths: make(map[string]*pathState)}
}

// Warm loads persisted counts and every recorded interaction id (from all
// days, not only today) for every valid path into memory, ahead of binding
// the HTTP listener (spec.md §5's startup order).
func (c *Cache) Warm(ctx context.Context, validPaths []string) error {
	for _, p := range validPaths {
		count, err := c.st.KudosCount(ctx, p)
		if err != nil {
			return err
		}
		ids, err := c.st.KudosInteractionIDs(ctx, p)
		if err != nil {
			return err
		}
		interacted := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			interacted[id] = struct{}{}
		}
		c.mu.Lock()
		c.paths[p] = &pathState{count: uint64(count), interacted: interacted}
		c.mu.Unlock()
	}
	return nil
}

func (c *Cache) stateFor(path string) *pathState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.paths[path]
	if !ok {
		st = &pathState{interacted: make(map[string]struct{})}
		c.paths[path] = st
	}
	return st
}

// Known reports whether path has an entry in the cache: every warmed path,
// plus any other path already passed to Get or PutKudos.
func (c *Cache) Known(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.paths[path]
	return ok
}

// Get returns the current count and whether interactionID has already
// kudos'd path — used to serve GET /kudos.
func (c *Cache) Get(path, interactionID string) (count uint64, interacted bool) {
	st := c.stateFor(path)
	st.mu.Lock()
	defer st.mu.Unlock()
	_, interacted = st.interacted[interactionID]
	return st.count, interacted
}

// PutKudos records a kudos interaction idempotently: a repeat
// interactionID for the same path is a no-op success (spec.md §4.7).
// Returns the resulting count and whether this call was the one that
// incremented it.
func (c *Cache) PutKudos(path, interactionID string, at time.Time) (count uint64, incremented bool) {
	st := c.stateFor(path)
	st.mu.Lock()
	if _, already := st.interacted[interactionID]; already {
		count = st.count
		st.mu.Unlock()
		return count, false
	}
	st.interacted[interactionID] = struct{}{}
	st.count++
	count = st.count
	st.mu.Unlock()

	c.pendingMu.Lock()
	c.pending = append(c.pending, pendingWrite{path: path, interactionID: interactionID, at: at})
	c.pendingMu.Unlock()
	return count, true
}

// Flush drains the pending-writes log in one transaction, insert-ignore-
// on-conflict per row (spec.md §4.7). On failure the whole batch is
// retained for the next flush; the primary key absorbs duplicates across
// restart.
func (c *Cache) Flush(ctx context.Context) error {
	c.pendingMu.Lock()
	batch := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	rows := make([]store.KudosRow, len(batch))
	for i, w := range batch {
		rows[i] = store.KudosRow{Path: w.path, InteractionID: w.interactionID, CreatedAt: w.at}
	}

	if err := c.st.InsertKudosIgnoreBatch(ctx, rows); err != nil {
		c.pendingMu.Lock()
		c.pending = append(batch, c.pending...)
		c.pendingMu.Unlock()
		return err
	}
	return nil
}

// PendingLen reports the current pending-writes log length, for tests and
// diagnostics.
func (c *Cache) PendingLen() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}
