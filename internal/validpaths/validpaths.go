// Package validpaths implements Inkstone's valid-path allow-list loader
// (spec.md §4.4, C5): fetch, parse, and an atomic copy-on-write swap.
package validpaths

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"inkstone/internal/apierr"
)

// Set is the process-wide valid-path allow-list: copy-on-write, readers
// hold a lock-free snapshot (spec.md §5).
type Set struct {
	ptr atomic.Pointer[map[string]struct{}]
}

// NewEmpty returns a Set with no successful fetch yet: Contains is always
// false and Ready reports false, matching spec.md §3's "not ready" state.
func NewEmpty() *Set {
	s := &Set{}
	return s
}

func (s *Set) Ready() bool {
	return s.ptr.Load() != nil
}

func (s *Set) Contains(path string) bool {
	m := s.ptr.Load()
	if m == nil {
		return false
	}
	_, ok := (*m)[path]
	return ok
}

func (s *Set) Len() int {
	m := s.ptr.Load()
	if m == nil {
		return 0
	}
	return len(*m)
}

// Paths returns a snapshot slice, for warming dependent caches.
func (s *Set) Paths() []string {
	m := s.ptr.Load()
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(*m))
	for p := range *m {
		out = append(out, p)
	}
	return out
}

func (s *Set) store(paths map[string]struct{}) {
	s.ptr.Store(&paths)
}

// Loader fetches and parses the plain-text allow-list.
type Loader struct {
	url    string
	client *http.Client
	logger *log.Logger
}

func New(url string, timeout time.Duration, logger *log.Logger) *Loader {
	return &Loader{url: url, client: &http.Client{Timeout: timeout}, logger: logger}
}

// Refresh fetches the allow-list and atomically swaps it into set on
// success. An empty result after filtering is treated as a failure
// (spec.md §4.4): it never replaces a previously-populated set.
func (l *Loader) Refresh(ctx context.Context, set *Set) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return fmt.Errorf("%w: build valid-paths request: %v", apierr.ErrUpstream, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetch valid-paths: %v", apierr.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: valid-paths fetch status %d", apierr.ErrUpstream, resp.StatusCode)
	}

	paths, err := parse(resp.Body, l.logger)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("%w: valid-paths fetch returned zero usable paths", apierr.ErrUpstream)
	}

	set.store(paths)
	return nil
}

func parse(r io.Reader, logger *log.Logger) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "/") || strings.ContainsAny(line, " \t") {
			if logger != nil {
				logger.Printf("valid-paths: skipping malformed line %q", line)
			}
			continue
		}
		out[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan valid-paths body: %v", apierr.ErrUpstream, err)
	}
	return out, nil
}
