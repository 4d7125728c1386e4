// Package douban implements Inkstone's Douban marks crawler (spec.md §4.10,
// C6): paginated HTML scrape of a user's marks listing, parsed with goquery
// selectors in the same idiom as the feed ingester's content extraction.
// Every request carries the single cookie and User-Agent from Config; they
// are not rotated between requests.
package douban

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"inkstone/internal/apierr"
	"inkstone/internal/store"
)

// minPageDelay is the per-page rate-limit floor (spec.md §4.10: "≥ 1s").
// Configurable upward via Config.PageDelay, never down.
const minPageDelay = 1200 * time.Millisecond

type Config struct {
	UID       string
	Cookie    string
	UserAgent string
	MaxPages  int // 0 = unlimited
	PageDelay time.Duration
}

type Crawler struct {
	cfg     Config
	client  *http.Client
	baseURL string
}

func New(cfg Config, timeout time.Duration) *Crawler {
	if cfg.PageDelay < minPageDelay {
		cfg.PageDelay = minPageDelay
	}
	return &Crawler{cfg: cfg, client: &http.Client{Timeout: timeout}, baseURL: "https://movie.douban.com"}
}

// CrawlAll paginates the marks listing until an empty page, MaxPages is
// reached, or the request fails, sleeping at least PageDelay between pages.
func (c *Crawler) CrawlAll(ctx context.Context) ([]store.DoubanItem, error) {
	var all []store.DoubanItem
	for page := 0; c.cfg.MaxPages == 0 || page < c.cfg.MaxPages; page++ {
		items, err := c.fetchPage(ctx, page*15)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}
		all = append(all, items...)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.PageDelay):
		}
	}
	return all, nil
}

func (c *Crawler) fetchPage(ctx context.Context, start int) ([]store.DoubanItem, error) {
	url := fmt.Sprintf("%s/people/%s/collect?start=%d&sort=time&mode=grid", c.baseURL, c.cfg.UID, start)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build douban request: %v", apierr.ErrUpstream, err)
	}
	if c.cfg.Cookie != "" {
		req.Header.Set("Cookie", c.cfg.Cookie)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch douban page: %v", apierr.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: douban page status %d", apierr.ErrUpstream, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse douban page: %v", apierr.ErrUpstream, err)
	}
	return parseItems(doc), nil
}

func parseItems(doc *goquery.Document) []store.DoubanItem {
	var items []store.DoubanItem
	doc.Find(".item").Each(func(i int, sel *goquery.Selection) {
		link := sel.Find(".title a").First()
		href, _ := link.Attr("href")
		id := idFromHref(href)
		if id == "" {
			return
		}
		title := strings.TrimSpace(link.Find("em").Text())
		if title == "" {
			title = strings.TrimSpace(link.Text())
		}

		var poster *string
		if src, ok := sel.Find(".pic img").First().Attr("src"); ok && src != "" {
			poster = &src
		}

		var rating *int
		sel.Find(".rating1-t, .rating2-t, .rating3-t, .rating4-t, .rating5-t").EachWithBreak(func(_ int, r *goquery.Selection) bool {
			class, _ := r.Attr("class")
			for n := 1; n <= 5; n++ {
				if strings.Contains(class, fmt.Sprintf("rating%d-t", n)) {
					rating = &n
					return false
				}
			}
			return true
		})

		var dateStr *string
		if d := strings.TrimSpace(sel.Find(".date").Text()); d != "" {
			dateStr = &d
		}

		var comment *string
		if cm := strings.TrimSpace(sel.Find(".comment").Text()); cm != "" {
			comment = &cm
		}

		var tags []string
		if tagAttr, ok := sel.Find(".title").Attr("data-tags"); ok && tagAttr != "" {
			for _, t := range strings.Split(tagAttr, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tags = append(tags, t)
				}
			}
		}

		items = append(items, store.DoubanItem{
			Type:      "movie",
			ID:        id,
			Title:     title,
			Poster:    poster,
			Rating:    rating,
			Tags:      tags,
			Comment:   comment,
			Date:      dateStr,
			UpdatedAt: time.Now().UTC(),
		})
	})
	return items
}

// idFromHref extracts the numeric subject id from a
// https://movie.douban.com/subject/<id>/ style URL.
func idFromHref(href string) string {
	href = strings.TrimSuffix(href, "/")
	parts := strings.Split(href, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if _, err := strconv.Atoi(parts[i]); err == nil {
			return parts[i]
		}
	}
	return ""
}
