// Package pulse implements Inkstone's page-view/engagement recorder
// (spec.md §4.8, C11): request classification (UA family/device, referer
// source type, country) and persistence via internal/store.
package pulse

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"inkstone/internal/apierr"
	"inkstone/internal/store"
)

type Recorder struct {
	st   *store.Store
	site string
}

func New(st *store.Store, site string) *Recorder {
	return &Recorder{st: st, site: site}
}

// PageView is the validated input to RecordPageView.
type PageView struct {
	PageInstanceID string
	Path           string
	UserStatsID    string
	UserAgent      string
	Referer        string
	CFIPCountry    string
	XForwardedFor  string
}

// RecordPageView validates page_instance_id and inserts one pulse_events
// row, then upserts the PulseVisitor (spec.md §4.8).
func (r *Recorder) RecordPageView(ctx context.Context, pv PageView, now time.Time) error {
	if _, err := uuid.Parse(pv.PageInstanceID); err != nil {
		return apierr.ErrValidation
	}

	family, device := classifyUserAgent(pv.UserAgent)
	sourceType, refHost := classifyReferer(pv.Referer)
	country := classifyCountry(pv.CFIPCountry, pv.XForwardedFor)

	if err := r.st.InsertPulseEvent(ctx, store.PulseEvent{
		PageInstanceID:  pv.PageInstanceID,
		Path:            pv.Path,
		Site:            r.site,
		SessionStartTS:  now,
		TS:              now,
		UserStatsID:     pv.UserStatsID,
		UAFamily:        family,
		Device:          device,
		EntrySourceType: sourceType,
		EntryRefHost:    refHost,
		Country:         country,
	}); err != nil {
		return apierr.ErrUpstream
	}

	if err := r.st.UpsertPulseVisitor(ctx, r.site, pv.UserStatsID, now, sourceType, refHost); err != nil {
		return apierr.ErrUpstream
	}
	return nil
}

// RecordEngagement sets duration_ms for an existing page view. A missing
// row is tolerated (spec.md §4.8: "silently accepted ... to tolerate race
// with flush").
func (r *Recorder) RecordEngagement(ctx context.Context, pageInstanceID string, durationMS int64) error {
	if _, err := uuid.Parse(pageInstanceID); err != nil {
		return apierr.ErrValidation
	}
	if err := r.st.SetPulseEngagement(ctx, pageInstanceID, durationMS); err != nil {
		return apierr.ErrUpstream
	}
	return nil
}

// classifyUserAgent derives a coarse browser family and device class from
// a User-Agent string. No UA-parser library appears anywhere in the corpus
// (see DESIGN.md), so this is a small ordered rule table over substrings,
// in the corpus's own "ordered if/else over strings.Contains" idiom.
func classifyUserAgent(ua string) (family, device string) {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "edg/"):
		family = "edge"
	case strings.Contains(lower, "chrome/"):
		family = "chrome"
	case strings.Contains(lower, "firefox/"):
		family = "firefox"
	case strings.Contains(lower, "safari/") && !strings.Contains(lower, "chrome/"):
		family = "safari"
	case ua == "":
		family = "unknown"
	default:
		family = "other"
	}

	switch {
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "iphone") || strings.Contains(lower, "android"):
		device = "mobile"
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		device = "tablet"
	case ua == "":
		device = "unknown"
	default:
		device = "desktop"
	}
	return family, device
}

var searchHosts = map[string]struct{}{
	"google.com": {}, "www.google.com": {}, "bing.com": {}, "www.bing.com": {},
	"duckduckgo.com": {}, "search.yahoo.com": {}, "baidu.com": {}, "www.baidu.com": {},
}

var socialHosts = map[string]struct{}{
	"t.co": {}, "twitter.com": {}, "x.com": {}, "facebook.com": {}, "www.facebook.com": {},
	"reddit.com": {}, "www.reddit.com": {}, "l.instagram.com": {}, "lnkd.in": {}, "linkedin.com": {},
}

// classifyReferer buckets a Referer header into direct|search|social|external
// and returns its registered host (spec.md §4.8).
func classifyReferer(referer string) (sourceType, refHost string) {
	if referer == "" {
		return "direct", ""
	}
	u, err := url.Parse(referer)
	if err != nil || u.Host == "" {
		return "direct", ""
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case isInSet(host, searchHosts):
		return "search", host
	case isInSet(host, socialHosts):
		return "social", host
	default:
		return "external", host
	}
}

func isInSet(host string, set map[string]struct{}) bool {
	_, ok := set[host]
	return ok
}

// countryByIP is a small static stand-in for a GeoIP dataset: no GeoIP
// library or database ships in the corpus (see DESIGN.md). It holds a
// single literal address, the IPv4 loopback, itself mapped to "unknown", so
// an X-Forwarded-For address never resolves to a country; the result is
// "unknown" unless CF-IPCountry is set.
var countryByIP = map[string]string{
	"127.0.0.1": "unknown",
}

func classifyCountry(cfIPCountry, xForwardedFor string) string {
	if cfIPCountry != "" {
		return cfIPCountry
	}
	if xForwardedFor != "" {
		first := strings.TrimSpace(strings.Split(xForwardedFor, ",")[0])
		if c, ok := countryByIP[first]; ok {
			return c
		}
	}
	return "unknown"
}

// ExtractHeaders reads the classification inputs off an inbound request.
func ExtractHeaders(r *http.Request) (ua, referer, cfIPCountry, xForwardedFor string) {
	return r.Header.Get("User-Agent"), r.Header.Get("Referer"), r.Header.Get("CF-IPCountry"), r.Header.Get("X-Forwarded-For")
}
