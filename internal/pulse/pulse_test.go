package pulse

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"inkstone/internal/apierr"
	"inkstone/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "inkstone.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordPageViewRejectsInvalidUUID(t *testing.T) {
	r := New(newTestStore(t), "example.com")
	err := r.RecordPageView(context.Background(), PageView{PageInstanceID: "not-a-uuid", Path: "/p"}, time.Now())
	require.ErrorIs(t, err, apierr.ErrValidation)
}

func TestRecordPageViewInsertsAndUpsertsVisitor(t *testing.T) {
	s := newTestStore(t)
	r := New(s, "example.com")
	id := uuid.NewString()

	err := r.RecordPageView(context.Background(), PageView{
		PageInstanceID: id,
		Path:           "/p",
		UserStatsID:    "stats1",
		UserAgent:      "Mozilla/5.0 Chrome/120.0 Safari/537.36",
		Referer:        "https://www.google.com/search?q=inkstone",
	}, time.Now())
	require.NoError(t, err)

	v, err := s.GetPulseVisitor(context.Background(), "example.com", "stats1")
	require.NoError(t, err)
	require.Equal(t, "search", v.EntrySourceType)
	require.Equal(t, "www.google.com", v.EntryRefHost)
}

func TestRecordEngagementToleratesMissingRow(t *testing.T) {
	r := New(newTestStore(t), "example.com")
	err := r.RecordEngagement(context.Background(), uuid.NewString(), 1500)
	require.NoError(t, err)
}

func TestClassifyUserAgent(t *testing.T) {
	family, device := classifyUserAgent("Mozilla/5.0 (iPhone; CPU iPhone OS) AppleWebKit Safari/604.1")
	require.Equal(t, "safari", family)
	require.Equal(t, "mobile", device)

	family, device = classifyUserAgent("Mozilla/5.0 (Windows NT 10.0) AppleWebKit Chrome/120.0 Safari/537.36")
	require.Equal(t, "chrome", family)
	require.Equal(t, "desktop", device)
}

func TestClassifyReferer(t *testing.T) {
	sourceType, host := classifyReferer("")
	require.Equal(t, "direct", sourceType)
	require.Empty(t, host)

	sourceType, host = classifyReferer("https://www.bing.com/search?q=x")
	require.Equal(t, "search", sourceType)
	require.Equal(t, "www.bing.com", host)

	sourceType, host = classifyReferer("https://t.co/abc123")
	require.Equal(t, "social", sourceType)
	require.Equal(t, "t.co", host)

	sourceType, host = classifyReferer("https://example.org/post")
	require.Equal(t, "external", sourceType)
	require.Equal(t, "example.org", host)
}

func TestClassifyCountryPrefersCloudflareHeader(t *testing.T) {
	require.Equal(t, "US", classifyCountry("US", "203.0.113.1"))
	require.Equal(t, "unknown", classifyCountry("", "203.0.113.1"))
	require.Equal(t, "unknown", classifyCountry("", ""))
}
