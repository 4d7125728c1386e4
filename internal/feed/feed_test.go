package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtractTextStripsTagsAndCollapsesWhitespace(t *testing.T) {
	got := extractText("<p>Hello   <b>world</b></p>\n<p>again</p>")
	require.Equal(t, "Hello world again", got)
}

func TestEntryTagsAndCategory(t *testing.T) {
	e := atomEntry{Categories: []atomCategory{
		{Term: "Rust"},
		{Term: "Blog", Scheme: "category"},
		{Term: "Search"},
	}}
	tags, category := entryTagsAndCategory(e)
	require.Equal(t, []string{"Rust", "Search"}, tags)
	require.Equal(t, "Blog", category)
}

func TestDiffUpsertsNewAndChanged(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	current := []ExistingDoc{
		{ID: "a", UpdatedAt: now},
		{ID: "b", UpdatedAt: now.Add(-time.Hour)},
	}
	fresh := []Post{
		{ID: "a", UpdatedAt: now},             // unchanged
		{ID: "b", UpdatedAt: now},              // changed
		{ID: "c", UpdatedAt: now},              // new
	}
	upserts, deletes := Diff(current, fresh)
	require.Len(t, upserts, 2)
	ids := []string{upserts[0].ID, upserts[1].ID}
	require.ElementsMatch(t, []string{"b", "c"}, ids)
	require.Empty(t, deletes)
}

func TestDiffDeletesMissingFromFeed(t *testing.T) {
	now := time.Now().UTC()
	current := []ExistingDoc{{ID: "a", UpdatedAt: now}, {ID: "gone", UpdatedAt: now}}
	fresh := []Post{{ID: "a", UpdatedAt: now}}
	upserts, deletes := Diff(current, fresh)
	require.Empty(t, upserts)
	require.Equal(t, []string{"gone"}, deletes)
}
