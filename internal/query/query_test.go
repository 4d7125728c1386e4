package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"inkstone/internal/apierr"
)

func TestParseEmptyQueryRejected(t *testing.T) {
	_, err := Parse(len("q="), "", "")
	require.ErrorIs(t, err, apierr.ErrValidation)
}

func TestParseOversizedURL(t *testing.T) {
	_, err := Parse(513, "hello", "")
	require.ErrorIs(t, err, apierr.ErrOversized)
}

func TestParseControlChar(t *testing.T) {
	_, err := Parse(10, "hello\x01world", "")
	require.ErrorIs(t, err, apierr.ErrValidation)
}

func TestParseTooManyKeywords(t *testing.T) {
	q := ""
	for i := 0; i < 11; i++ {
		q += string(rune('a'+i)) + " "
	}
	_, err := Parse(len(q), q, "")
	require.ErrorIs(t, err, apierr.ErrValidation)
}

func TestParseKeywordsDeduped(t *testing.T) {
	q, err := Parse(20, "Tantivy tantivy rust", "")
	require.NoError(t, err)
	require.Equal(t, []string{"Tantivy", "rust"}, q.Keywords)
}

func TestParseTagsAndCategory(t *testing.T) {
	q, err := Parse(40, "Tantivy tags:Rust,Search category:blog", "")
	require.NoError(t, err)
	require.Equal(t, []string{"Tantivy"}, q.Keywords)
	require.Equal(t, "Rust", q.Tags["rust"])
	require.Equal(t, "Search", q.Tags["search"])
	require.NotNil(t, q.Category)
	require.Equal(t, "blog", *q.Category)
}

func TestParseCategoryLastWins(t *testing.T) {
	q, err := Parse(40, "category:a category:b", "")
	require.NoError(t, err)
	require.Equal(t, "b", *q.Category)
}

func TestParseRangeOnly(t *testing.T) {
	q, err := Parse(30, "range:2020-01-01~", "")
	require.NoError(t, err)
	require.NotNil(t, q.RangeStart)
	require.Nil(t, q.RangeEnd)
	require.Equal(t, "2020-01-01", q.RangeStart.Format(dateLayout))
}

func TestParseRangeBothEmptyRejected(t *testing.T) {
	_, err := Parse(10, "range:~", "")
	require.ErrorIs(t, err, apierr.ErrValidation)
}

func TestParseRangeInverted(t *testing.T) {
	_, err := Parse(30, "range:2021-01-01~2020-01-01", "")
	require.ErrorIs(t, err, apierr.ErrValidation)
}

func TestParseRangeBadDate(t *testing.T) {
	_, err := Parse(30, "range:not-a-date~", "")
	require.True(t, errors.Is(err, apierr.ErrValidation))
}

func TestParseSortModes(t *testing.T) {
	q, err := Parse(10, "hello", "latest")
	require.NoError(t, err)
	require.Equal(t, SortLatest, q.Sort)

	q, err = Parse(10, "hello", "")
	require.NoError(t, err)
	require.Equal(t, SortRelevance, q.Sort)

	_, err = Parse(10, "hello", "bogus")
	require.ErrorIs(t, err, apierr.ErrValidation)
}

func TestParseQuotedSubstringKeptIntact(t *testing.T) {
	q, err := Parse(30, `"hello world" foo`, "")
	require.NoError(t, err)
	require.Equal(t, []string{"hello world", "foo"}, q.Keywords)
}

func TestParseWhitespaceCollapsed(t *testing.T) {
	q, err := Parse(30, "hello   \t\n  world", "")
	require.NoError(t, err)
	require.Equal(t, []string{"hello", "world"}, q.Keywords)
}

func TestRoundTrip(t *testing.T) {
	original, err := Parse(60, "Tantivy rust tags:Rust,Search category:blog range:2020-01-01~2021-01-01", "latest")
	require.NoError(t, err)

	serialized := Serialize(original)
	reparsed, err := Parse(len(serialized), serialized, "latest")
	require.NoError(t, err)

	require.Equal(t, original.Keywords, reparsed.Keywords)
	require.Equal(t, original.Tags, reparsed.Tags)
	require.Equal(t, original.Category, reparsed.Category)
	require.Equal(t, original.RangeStart, reparsed.RangeStart)
	require.Equal(t, original.RangeEnd, reparsed.RangeEnd)
	require.Equal(t, original.Sort, reparsed.Sort)
}
