// Package docindex implements Inkstone's document schema and full-text
// index engine (spec.md §4.2, C2+C3): field mappings/analyzers, structured
// query assembly, commit semantics, and snippet highlighting, built on
// bleve.
package docindex

import (
	"time"

	"github.com/blevesearch/bleve/v2/mapping"
)

// keywordLowercaseAnalyzer is a single-token analyzer like bleve's built-in
// "keyword" (the whole field value becomes one term) but with a lowercase
// token filter, so tags_exact/category match case-insensitively the way
// the query side already lowercases its filter terms (spec.md §4.1).
const keywordLowercaseAnalyzer = "keyword_lowercase"

// Doc is the indexed representation of a Post (spec.md §3). Tags are
// exposed as a slice; the mapping fans them out into both the analyzed
// tags_text field and the exact-match tags_exact field.
type Doc struct {
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

// indexDoc is what actually gets handed to bleve; json tags double as
// bleve's field names so the on-disk field names match spec.md §4.2's
// table exactly (id, title, subtitle, content, tags_text, tags_exact,
// category, url, published_at, updated_at).
type indexDoc struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Subtitle    string    `json:"subtitle"`
	Content     string    `json:"content"`
	TagsText    string    `json:"tags_text"`
	TagsExact   []string  `json:"tags_exact"`
	Category    string    `json:"category"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toIndexDoc(d Doc) indexDoc {
	return indexDoc{
		ID:          d.ID,
		Title:       d.Title,
		Subtitle:    d.Subtitle,
		Content:     d.Content,
		TagsText:    joinTags(d.Tags),
		TagsExact:   d.Tags,
		Category:    d.Category,
		URL:         d.URL,
		PublishedAt: d.PublishedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}

// NewMapping builds the bit-exact field/analyzer table from spec.md §4.2.
func NewMapping() *mapping.IndexMappingImpl {
	im := mapping.NewIndexMapping()
	im.DefaultAnalyzer = "en"

	if err := im.AddCustomAnalyzer(keywordLowercaseAnalyzer, map[string]interface{}{
		"type":          "custom",
		"tokenizer":     "single",
		"token_filters": []string{"to_lower"},
	}); err != nil {
		panic("docindex: register keyword_lowercase analyzer: " + err.Error())
	}

	doc := mapping.NewDocumentMapping()

	rawKeyword := mapping.NewTextFieldMapping()
	rawKeyword.Analyzer = "keyword"
	rawKeyword.Store = true
	rawKeyword.IncludeInAll = false

	text := func(store bool) *mapping.FieldMapping {
		f := mapping.NewTextFieldMapping()
		f.Analyzer = "en"
		f.Store = store
		return f
	}

	tagsText := mapping.NewTextFieldMapping()
	tagsText.Analyzer = "en"
	tagsText.Store = false

	tagsExact := mapping.NewTextFieldMapping()
	tagsExact.Analyzer = keywordLowercaseAnalyzer
	tagsExact.Store = true

	category := mapping.NewTextFieldMapping()
	category.Analyzer = keywordLowercaseAnalyzer
	category.Store = true
	category.IncludeInAll = false

	notIndexed := mapping.NewTextFieldMapping()
	notIndexed.Index = false
	notIndexed.Store = true
	notIndexed.IncludeInAll = false

	dt := mapping.NewDateTimeFieldMapping()
	dt.Store = true

	doc.AddFieldMappingsAt("id", rawKeyword)
	doc.AddFieldMappingsAt("title", text(true))
	doc.AddFieldMappingsAt("subtitle", text(true))
	doc.AddFieldMappingsAt("content", text(true))
	doc.AddFieldMappingsAt("tags_text", tagsText)
	doc.AddFieldMappingsAt("tags_exact", tagsExact)
	doc.AddFieldMappingsAt("category", category)
	doc.AddFieldMappingsAt("url", notIndexed)
	doc.AddFieldMappingsAt("published_at", dt)
	doc.AddFieldMappingsAt("updated_at", dt)

	im.DefaultMapping = doc
	return im
}
