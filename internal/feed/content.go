package feed

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractText strips HTML tags, decodes entities, and collapses whitespace
// runs to single spaces (spec.md §4.3), using goquery the way the corpus's
// HTML-scraping repos do (N0tT1m-code-lupe-v2, hackclub-news manifests) —
// selector-driven text extraction rather than regexp over markup.
func extractText(htmlBody string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return collapseSpaces(htmlBody)
	}
	return collapseSpaces(doc.Text())
}

func collapseSpaces(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
