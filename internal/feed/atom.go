package feed

import (
	"encoding/xml"
	"fmt"

	"inkstone/internal/apierr"
)

// atomFeed/atomEntry mirror the small slice of the Atom XML schema Inkstone
// needs. No Atom/RSS client library appears anywhere in the corpus (see
// DESIGN.md), so the feed's own schema is parsed directly with
// encoding/xml, in a plain "typed struct in, typed struct out" style.
type atomFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entries []atomEntry  `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Summary    string         `xml:"summary"`
	Content    atomContent    `xml:"content"`
	Published  string         `xml:"published"`
	Updated    string         `xml:"updated"`
	Links      []atomLink     `xml:"link"`
	Categories []atomCategory `xml:"category"`
}

type atomContent struct {
	Type string `xml:"type,attr"`
	Body string `xml:",chardata"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

type atomCategory struct {
	Term   string `xml:"term,attr"`
	Scheme string `xml:"scheme,attr"`
}

func parseAtom(body []byte) (atomFeed, error) {
	var f atomFeed
	if err := xml.Unmarshal(body, &f); err != nil {
		return atomFeed{}, fmt.Errorf("%w: parse atom feed: %v", apierr.ErrUpstream, err)
	}
	return f, nil
}

func entryURL(e atomEntry) string {
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(e.Links) > 0 {
		return e.Links[0].Href
	}
	return ""
}

// entryTagsAndCategory splits an Atom entry's <category> elements into the
// tag set and the single category: scheme="category" marks the category,
// every other term is a tag (spec.md §4.3).
func entryTagsAndCategory(e atomEntry) (tags []string, category string) {
	for _, c := range e.Categories {
		if c.Scheme == "category" && category == "" {
			category = c.Term
			continue
		}
		if c.Term != "" {
			tags = append(tags, c.Term)
		}
	}
	return tags, category
}
