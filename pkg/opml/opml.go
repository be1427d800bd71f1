// Package opml implements the outline-interchange format used to move feed
// subscriptions between readers.
package opml

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rsspie/rsspie/pkg/domain"
)

// uncategorized is the bucket for feeds without an explicit category
const uncategorized = "Uncategorized"

// Outline is one OPML outline node: a feed when xmlUrl is set, a grouping
// folder otherwise
type Outline struct {
	Type     string    `xml:"type,attr,omitempty"`
	Text     string    `xml:"text,attr,omitempty"`
	Title    string    `xml:"title,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// document is the root OPML element
type document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    head     `xml:"head"`
	Body    struct {
		Outlines []Outline `xml:"outline"`
	} `xml:"body"`
}

type head struct {
	Title        string `xml:"title"`
	DateCreated  string `xml:"dateCreated,omitempty"`
	DateModified string `xml:"dateModified,omitempty"`
}

// Feed is one importable subscription extracted from an OPML document
type Feed struct {
	Title    string
	XMLURL   string
	HTMLURL  string
	Category string
}

// Generate renders feeds as an OPML 2.0 document, grouped by category.
// Categories are sorted alphabetically with Uncategorized last, and
// uncategorized feeds sit directly in the body without a folder.
func Generate(feeds []*domain.Feed, now time.Time) ([]byte, error) {
	byCategory := map[string][]*domain.Feed{}
	for _, feed := range feeds {
		category := feed.Category
		if category == "" {
			category = uncategorized
		}
		byCategory[category] = append(byCategory[category], feed)
	}

	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool {
		if categories[i] == uncategorized {
			return false
		}
		if categories[j] == uncategorized {
			return true
		}
		return categories[i] < categories[j]
	})

	doc := document{Version: "2.0"}
	doc.Head = head{
		Title:        "rsspie subscriptions",
		DateCreated:  now.UTC().Format(time.RFC1123),
		DateModified: now.UTC().Format(time.RFC1123),
	}

	for _, category := range categories {
		if category == uncategorized {
			for _, feed := range byCategory[category] {
				doc.Body.Outlines = append(doc.Body.Outlines, feedOutline(feed))
			}
			continue
		}

		folder := Outline{Text: category, Title: category}
		for _, feed := range byCategory[category] {
			folder.Outlines = append(folder.Outlines, feedOutline(feed))
		}
		doc.Body.Outlines = append(doc.Body.Outlines, folder)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal opml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func feedOutline(feed *domain.Feed) Outline {
	return Outline{
		Type:    "rss",
		Text:    feed.Title,
		Title:   feed.Title,
		XMLURL:  feed.URL,
		HTMLURL: feed.SiteURL,
	}
}

// Parse extracts subscriptions from an OPML document. Outline folders may
// nest arbitrarily; the nearest enclosing folder name becomes the feed's
// category. Malformed entries are collected as errors without failing the
// rest of the document.
func Parse(data []byte) (feeds []Feed, errs []string) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, []string{fmt.Sprintf("invalid OPML document: %v", err)}
	}

	for _, outline := range doc.Body.Outlines {
		feeds, errs = walkOutline(outline, "", feeds, errs)
	}
	return feeds, errs
}

func walkOutline(node Outline, category string, feeds []Feed, errs []string) ([]Feed, []string) {
	if node.XMLURL != "" {
		feedURL := strings.TrimSpace(node.XMLURL)
		if !validURL(feedURL) {
			errs = append(errs, fmt.Sprintf("invalid feed url: %q", feedURL))
			return feeds, errs
		}

		title := node.Text
		if title == "" {
			title = node.Title
		}
		if title == "" {
			title = "Untitled Feed"
		}
		feeds = append(feeds, Feed{
			Title:    title,
			XMLURL:   feedURL,
			HTMLURL:  node.HTMLURL,
			Category: category,
		})
		return feeds, errs
	}

	// a folder: its name scopes the nested outlines
	name := node.Text
	if name == "" {
		name = node.Title
	}
	for _, child := range node.Outlines {
		feeds, errs = walkOutline(child, name, feeds, errs)
	}
	return feeds, errs
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
