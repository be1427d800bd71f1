// Package sanitize renders untrusted remote HTML safe for display.
// The allowlist policy is the authoritative filter; the detector functions
// are advisory signals for the UI and must never replace it.
package sanitize

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer transforms untrusted HTML into safe HTML using a fixed allowlist.
// It is a pure transform with no network or storage access.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// New creates a sanitizer with the allowlist policy: structural and
// text-formatting elements only, no media, no embeds, no inline styles,
// no event handlers. Text content of stripped elements is preserved.
func New() *Sanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"strong", "b", "em", "i", "u", "strike", "del", "s",
		"a", "abbr", "acronym", "address",
		"blockquote", "cite", "q",
		"code", "pre", "kbd", "samp", "var",
		"ul", "ol", "li", "dl", "dt", "dd",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption", "colgroup", "col",
		"div", "span", "small", "sub", "sup", "mark", "time", "wbr",
		"details", "summary", "figure", "figcaption",
	)

	// minimal attribute set, no src anywhere so images can't sneak in
	// through an allowed element
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("title").Globally()
	p.AllowAttrs("cite").OnElements("blockquote", "q", "del")
	p.AllowAttrs("datetime").OnElements("time")
	p.AllowAttrs("colspan", "rowspan", "headers").OnElements("td", "th")
	p.AllowAttrs("span").OnElements("col", "colgroup")
	p.AllowAttrs("start", "reversed", "type").OnElements("ol")
	p.AllowAttrs("class", "id", "lang", "dir").Globally()
	p.AllowAttrs("open").OnElements("details")

	// network and messaging schemes only, drops javascript:, data:, vbscript:
	// and friends by removing the destination attribute entirely. relative
	// URLs are dropped too: feed content has no base URL to resolve them
	// against, and only fully qualified links get the target/rel treatment
	// below, which must hold for every retained link.
	p.AllowURLSchemes("http", "https", "mailto", "tel")
	p.RequireParseableURLs(true)

	// every retained link opens in a new context with safe rel attributes
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &Sanitizer{policy: p}
}

// Sanitize returns the safe rendition of raw HTML
func (s *Sanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return s.policy.Sanitize(raw)
}

// advisory detectors run against the original content to decide whether the
// read path shows a warning banner. deliberately simpler than the policy,
// they report what the sanitizer is about to remove
var (
	dangerousRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<script\b`),
		regexp.MustCompile(`(?i)<style\b`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)\bon\w+\s*=`), // onclick, onerror and the rest
		regexp.MustCompile(`(?i)<iframe\b`),
		regexp.MustCompile(`(?i)<embed\b`),
		regexp.MustCompile(`(?i)<object\b`),
	}
	imgRe = regexp.MustCompile(`(?i)<img\b`)
)

// HasDangerousMarkup reports whether raw content contains script, style,
// embedding elements or event-handler attributes
func HasDangerousMarkup(content string) bool {
	if content == "" {
		return false
	}
	for _, re := range dangerousRe {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

// HasImages reports whether raw content contains image elements
func HasImages(content string) bool {
	if content == "" {
		return false
	}
	return imgRe.MatchString(content)
}
