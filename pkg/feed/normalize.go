package feed

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ExtractSummary derives a plain-text summary from an HTML body: markup
// stripped, whitespace collapsed, truncated to maxLength characters with a
// trailing ellipsis marker when cut
func ExtractSummary(content string, maxLength int) string {
	if content == "" {
		return ""
	}

	text := stripTags(content)
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	return strings.TrimSpace(string(runes[:maxLength])) + "..."
}

// stripTags returns the text content of an HTML fragment. tokenizer based,
// so malformed markup degrades to whatever text is recoverable instead of
// failing
func stripTags(s string) string {
	tok := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(tok.Text())
			b.WriteByte(' ')
		case html.StartTagToken:
			// script and style bodies are not article text
			name, _ := tok.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skipElement(tok, tag)
			}
		}
	}
}

// skipElement advances the tokenizer past the matching end tag
func skipElement(tok *html.Tokenizer, tag string) {
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return
		case html.EndTagToken:
			if name, _ := tok.TagName(); string(name) == tag {
				return
			}
		}
	}
}

// extractFavicon guesses the conventional favicon location for a site link
func extractFavicon(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/favicon.ico"
}
