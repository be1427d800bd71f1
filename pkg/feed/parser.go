// Package feed retrieves remote syndication documents and turns them into
// the canonical form the rest of the system works with.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/rsspie/rsspie/pkg/domain"
)

// summaryLength is the character budget for derived article summaries
const summaryLength = 200

// Parser fetches and parses RSS/Atom feeds into canonical form
type Parser struct {
	client    *http.Client
	userAgent string
}

// NewParser creates a feed parser with a bounded network timeout
func NewParser(timeout time.Duration, userAgent string) *Parser {
	return &Parser{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: userAgent,
	}
}

// Parse fetches the feed document at url and normalizes every entry.
// Failure of the whole document (network, timeout, unparseable) returns an
// error; a single bad entry never does.
func (p *Parser) Parse(ctx context.Context, url string) (*domain.ParsedFeed, error) {
	body, err := p.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer body.Close()

	parsed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	result := &domain.ParsedFeed{
		Title:       parsed.Title,
		Description: parsed.Description,
		Link:        parsed.Link,
		Items:       make([]domain.ParsedItem, 0, len(parsed.Items)),
	}

	if parsed.Image != nil && parsed.Image.URL != "" {
		result.Favicon = parsed.Image.URL
	} else if fav := extractFavicon(parsed.Link); fav != "" {
		result.Favicon = fav
	} else {
		result.Favicon = extractFavicon(url)
	}

	now := time.Now()
	for _, item := range parsed.Items {
		normalized := normalizeItem(item, now)

		// entries with no title and no extractable text carry nothing to show
		if normalized.Title == "" && normalized.Summary == "" {
			continue
		}
		result.Items = append(result.Items, normalized)
	}

	return result, nil
}

// normalizeItem maps a raw gofeed entry to canonical fields
func normalizeItem(item *gofeed.Item, now time.Time) domain.ParsedItem {
	normalized := domain.ParsedItem{
		Title: item.Title,
		Link:  item.Link,
	}

	// identity: declared unique identifier, else permalink. both may be
	// absent, in which case the ingestor drops the entry.
	if item.GUID != "" {
		normalized.GUID = item.GUID
	} else {
		normalized.GUID = item.Link
	}

	// richest available body field wins
	if item.Content != "" {
		normalized.Content = item.Content
	} else {
		normalized.Content = item.Description
	}
	normalized.Summary = ExtractSummary(normalized.Content, summaryLength)

	if item.Author != nil {
		normalized.Author = item.Author.Name
	}

	// a missing or unparseable date never fails the fetch
	switch {
	case item.PublishedParsed != nil:
		normalized.Published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		normalized.Published = *item.UpdatedParsed
	default:
		normalized.Published = now
	}

	return normalized
}

// fetch retrieves content from a URL
func (p *Parser) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/rss+xml,application/atom+xml,application/xml;q=0.9,text/xml;q=0.8,*/*;q=0.5")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch URL: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return resp.Body, nil
}
