package feed

import (
	"context"
	"sort"

	"github.com/go-pkgz/lgr"

	"github.com/rsspie/rsspie/pkg/domain"
)

//go:generate moq -out mocks/article_store.go -pkg mocks -skip-ensure -fmt goimports . ArticleStore

// ArticleStore persists articles. Identity uniqueness per (feed, identity key)
// is enforced at the storage layer, which makes it the final dedup authority.
type ArticleStore interface {
	Exists(ctx context.Context, feedID int64, guid string) (bool, error)
	CreateIfAbsent(ctx context.Context, article *domain.Article) (inserted bool, err error)
}

// Ingestor turns a canonical feed document into stored articles, exactly once
// per item identity
type Ingestor struct {
	store       ArticleStore
	maxPerCycle int
}

// NewIngestor creates an ingestor with a per-cycle cap that bounds backfill
// from feeds returning years of history
func NewIngestor(store ArticleStore, maxPerCycle int) *Ingestor {
	if maxPerCycle <= 0 {
		maxPerCycle = 100
	}
	return &Ingestor{store: store, maxPerCycle: maxPerCycle}
}

// Ingest stores the new-item subset of parsed for the given feed and returns
// the number of rows actually inserted. Per-item failures are logged and
// skipped, they never abort the remaining items.
func (in *Ingestor) Ingest(ctx context.Context, feed *domain.Feed, parsed *domain.ParsedFeed) int {
	items := make([]domain.ParsedItem, len(parsed.Items))
	copy(items, parsed.Items)

	// newest first, so the cap keeps the most recent entries
	sort.SliceStable(items, func(i, j int) bool { return items[i].Published.After(items[j].Published) })
	if len(items) > in.maxPerCycle {
		items = items[:in.maxPerCycle]
	}

	inserted := 0
	for _, item := range items {
		key := item.IdentityKey()
		if key == "" {
			// nothing to deduplicate on, drop the entry
			continue
		}

		exists, err := in.store.Exists(ctx, feed.ID, key)
		if err != nil {
			lgr.Printf("[ERROR] failed to check article existence for feed %d: %v", feed.ID, err)
			continue
		}
		if exists {
			continue
		}

		article := &domain.Article{
			FeedID:      feed.ID,
			GUID:        key,
			Title:       item.Title,
			Content:     item.Content,
			Summary:     item.Summary,
			URL:         item.Link,
			Author:      item.Author,
			PublishedAt: item.Published,
		}
		if article.Title == "" {
			article.Title = "Untitled"
		}
		if article.URL == "" {
			article.URL = feed.SiteURL
		}
		if article.URL == "" {
			article.URL = feed.URL
		}

		// the unique constraint wins races between concurrent fetches of the
		// same feed: a duplicate here is expected, not an error
		ok, err := in.store.CreateIfAbsent(ctx, article)
		if err != nil {
			lgr.Printf("[ERROR] failed to create article %q for feed %d: %v", key, feed.ID, err)
			continue
		}
		if ok {
			inserted++
		}
	}

	return inserted
}
