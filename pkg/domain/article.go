package domain

import "time"

// Article represents a stored feed entry
type Article struct {
	ID          int64
	FeedID      int64
	GUID        string // identity key within the feed, unique per (feed, guid)
	Title       string
	Content     string
	Summary     string
	URL         string
	Author      string
	PublishedAt time.Time
	IsRead      bool
	IsFavorite  bool
	CreatedAt   time.Time

	// joined data, populated by list queries
	FeedTitle   string
	FeedFavicon string
}

// ArticleFilter selects a subset of articles for listing
type ArticleFilter string

// supported article list filters
const (
	FilterAll       ArticleFilter = ""
	FilterUnread    ArticleFilter = "unread"
	FilterFavorites ArticleFilter = "favorites"
	FilterToday     ArticleFilter = "today"
	FilterWeek      ArticleFilter = "week"
)
