package domain

import "time"

// Feed represents a subscribed syndication source
type Feed struct {
	ID            int64
	URL           string
	Title         string
	Description   string
	SiteURL       string
	Favicon       string
	Category      string
	LastFetchedAt *time.Time // set on every completed fetch attempt, success or not
	FetchError    string     // last attempt error, empty after a successful fetch
	IsActive      bool
	CreatedAt     time.Time

	// populated by list queries, not stored
	UnreadCount int
}

// ParsedFeed is the canonical in-memory form of a remote feed document,
// independent of its original wire format
type ParsedFeed struct {
	Title       string
	Description string
	Link        string
	Favicon     string
	Items       []ParsedItem
}

// ParsedItem is a single normalized feed entry
type ParsedItem struct {
	GUID      string // source-declared identifier, falls back to the link
	Title     string
	Link      string
	Content   string
	Summary   string
	Author    string
	Published time.Time
}

// IdentityKey returns the value used to deduplicate an item within a feed:
// the source-declared identifier, or the link when the source provides none
func (i *ParsedItem) IdentityKey() string {
	if i.GUID != "" {
		return i.GUID
	}
	return i.Link
}
