package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/rsspie/rsspie/pkg/domain"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// FeedRepository handles feed-related database operations
type FeedRepository struct {
	db *sqlx.DB
}

// feedSQL represents a feed for SQL operations
type feedSQL struct {
	ID            int64      `db:"id"`
	URL           string     `db:"url"`
	Title         string     `db:"title"`
	Description   string     `db:"description"`
	SiteURL       string     `db:"site_url"`
	Favicon       string     `db:"favicon"`
	Category      string     `db:"category"`
	LastFetchedAt *time.Time `db:"last_fetched_at"`
	FetchError    string     `db:"fetch_error"`
	IsActive      bool       `db:"is_active"`
	CreatedAt     time.Time  `db:"created_at"`

	// joined data, not stored
	UnreadCount int `db:"unread_count"`
}

// NewFeedRepository creates a new feed repository
func NewFeedRepository(database *sqlx.DB) *FeedRepository {
	return &FeedRepository{db: database}
}

// Create inserts a new feed and populates its ID and CreatedAt
func (r *FeedRepository) Create(ctx context.Context, feed *domain.Feed) error {
	if feed.Category == "" {
		feed.Category = "Uncategorized"
	}

	sqlFeed := &feedSQL{
		URL:         feed.URL,
		Title:       feed.Title,
		Description: feed.Description,
		SiteURL:     feed.SiteURL,
		Favicon:     feed.Favicon,
		Category:    feed.Category,
		IsActive:    true,
	}

	query := `
		INSERT INTO feeds (url, title, description, site_url, favicon, category, is_active)
		VALUES (:url, :title, :description, :site_url, :favicon, :category, :is_active)
	`
	result, err := r.db.NamedExecContext(ctx, query, sqlFeed)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("feed already exists: %w", err)
		}
		return fmt.Errorf("create feed: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get insert id: %w", err)
	}

	// read the row back for database-assigned fields
	created, err := r.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("read created feed: %w", err)
	}
	*feed = *created
	return nil
}

// Get retrieves a feed by ID
func (r *FeedRepository) Get(ctx context.Context, id int64) (*domain.Feed, error) {
	var sqlFeed feedSQL
	err := r.db.GetContext(ctx, &sqlFeed, "SELECT * FROM feeds WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	return r.toDomainFeed(&sqlFeed), nil
}

// GetByURL retrieves a feed by its unique URL
func (r *FeedRepository) GetByURL(ctx context.Context, url string) (*domain.Feed, error) {
	var sqlFeed feedSQL
	err := r.db.GetContext(ctx, &sqlFeed, "SELECT * FROM feeds WHERE url = ?", url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feed by url: %w", err)
	}
	return r.toDomainFeed(&sqlFeed), nil
}

// List retrieves feeds with optional filtering to active ones
func (r *FeedRepository) List(ctx context.Context, activeOnly bool) ([]*domain.Feed, error) {
	query := "SELECT * FROM feeds"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY category, title"

	var sqlFeeds []feedSQL
	if err := r.db.SelectContext(ctx, &sqlFeeds, query); err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}

	feeds := make([]*domain.Feed, len(sqlFeeds))
	for i, f := range sqlFeeds {
		feeds[i] = r.toDomainFeed(&f)
	}
	return feeds, nil
}

// ListWithUnreadCount retrieves all feeds with their unread article counts
func (r *FeedRepository) ListWithUnreadCount(ctx context.Context) ([]*domain.Feed, error) {
	query := `
		SELECT f.*, COUNT(a.id) AS unread_count
		FROM feeds f
		LEFT JOIN articles a ON f.id = a.feed_id AND a.is_read = 0
		GROUP BY f.id
		ORDER BY f.category, f.title
	`
	var sqlFeeds []feedSQL
	if err := r.db.SelectContext(ctx, &sqlFeeds, query); err != nil {
		return nil, fmt.Errorf("list feeds with unread count: %w", err)
	}

	feeds := make([]*domain.Feed, len(sqlFeeds))
	for i, f := range sqlFeeds {
		feeds[i] = r.toDomainFeed(&f)
	}
	return feeds, nil
}

// Update writes the mutable feed fields: title, category and active flag
func (r *FeedRepository) Update(ctx context.Context, feed *domain.Feed) error {
	query := "UPDATE feeds SET title = ?, category = ?, is_active = ? WHERE id = ?"
	res, err := r.db.ExecContext(ctx, query, feed.Title, feed.Category, feed.IsActive, feed.ID)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFetchStatus records a completed fetch attempt: stamps
// last_fetched_at with the current time and stores the attempt error,
// empty on success. Retried with backoff on lock contention since the
// scheduler and manual syncs write concurrently.
func (r *FeedRepository) UpdateFetchStatus(ctx context.Context, feedID int64, fetchErr string) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := "UPDATE feeds SET last_fetched_at = ?, fetch_error = ? WHERE id = ?"
		_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), fetchErr, feedID)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("update fetch status: %w", err)}
		}
		return nil
	})
}

// SetActive enables or disables a feed
func (r *FeedRepository) SetActive(ctx context.Context, feedID int64, active bool) error {
	_, err := r.db.ExecContext(ctx, "UPDATE feeds SET is_active = ? WHERE id = ?", active, feedID)
	if err != nil {
		return fmt.Errorf("set feed active: %w", err)
	}
	return nil
}

// Delete removes a feed; its articles cascade with it
func (r *FeedRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM feeds WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Categories returns the distinct feed categories
func (r *FeedRepository) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	err := r.db.SelectContext(ctx, &categories, "SELECT DISTINCT category FROM feeds ORDER BY category")
	if err != nil {
		return nil, fmt.Errorf("get categories: %w", err)
	}
	return categories, nil
}

// toDomainFeed converts feedSQL to domain.Feed
func (r *FeedRepository) toDomainFeed(sqlFeed *feedSQL) *domain.Feed {
	return &domain.Feed{
		ID:            sqlFeed.ID,
		URL:           sqlFeed.URL,
		Title:         sqlFeed.Title,
		Description:   sqlFeed.Description,
		SiteURL:       sqlFeed.SiteURL,
		Favicon:       sqlFeed.Favicon,
		Category:      sqlFeed.Category,
		LastFetchedAt: sqlFeed.LastFetchedAt,
		FetchError:    sqlFeed.FetchError,
		IsActive:      sqlFeed.IsActive,
		CreatedAt:     sqlFeed.CreatedAt,
		UnreadCount:   sqlFeed.UnreadCount,
	}
}
