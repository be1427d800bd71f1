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

// ArticleRepository handles article-related database operations
type ArticleRepository struct {
	db *sqlx.DB
}

// articleSQL represents an article for SQL operations
type articleSQL struct {
	ID          int64     `db:"id"`
	FeedID      int64     `db:"feed_id"`
	GUID        string    `db:"guid"`
	Title       string    `db:"title"`
	Content     string    `db:"content"`
	Summary     string    `db:"summary"`
	URL         string    `db:"url"`
	Author      string    `db:"author"`
	PublishedAt time.Time `db:"published_at"`
	IsRead      bool      `db:"is_read"`
	IsFavorite  bool      `db:"is_favorite"`
	CreatedAt   time.Time `db:"created_at"`

	// joined data, populated by list queries
	FeedTitle   string `db:"feed_title"`
	FeedFavicon string `db:"feed_favicon"`
}

// ListRequest selects a page of articles
type ListRequest struct {
	FeedID int64 // 0 means all feeds
	Filter domain.ArticleFilter
	Limit  int
	Offset int
}

// NewArticleRepository creates a new article repository
func NewArticleRepository(database *sqlx.DB) *ArticleRepository {
	return &ArticleRepository{db: database}
}

// CreateIfAbsent inserts an article unless one with the same (feed, guid)
// identity already exists. A unique-constraint rejection reports
// inserted=false with no error: the constraint is the dedup authority and a
// duplicate is an expected outcome, not a failure.
func (r *ArticleRepository) CreateIfAbsent(ctx context.Context, article *domain.Article) (inserted bool, err error) {
	sqlArticle := &articleSQL{
		FeedID:      article.FeedID,
		GUID:        article.GUID,
		Title:       article.Title,
		Content:     article.Content,
		Summary:     article.Summary,
		URL:         article.URL,
		Author:      article.Author,
		PublishedAt: article.PublishedAt,
		IsRead:      article.IsRead,
		IsFavorite:  article.IsFavorite,
	}

	query := `
		INSERT INTO articles (feed_id, guid, title, content, summary, url, author, published_at, is_read, is_favorite)
		VALUES (:feed_id, :guid, :title, :content, :summary, :url, :author, :published_at, :is_read, :is_favorite)
	`

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	err = retrier.Do(ctx, func() error {
		result, execErr := r.db.NamedExecContext(ctx, query, sqlArticle)
		if execErr != nil {
			if isUniqueViolation(execErr) {
				return nil // already present
			}
			if isLockError(execErr) {
				return execErr // retry
			}
			return &criticalError{err: fmt.Errorf("create article: %w", execErr)}
		}

		id, idErr := result.LastInsertId()
		if idErr != nil {
			return &criticalError{err: fmt.Errorf("get insert id: %w", idErr)}
		}
		article.ID = id
		inserted = true
		return nil
	})
	return inserted, err
}

// Exists checks whether an article with the identity key is already stored
func (r *ArticleRepository) Exists(ctx context.Context, feedID int64, guid string) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one, "SELECT 1 FROM articles WHERE feed_id = ? AND guid = ?", feedID, guid)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check article existence: %w", err)
	}
	return true, nil
}

// Get retrieves an article by ID with its feed title and favicon joined in
func (r *ArticleRepository) Get(ctx context.Context, id int64) (*domain.Article, error) {
	query := `
		SELECT a.*, f.title AS feed_title, f.favicon AS feed_favicon
		FROM articles a
		JOIN feeds f ON a.feed_id = f.id
		WHERE a.id = ?
	`
	var sqlArticle articleSQL
	err := r.db.GetContext(ctx, &sqlArticle, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return r.toDomainArticle(&sqlArticle), nil
}

// List retrieves articles newest-first with optional feed and state filters
func (r *ArticleRepository) List(ctx context.Context, req ListRequest) ([]*domain.Article, error) {
	query := `
		SELECT a.*, f.title AS feed_title, f.favicon AS feed_favicon
		FROM articles a
		JOIN feeds f ON a.feed_id = f.id
	`
	conditions := []string{}
	args := []interface{}{}

	if req.FeedID != 0 {
		conditions = append(conditions, "a.feed_id = ?")
		args = append(args, req.FeedID)
	}

	switch req.Filter {
	case domain.FilterUnread:
		conditions = append(conditions, "a.is_read = 0")
	case domain.FilterFavorites:
		conditions = append(conditions, "a.is_favorite = 1")
	case domain.FilterToday:
		conditions = append(conditions, "a.published_at >= datetime('now', '-1 day')")
	case domain.FilterWeek:
		conditions = append(conditions, "a.published_at >= datetime('now', '-7 days')")
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY a.published_at DESC"

	if req.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, req.Limit)
		if req.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, req.Offset)
		}
	}

	var sqlArticles []articleSQL
	if err := r.db.SelectContext(ctx, &sqlArticles, query, args...); err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}

	articles := make([]*domain.Article, len(sqlArticles))
	for i, a := range sqlArticles {
		articles[i] = r.toDomainArticle(&a)
	}
	return articles, nil
}

// SetRead marks an article read or unread
func (r *ArticleRepository) SetRead(ctx context.Context, id int64, read bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE articles SET is_read = ? WHERE id = ?", read, id)
	if err != nil {
		return fmt.Errorf("set article read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleFavorite flips the favorite flag and returns the new value
func (r *ArticleRepository) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, "UPDATE articles SET is_favorite = NOT is_favorite WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("toggle favorite: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrNotFound
	}

	var favorite bool
	if err := r.db.GetContext(ctx, &favorite, "SELECT is_favorite FROM articles WHERE id = ?", id); err != nil {
		return false, fmt.Errorf("read favorite flag: %w", err)
	}
	return favorite, nil
}

// MarkAllRead marks unread articles read, optionally scoped to one feed.
// Returns the number of articles affected.
func (r *ArticleRepository) MarkAllRead(ctx context.Context, feedID int64) (int64, error) {
	var res sql.Result
	var err error
	if feedID != 0 {
		res, err = r.db.ExecContext(ctx, "UPDATE articles SET is_read = 1 WHERE feed_id = ? AND is_read = 0", feedID)
	} else {
		res, err = r.db.ExecContext(ctx, "UPDATE articles SET is_read = 1 WHERE is_read = 0")
	}
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// UnreadCount returns the number of unread articles, optionally for one feed
func (r *ArticleRepository) UnreadCount(ctx context.Context, feedID int64) (int, error) {
	var count int
	var err error
	if feedID != 0 {
		err = r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM articles WHERE feed_id = ? AND is_read = 0", feedID)
	} else {
		err = r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM articles WHERE is_read = 0")
	}
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes articles published before the cutoff. Favorites
// are exempt from the retention sweep.
func (r *ArticleRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM articles WHERE published_at < ? AND is_favorite = 0", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old articles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Adjacent returns the ids of the neighboring articles by publish date:
// prev is the next-newer one, next the next-older, 0 when absent
func (r *ArticleRepository) Adjacent(ctx context.Context, id int64) (prevID, nextID int64, err error) {
	var published time.Time
	err = r.db.GetContext(ctx, &published, "SELECT published_at FROM articles WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("get article published time: %w", err)
	}

	err = r.db.GetContext(ctx, &prevID,
		"SELECT id FROM articles WHERE published_at > ? ORDER BY published_at ASC LIMIT 1", published)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("get previous article: %w", err)
	}

	err = r.db.GetContext(ctx, &nextID,
		"SELECT id FROM articles WHERE published_at < ? ORDER BY published_at DESC LIMIT 1", published)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("get next article: %w", err)
	}

	return prevID, nextID, nil
}

// toDomainArticle converts articleSQL to domain.Article
func (r *ArticleRepository) toDomainArticle(a *articleSQL) *domain.Article {
	return &domain.Article{
		ID:          a.ID,
		FeedID:      a.FeedID,
		GUID:        a.GUID,
		Title:       a.Title,
		Content:     a.Content,
		Summary:     a.Summary,
		URL:         a.URL,
		Author:      a.Author,
		PublishedAt: a.PublishedAt,
		IsRead:      a.IsRead,
		IsFavorite:  a.IsFavorite,
		CreatedAt:   a.CreatedAt,
		FeedTitle:   a.FeedTitle,
		FeedFavicon: a.FeedFavicon,
	}
}
