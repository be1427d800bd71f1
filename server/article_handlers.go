package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/rsspie/rsspie/pkg/domain"
	"github.com/rsspie/rsspie/pkg/repository"
	"github.com/rsspie/rsspie/pkg/sanitize"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// articleResponse is the JSON shape of an article in list responses.
// Content is omitted there and populated, sanitized, in detail responses.
type articleResponse struct {
	ID          int64     `json:"id"`
	FeedID      int64     `json:"feedId"`
	FeedTitle   string    `json:"feedTitle,omitempty"`
	FeedFavicon string    `json:"feedFavicon,omitempty"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Content     string    `json:"content,omitempty"`
	URL         string    `json:"url"`
	Author      string    `json:"author,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
	IsRead      bool      `json:"isRead"`
	IsFavorite  bool      `json:"isFavorite"`
}

func toArticleResponse(article *domain.Article) articleResponse {
	return articleResponse{
		ID:          article.ID,
		FeedID:      article.FeedID,
		FeedTitle:   article.FeedTitle,
		FeedFavicon: article.FeedFavicon,
		Title:       article.Title,
		Summary:     article.Summary,
		URL:         article.URL,
		Author:      article.Author,
		PublishedAt: article.PublishedAt,
		IsRead:      article.IsRead,
		IsFavorite:  article.IsFavorite,
	}
}

// listArticlesHandler returns articles newest first, optionally scoped to a
// feed and filtered by read/favorite/recency state
func (s *Server) listArticlesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := repository.ListRequest{Limit: defaultPageSize}
	if v := q.Get("feed"); v != "" {
		feedID, err := strconv.ParseInt(v, 10, 64)
		if err != nil || feedID <= 0 {
			renderError(w, r, fmt.Errorf("invalid feed id"), http.StatusBadRequest)
			return
		}
		req.FeedID = feedID
	}

	switch filter := domain.ArticleFilter(q.Get("filter")); filter {
	case domain.FilterAll, domain.FilterUnread, domain.FilterFavorites, domain.FilterToday, domain.FilterWeek:
		req.Filter = filter
	default:
		renderError(w, r, fmt.Errorf("invalid filter %q", filter), http.StatusBadRequest)
		return
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			renderError(w, r, fmt.Errorf("invalid limit"), http.StatusBadRequest)
			return
		}
		req.Limit = min(limit, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			renderError(w, r, fmt.Errorf("invalid offset"), http.StatusBadRequest)
			return
		}
		req.Offset = offset
	}

	articles, err := s.articles.List(r.Context(), req)
	if err != nil {
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := make([]articleResponse, 0, len(articles))
	for _, article := range articles {
		resp = append(resp, toArticleResponse(article))
	}
	renderJSON(w, r, http.StatusOK, resp)
}

// getArticleHandler returns one article with sanitized content, advisory
// markup flags computed on the raw content, and prev/next navigation ids
func (s *Server) getArticleHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	article, err := s.articles.Get(ctx, id)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}

	prevID, nextID, err := s.articles.Adjacent(ctx, id)
	if err != nil {
		lgr.Printf("[WARN] cannot resolve neighbors for article %d: %v", id, err)
	}

	resp := struct {
		articleResponse
		HasDangerousMarkup bool  `json:"hasDangerousMarkup"`
		HasImages          bool  `json:"hasImages"`
		PrevID             int64 `json:"prevId,omitempty"`
		NextID             int64 `json:"nextId,omitempty"`
	}{
		articleResponse:    toArticleResponse(article),
		HasDangerousMarkup: sanitize.HasDangerousMarkup(article.Content),
		HasImages:          sanitize.HasImages(article.Content),
		PrevID:             prevID,
		NextID:             nextID,
	}
	resp.Content = s.sanitizer.Sanitize(article.Content)

	renderJSON(w, r, http.StatusOK, resp)
}

// originalArticleHandler returns the stored content without sanitization.
// The response carries a warning field and headers that keep a browser from
// interpreting it as a page, and nothing else in the API ever serves raw
// content.
func (s *Server) originalArticleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	article, err := s.articles.Get(r.Context(), id)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}

	w.Header().Set("X-Warning", "Unsanitized-Content")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none';")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	renderJSON(w, r, http.StatusOK, map[string]interface{}{
		"id":      article.ID,
		"content": article.Content,
		"warning": "content is not sanitized, render at your own risk",
	})
}

// readArticleHandler marks an article read, or unread when the body says so
func (s *Server) readArticleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	req := struct {
		Read *bool `json:"read"`
	}{}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
			return
		}
	}
	read := req.Read == nil || *req.Read

	if err := s.articles.SetRead(r.Context(), id, read); err != nil {
		renderStoreError(w, r, err)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string]bool{"isRead": read})
}

// favoriteArticleHandler flips the favorite flag and reports the new state
func (s *Server) favoriteArticleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	favorite, err := s.articles.ToggleFavorite(r.Context(), id)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string]bool{"isFavorite": favorite})
}

// readAllHandler marks every unread article read, optionally for one feed
func (s *Server) readAllHandler(w http.ResponseWriter, r *http.Request) {
	req := struct {
		FeedID int64 `json:"feedId"`
	}{}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
			return
		}
	}

	updated, err := s.articles.MarkAllRead(r.Context(), req.FeedID)
	if err != nil {
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string]int64{"updated": updated})
}
