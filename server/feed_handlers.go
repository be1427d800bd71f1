package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/rsspie/rsspie/pkg/domain"
	"github.com/rsspie/rsspie/pkg/repository"
	"github.com/rsspie/rsspie/pkg/scheduler"
)

// feedResponse is the JSON shape of a feed
type feedResponse struct {
	ID            int64      `json:"id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	SiteURL       string     `json:"siteUrl,omitempty"`
	Favicon       string     `json:"favicon,omitempty"`
	Category      string     `json:"category"`
	LastFetchedAt *time.Time `json:"lastFetchedAt,omitempty"`
	FetchError    string     `json:"fetchError,omitempty"`
	IsActive      bool       `json:"isActive"`
	CreatedAt     time.Time  `json:"createdAt"`
	UnreadCount   int        `json:"unreadCount"`
}

func toFeedResponse(feed *domain.Feed) feedResponse {
	return feedResponse{
		ID:            feed.ID,
		URL:           feed.URL,
		Title:         feed.Title,
		Description:   feed.Description,
		SiteURL:       feed.SiteURL,
		Favicon:       feed.Favicon,
		Category:      feed.Category,
		LastFetchedAt: feed.LastFetchedAt,
		FetchError:    feed.FetchError,
		IsActive:      feed.IsActive,
		CreatedAt:     feed.CreatedAt,
		UnreadCount:   feed.UnreadCount,
	}
}

// createFeedHandler subscribes to a feed. The remote document is fetched and
// ingested before the feed is reported as added, so a dead URL is rejected
// up front instead of surfacing later as a silent fetch_error.
func (s *Server) createFeedHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		URL      string `json:"url"`
		Title    string `json:"title"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}
	if !validFeedURL(req.URL) {
		renderError(w, r, fmt.Errorf("valid http(s) feed url is required"), http.StatusBadRequest)
		return
	}

	if _, err := s.feeds.GetByURL(ctx, req.URL); err == nil {
		renderError(w, r, fmt.Errorf("feed already exists"), http.StatusConflict)
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	parsed, err := s.parser.Parse(ctx, req.URL)
	if err != nil {
		lgr.Printf("[WARN] subscribe fetch failed for %s: %v", req.URL, err)
		renderError(w, r, fmt.Errorf("fetch feed: %w", err), http.StatusUnprocessableEntity)
		return
	}

	feed := &domain.Feed{
		URL:         req.URL,
		Title:       req.Title,
		Description: parsed.Description,
		SiteURL:     parsed.Link,
		Favicon:     parsed.Favicon,
		Category:    req.Category,
		IsActive:    true,
	}
	if feed.Title == "" {
		feed.Title = parsed.Title
	}
	if feed.Title == "" {
		feed.Title = req.URL
	}

	if err := s.feeds.Create(ctx, feed); err != nil {
		lgr.Printf("[ERROR] failed to create feed: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	newArticles := s.ingestor.Ingest(ctx, feed, parsed)
	if err := s.feeds.UpdateFetchStatus(ctx, feed.ID, ""); err != nil {
		lgr.Printf("[ERROR] failed to record initial fetch for feed %d: %v", feed.ID, err)
	}

	s.armFromStore(ctx, feed)
	lgr.Printf("[INFO] subscribed to %s (feed %d), %d articles", feed.URL, feed.ID, newArticles)

	resp := struct {
		feedResponse
		NewArticles int `json:"newArticles"`
	}{toFeedResponse(feed), newArticles}
	renderJSON(w, r, http.StatusCreated, resp)
}

// armFromStore re-reads the feed so the timer anchors on the persisted
// last_fetched_at stamp rather than the stale in-memory copy
func (s *Server) armFromStore(ctx context.Context, feed *domain.Feed) {
	fresh, err := s.feeds.Get(ctx, feed.ID)
	if err != nil {
		lgr.Printf("[WARN] cannot reload feed %d for scheduling: %v", feed.ID, err)
		fresh = feed
	}
	s.scheduler.Arm(fresh)
}

// listFeedsHandler returns all feeds with unread counts
func (s *Server) listFeedsHandler(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.feeds.ListWithUnreadCount(r.Context())
	if err != nil {
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := make([]feedResponse, 0, len(feeds))
	for _, feed := range feeds {
		resp = append(resp, toFeedResponse(feed))
	}
	renderJSON(w, r, http.StatusOK, resp)
}

// getFeedHandler returns a single feed
func (s *Server) getFeedHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	feed, err := s.feeds.Get(r.Context(), id)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	renderJSON(w, r, http.StatusOK, toFeedResponse(feed))
}

// updateFeedHandler changes title, category or active state. Toggling the
// active state arms or disarms the feed's timer immediately.
func (s *Server) updateFeedHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	var req struct {
		Title    *string `json:"title"`
		Category *string `json:"category"`
		IsActive *bool   `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}

	feed, err := s.feeds.Get(ctx, id)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}

	if req.Title != nil {
		feed.Title = *req.Title
	}
	if req.Category != nil {
		feed.Category = *req.Category
	}
	if req.IsActive != nil {
		feed.IsActive = *req.IsActive
	}

	if err := s.feeds.Update(ctx, feed); err != nil {
		renderStoreError(w, r, err)
		return
	}

	if feed.IsActive {
		s.scheduler.Arm(feed)
	} else {
		s.scheduler.Disarm(feed.ID)
	}

	renderJSON(w, r, http.StatusOK, toFeedResponse(feed))
}

// deleteFeedHandler disarms the feed's timer, then removes the feed and its
// articles
func (s *Server) deleteFeedHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	s.scheduler.Disarm(id)

	if err := s.feeds.Delete(r.Context(), id); err != nil {
		renderStoreError(w, r, err)
		return
	}
	lgr.Printf("[INFO] deleted feed %d", id)
	renderJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

// refreshFeedHandler runs an immediate sync for one feed
func (s *Server) refreshFeedHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	result, err := s.scheduler.SyncNow(r.Context(), id)
	switch {
	case errors.Is(err, scheduler.ErrSyncInFlight):
		renderError(w, r, err, http.StatusConflict)
		return
	case errors.Is(err, repository.ErrNotFound):
		renderError(w, r, err, http.StatusNotFound)
		return
	case err != nil:
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, result)
}

// refreshAllHandler runs an immediate sync for every active feed
func (s *Server) refreshAllHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.scheduler.SyncAll(r.Context())
	if err != nil {
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, summary)
}

// scheduleHandler reports the time remaining until each armed feed fires
func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.scheduler.Status()
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].FeedID < statuses[j].FeedID })
	renderJSON(w, r, http.StatusOK, statuses)
}

// categoriesHandler lists the distinct feed categories
func (s *Server) categoriesHandler(w http.ResponseWriter, r *http.Request) {
	categories, err := s.feeds.Categories(r.Context())
	if err != nil {
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string][]string{"categories": categories})
}

// pathID extracts the numeric {id} path segment
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

// renderStoreError maps repository errors to HTTP status codes
func renderStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		renderError(w, r, err, http.StatusNotFound)
		return
	}
	lgr.Printf("[ERROR] store operation failed: %v", err)
	renderError(w, r, err, http.StatusInternalServerError)
}

func validFeedURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
