// Package server exposes the JSON API over the feed store and scheduler.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/rsspie/rsspie/pkg/domain"
	"github.com/rsspie/rsspie/pkg/repository"
	"github.com/rsspie/rsspie/pkg/scheduler"
)

//go:generate moq -out mocks/feed_store.go -pkg mocks -skip-ensure -fmt goimports . FeedStore
//go:generate moq -out mocks/article_store.go -pkg mocks -skip-ensure -fmt goimports . ArticleStore
//go:generate moq -out mocks/scheduler.go -pkg mocks -skip-ensure -fmt goimports . Scheduler
//go:generate moq -out mocks/parser.go -pkg mocks -skip-ensure -fmt goimports . Parser
//go:generate moq -out mocks/ingestor.go -pkg mocks -skip-ensure -fmt goimports . Ingestor

// FeedStore provides feed persistence for API handlers
type FeedStore interface {
	Create(ctx context.Context, feed *domain.Feed) error
	Get(ctx context.Context, id int64) (*domain.Feed, error)
	GetByURL(ctx context.Context, url string) (*domain.Feed, error)
	List(ctx context.Context, activeOnly bool) ([]*domain.Feed, error)
	ListWithUnreadCount(ctx context.Context) ([]*domain.Feed, error)
	Update(ctx context.Context, feed *domain.Feed) error
	UpdateFetchStatus(ctx context.Context, feedID int64, fetchErr string) error
	Delete(ctx context.Context, id int64) error
	Categories(ctx context.Context) ([]string, error)
}

// ArticleStore provides article persistence for API handlers
type ArticleStore interface {
	Get(ctx context.Context, id int64) (*domain.Article, error)
	List(ctx context.Context, req repository.ListRequest) ([]*domain.Article, error)
	SetRead(ctx context.Context, id int64, read bool) error
	ToggleFavorite(ctx context.Context, id int64) (bool, error)
	MarkAllRead(ctx context.Context, feedID int64) (int64, error)
	UnreadCount(ctx context.Context, feedID int64) (int, error)
	Adjacent(ctx context.Context, id int64) (prevID, nextID int64, err error)
}

// Scheduler provides timer control and on-demand sync operations
type Scheduler interface {
	Arm(feed *domain.Feed)
	Disarm(feedID int64)
	Status() []scheduler.Status
	SyncNow(ctx context.Context, feedID int64) (scheduler.SyncResult, error)
	SyncAll(ctx context.Context) (scheduler.SyncSummary, error)
}

// Parser fetches and normalizes a remote feed document
type Parser interface {
	Parse(ctx context.Context, url string) (*domain.ParsedFeed, error)
}

// Ingestor persists new items from a parsed document
type Ingestor interface {
	Ingest(ctx context.Context, feed *domain.Feed, parsed *domain.ParsedFeed) int
}

// Sanitizer strips untrusted markup from article content
type Sanitizer interface {
	Sanitize(raw string) string
}

// Config holds server parameters
type Config struct {
	Listen  string
	Timeout time.Duration
	Version string
	Debug   bool
}

// Server represents HTTP server instance
type Server struct {
	config    Config
	feeds     FeedStore
	articles  ArticleStore
	scheduler Scheduler
	parser    Parser
	ingestor  Ingestor
	sanitizer Sanitizer

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// New initializes a new server instance
func New(cfg Config, feeds FeedStore, articles ArticleStore, sched Scheduler, parser Parser, ingestor Ingestor, sanitizer Sanitizer) *Server {
	s := &Server{
		config:    cfg,
		feeds:     feeds,
		articles:  articles,
		scheduler: sched,
		parser:    parser,
		ingestor:  ingestor,
		sanitizer: sanitizer,
		router:    routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	lgr.Printf("[INFO] starting server on %s", s.config.Listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.router,
		ReadTimeout:  s.config.Timeout,
		WriteTimeout: s.config.Timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		lgr.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			lgr.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("rsspie", "rsspie", s.config.Version))
	s.router.Use(rest.Ping)

	if s.config.Debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /status", s.statusHandler)

		r.HandleFunc("POST /feeds", s.createFeedHandler)
		r.HandleFunc("GET /feeds", s.listFeedsHandler)
		r.HandleFunc("GET /feeds/{id}", s.getFeedHandler)
		r.HandleFunc("PUT /feeds/{id}", s.updateFeedHandler)
		r.HandleFunc("DELETE /feeds/{id}", s.deleteFeedHandler)
		r.HandleFunc("POST /feeds/{id}/refresh", s.refreshFeedHandler)
		r.HandleFunc("POST /refresh", s.refreshAllHandler)
		r.HandleFunc("GET /schedule", s.scheduleHandler)

		r.HandleFunc("GET /articles", s.listArticlesHandler)
		r.HandleFunc("GET /articles/{id}", s.getArticleHandler)
		r.HandleFunc("GET /articles/{id}/original", s.originalArticleHandler)
		r.HandleFunc("POST /articles/{id}/read", s.readArticleHandler)
		r.HandleFunc("POST /articles/{id}/favorite", s.favoriteArticleHandler)
		r.HandleFunc("POST /articles/read-all", s.readAllHandler)

		r.HandleFunc("GET /opml/export", s.exportOPMLHandler)
		r.HandleFunc("POST /opml/import", s.importOPMLHandler)

		r.HandleFunc("GET /categories", s.categoriesHandler)
	})
}

// statusHandler returns server status with feed and unread counters
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	feeds, err := s.feeds.List(ctx, false)
	if err != nil {
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	unread, err := s.articles.UnreadCount(ctx, 0)
	if err != nil {
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.config.Version,
		"time":    time.Now().UTC(),
		"feeds":   len(feeds),
		"unread":  unread,
	})
}

// renderJSON sends JSON response
func renderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			lgr.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// renderError sends error response as JSON
func renderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	renderJSON(w, r, code, map[string]string{"error": errMsg})
}
