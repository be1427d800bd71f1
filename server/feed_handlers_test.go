package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsspie/rsspie/pkg/domain"
	"github.com/rsspie/rsspie/pkg/repository"
	"github.com/rsspie/rsspie/pkg/scheduler"
)

func TestServer_CreateFeed(t *testing.T) {
	t.Run("fetches and ingests before reporting added", func(t *testing.T) {
		var created *domain.Feed
		var fetchStamped bool

		feeds := &feedStoreMock{
			GetByURLFunc: func(ctx context.Context, url string) (*domain.Feed, error) {
				return nil, repository.ErrNotFound
			},
			CreateFunc: func(ctx context.Context, feed *domain.Feed) error {
				feed.ID = 42
				feed.CreatedAt = time.Now().UTC()
				created = feed
				return nil
			},
			UpdateFetchStatusFunc: func(ctx context.Context, feedID int64, fetchErr string) error {
				assert.Equal(t, int64(42), feedID)
				assert.Empty(t, fetchErr)
				fetchStamped = true
				return nil
			},
			GetFunc: func(ctx context.Context, id int64) (*domain.Feed, error) {
				now := time.Now().UTC()
				return &domain.Feed{ID: id, IsActive: true, LastFetchedAt: &now}, nil
			},
		}
		parser := &parserMock{
			ParseFunc: func(ctx context.Context, url string) (*domain.ParsedFeed, error) {
				return &domain.ParsedFeed{
					Title: "Example Feed", Description: "about things",
					Link: "https://example.com", Favicon: "https://example.com/favicon.ico",
					Items: []domain.ParsedItem{{GUID: "1", Title: "first"}},
				}, nil
			},
		}
		ingestor := &ingestorMock{
			IngestFunc: func(ctx context.Context, feed *domain.Feed, parsed *domain.ParsedFeed) int {
				require.NotNil(t, created, "feed must exist before ingestion")
				return 5
			},
		}
		sched := &schedulerMock{}

		s := newTestServer(testDeps{feeds: feeds, parser: parser, ingestor: ingestor, scheduler: sched})
		rec := doRequest(t, s, http.MethodPost, "/api/v1/feeds",
			`{"url":"https://example.com/feed.xml","category":"Tech"}`)

		require.Equal(t, http.StatusCreated, rec.Code)
		resp := decodeBody[map[string]interface{}](t, rec)
		assert.Equal(t, "Example Feed", resp["title"])
		assert.Equal(t, "Tech", resp["category"])
		assert.InDelta(t, 5, resp["newArticles"], 0)

		assert.True(t, fetchStamped)
		assert.Equal(t, []int64{42}, sched.armed)
	})

	t.Run("explicit title wins over document title", func(t *testing.T) {
		feeds := &feedStoreMock{
			GetByURLFunc: func(ctx context.Context, url string) (*domain.Feed, error) {
				return nil, repository.ErrNotFound
			},
			CreateFunc: func(ctx context.Context, feed *domain.Feed) error {
				assert.Equal(t, "My Name", feed.Title)
				feed.ID = 1
				return nil
			},
			GetFunc: func(ctx context.Context, id int64) (*domain.Feed, error) {
				return &domain.Feed{ID: id, IsActive: true}, nil
			},
		}
		parser := &parserMock{
			ParseFunc: func(ctx context.Context, url string) (*domain.ParsedFeed, error) {
				return &domain.ParsedFeed{Title: "Document Title"}, nil
			},
		}

		s := newTestServer(testDeps{feeds: feeds, parser: parser})
		rec := doRequest(t, s, http.MethodPost, "/api/v1/feeds",
			`{"url":"https://example.com/feed.xml","title":"My Name"}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("rejects bad url", func(t *testing.T) {
		s := newTestServer(testDeps{})
		for _, body := range []string{
			`{"url":""}`,
			`{"url":"not-a-url"}`,
			`{"url":"ftp://example.com/feed"}`,
			`not json`,
		} {
			rec := doRequest(t, s, http.MethodPost, "/api/v1/feeds", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
		}
	})

	t.Run("duplicate url conflicts", func(t *testing.T) {
		feeds := &feedStoreMock{
			GetByURLFunc: func(ctx context.Context, url string) (*domain.Feed, error) {
				return &domain.Feed{ID: 1, URL: url}, nil
			},
		}
		s := newTestServer(testDeps{feeds: feeds})
		rec := doRequest(t, s, http.MethodPost, "/api/v1/feeds", `{"url":"https://example.com/feed.xml"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unreachable feed is not added", func(t *testing.T) {
		createCalled := false
		feeds := &feedStoreMock{
			GetByURLFunc: func(ctx context.Context, url string) (*domain.Feed, error) {
				return nil, repository.ErrNotFound
			},
			CreateFunc: func(ctx context.Context, feed *domain.Feed) error {
				createCalled = true
				return nil
			},
		}
		parser := &parserMock{
			ParseFunc: func(ctx context.Context, url string) (*domain.ParsedFeed, error) {
				return nil, errors.New("connection refused")
			},
		}

		s := newTestServer(testDeps{feeds: feeds, parser: parser})
		rec := doRequest(t, s, http.MethodPost, "/api/v1/feeds", `{"url":"https://dead.example/feed.xml"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.False(t, createCalled)
	})
}

func TestServer_ListFeeds(t *testing.T) {
	feeds := &feedStoreMock{
		ListWithUnreadCountFunc: func(ctx context.Context) ([]*domain.Feed, error) {
			return []*domain.Feed{
				{ID: 1, Title: "One", Category: "Tech", UnreadCount: 3, IsActive: true},
				{ID: 2, Title: "Two", Category: "News", UnreadCount: 0, IsActive: false},
			}, nil
		},
	}

	s := newTestServer(testDeps{feeds: feeds})
	rec := doRequest(t, s, http.MethodGet, "/api/v1/feeds", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[[]map[string]interface{}](t, rec)
	require.Len(t, resp, 2)
	assert.Equal(t, "One", resp[0]["title"])
	assert.InDelta(t, 3, resp[0]["unreadCount"], 0)
	assert.Equal(t, false, resp[1]["isActive"])
}

func TestServer_GetFeed(t *testing.T) {
	feeds := &feedStoreMock{
		GetFunc: func(ctx context.Context, id int64) (*domain.Feed, error) {
			if id != 1 {
				return nil, repository.ErrNotFound
			}
			return &domain.Feed{ID: 1, Title: "One", IsActive: true}, nil
		},
	}
	s := newTestServer(testDeps{feeds: feeds})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/feeds/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/feeds/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/feeds/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_UpdateFeed(t *testing.T) {
	makeFeeds := func(active bool) *feedStoreMock {
		return &feedStoreMock{
			GetFunc: func(ctx context.Context, id int64) (*domain.Feed, error) {
				return &domain.Feed{ID: id, Title: "Old", Category: "Tech", IsActive: active}, nil
			},
			UpdateFunc: func(ctx context.Context, feed *domain.Feed) error { return nil },
		}
	}

	t.Run("partial update keeps unmentioned fields", func(t *testing.T) {
		var updated *domain.Feed
		feeds := makeFeeds(true)
		feeds.UpdateFunc = func(ctx context.Context, feed *domain.Feed) error {
			updated = feed
			return nil
		}

		s := newTestServer(testDeps{feeds: feeds})
		rec := doRequest(t, s, http.MethodPut, "/api/v1/feeds/1", `{"title":"New"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "New", updated.Title)
		assert.Equal(t, "Tech", updated.Category)
		assert.True(t, updated.IsActive)
	})

	t.Run("activating arms the timer", func(t *testing.T) {
		sched := &schedulerMock{}
		s := newTestServer(testDeps{feeds: makeFeeds(false), scheduler: sched})
		rec := doRequest(t, s, http.MethodPut, "/api/v1/feeds/1", `{"isActive":true}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []int64{1}, sched.armed)
		assert.Empty(t, sched.disarmed)
	})

	t.Run("deactivating disarms the timer", func(t *testing.T) {
		sched := &schedulerMock{}
		s := newTestServer(testDeps{feeds: makeFeeds(true), scheduler: sched})
		rec := doRequest(t, s, http.MethodPut, "/api/v1/feeds/1", `{"isActive":false}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []int64{1}, sched.disarmed)
		assert.Empty(t, sched.armed)
	})

	t.Run("missing feed", func(t *testing.T) {
		feeds := makeFeeds(true)
		feeds.GetFunc = func(ctx context.Context, id int64) (*domain.Feed, error) {
			return nil, repository.ErrNotFound
		}
		s := newTestServer(testDeps{feeds: feeds})
		rec := doRequest(t, s, http.MethodPut, "/api/v1/feeds/99", `{"title":"x"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_DeleteFeed(t *testing.T) {
	var deleted int64
	feeds := &feedStoreMock{
		DeleteFunc: func(ctx context.Context, id int64) error {
			deleted = id
			return nil
		},
	}
	sched := &schedulerMock{}

	s := newTestServer(testDeps{feeds: feeds, scheduler: sched})
	rec := doRequest(t, s, http.MethodDelete, "/api/v1/feeds/7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// timer goes first so it cannot fire against a deleted feed
	assert.Equal(t, []int64{7}, sched.disarmed)
	assert.Equal(t, int64(7), deleted)
}

func TestServer_RefreshFeed(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		sched := &schedulerMock{
			SyncNowFunc: func(ctx context.Context, feedID int64) (scheduler.SyncResult, error) {
				assert.Equal(t, int64(3), feedID)
				return scheduler.SyncResult{Success: true, NewArticles: 4}, nil
			},
		}
		s := newTestServer(testDeps{scheduler: sched})
		rec := doRequest(t, s, http.MethodPost, "/api/v1/feeds/3/refresh", "")
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[scheduler.SyncResult](t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, 4, resp.NewArticles)
	})

	t.Run("already in flight", func(t *testing.T) {
		sched := &schedulerMock{
			SyncNowFunc: func(ctx context.Context, feedID int64) (scheduler.SyncResult, error) {
				return scheduler.SyncResult{}, scheduler.ErrSyncInFlight
			},
		}
		s := newTestServer(testDeps{scheduler: sched})
		rec := doRequest(t, s, http.MethodPost, "/api/v1/feeds/3/refresh", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("missing feed", func(t *testing.T) {
		sched := &schedulerMock{
			SyncNowFunc: func(ctx context.Context, feedID int64) (scheduler.SyncResult, error) {
				return scheduler.SyncResult{}, repository.ErrNotFound
			},
		}
		s := newTestServer(testDeps{scheduler: sched})
		rec := doRequest(t, s, http.MethodPost, "/api/v1/feeds/99/refresh", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_RefreshAll(t *testing.T) {
	sched := &schedulerMock{
		SyncAllFunc: func(ctx context.Context) (scheduler.SyncSummary, error) {
			return scheduler.SyncSummary{Total: 5, Success: 4, Failed: 1}, nil
		},
	}
	s := newTestServer(testDeps{scheduler: sched})
	rec := doRequest(t, s, http.MethodPost, "/api/v1/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[scheduler.SyncSummary](t, rec)
	assert.Equal(t, scheduler.SyncSummary{Total: 5, Success: 4, Failed: 1}, resp)
}

func TestServer_Schedule(t *testing.T) {
	sched := &schedulerMock{
		StatusFunc: func() []scheduler.Status {
			return []scheduler.Status{
				{FeedID: 2, NextSyncIn: 5000},
				{FeedID: 1, NextSyncIn: 100},
			}
		},
	}
	s := newTestServer(testDeps{scheduler: sched})
	rec := doRequest(t, s, http.MethodGet, "/api/v1/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[[]scheduler.Status](t, rec)
	require.Len(t, resp, 2)
	assert.Equal(t, int64(1), resp[0].FeedID) // sorted by feed id
	assert.Equal(t, int64(2), resp[1].FeedID)
}

func TestServer_Categories(t *testing.T) {
	feeds := &feedStoreMock{
		CategoriesFunc: func(ctx context.Context) ([]string, error) {
			return []string{"News", "Tech", "Uncategorized"}, nil
		},
	}
	s := newTestServer(testDeps{feeds: feeds})
	rec := doRequest(t, s, http.MethodGet, "/api/v1/categories", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[map[string][]string](t, rec)
	assert.Equal(t, []string{"News", "Tech", "Uncategorized"}, resp["categories"])
}
