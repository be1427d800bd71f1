package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/rsspie/rsspie/pkg/domain"
	"github.com/rsspie/rsspie/pkg/opml"
	"github.com/rsspie/rsspie/pkg/repository"
)

// exportOPMLHandler renders all feeds as a downloadable OPML document
func (s *Server) exportOPMLHandler(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.feeds.List(r.Context(), false)
	if err != nil {
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	doc, err := opml.Generate(feeds, time.Now())
	if err != nil {
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/x-opml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="rsspie.opml"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		lgr.Printf("[ERROR] failed to write opml export: %v", err)
	}
}

// importOPMLHandler subscribes to every feed in an uploaded OPML document.
// Feeds already present are skipped, per-feed failures are collected and the
// rest of the document still imports. A feed whose initial fetch fails is
// kept with its fetch error recorded, unlike a manual subscribe, because an
// exported list often contains temporarily unreachable feeds worth retrying.
func (s *Server) importOPMLHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		renderError(w, r, fmt.Errorf("read request body: %w", err), http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		renderError(w, r, fmt.Errorf("empty OPML document"), http.StatusBadRequest)
		return
	}

	entries, parseErrs := opml.Parse(body)
	if len(entries) == 0 && len(parseErrs) > 0 {
		renderError(w, r, fmt.Errorf("%s", parseErrs[0]), http.StatusBadRequest)
		return
	}

	imported, skipped := 0, 0
	importErrs := append([]string{}, parseErrs...)

	for _, entry := range entries {
		if _, err := s.feeds.GetByURL(ctx, entry.XMLURL); err == nil {
			skipped++
			continue
		} else if !errors.Is(err, repository.ErrNotFound) {
			importErrs = append(importErrs, fmt.Sprintf("%s: %v", entry.XMLURL, err))
			continue
		}

		feed := &domain.Feed{
			URL:      entry.XMLURL,
			Title:    entry.Title,
			SiteURL:  entry.HTMLURL,
			Category: entry.Category,
			IsActive: true,
		}
		if err := s.feeds.Create(ctx, feed); err != nil {
			importErrs = append(importErrs, fmt.Sprintf("%s: %v", entry.XMLURL, err))
			continue
		}
		imported++

		s.fetchImported(ctx, feed)
		s.armFromStore(ctx, feed)
	}

	lgr.Printf("[INFO] opml import: %d added, %d skipped, %d errors", imported, skipped, len(importErrs))
	renderJSON(w, r, http.StatusOK, map[string]interface{}{
		"imported": imported,
		"skipped":  skipped,
		"errors":   importErrs,
	})
}

// fetchImported runs the initial fetch-ingest cycle for a just-imported feed
// and records the attempt either way
func (s *Server) fetchImported(ctx context.Context, feed *domain.Feed) {
	parsed, err := s.parser.Parse(ctx, feed.URL)
	if err != nil {
		lgr.Printf("[WARN] initial fetch failed for imported feed %s: %v", feed.URL, err)
		if updErr := s.feeds.UpdateFetchStatus(ctx, feed.ID, err.Error()); updErr != nil {
			lgr.Printf("[ERROR] failed to record fetch error for feed %d: %v", feed.ID, updErr)
		}
		return
	}

	s.ingestor.Ingest(ctx, feed, parsed)
	if err := s.feeds.UpdateFetchStatus(ctx, feed.ID, ""); err != nil {
		lgr.Printf("[ERROR] failed to record fetch status for feed %d: %v", feed.ID, err)
	}
}
