// Package ingest implements the feed ingestion pipeline: fetch, parse,
// normalize and dedupe-insert for one feed, plus the bulk variants.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/AlecRosenbaum/eink-rss-reader/config"
	"github.com/AlecRosenbaum/eink-rss-reader/db"
	"github.com/AlecRosenbaum/eink-rss-reader/fetcher"
	"github.com/AlecRosenbaum/eink-rss-reader/parser"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrFeedNotFound is returned when the feed was deleted before or during a
// refresh. Fatal to that call only.
var ErrFeedNotFound = errors.New("feed not found")

// RefreshResult is the per-feed outcome of a bulk refresh: either a count of
// new articles or an error description, never both.
type RefreshResult struct {
	New int
	Err string
}

// MarshalJSON renders the outcome as a bare count or a bare error string,
// matching the shape of the bulk refresh API response.
func (r RefreshResult) MarshalJSON() ([]byte, error) {
	if r.Err != "" {
		return json.Marshal(r.Err)
	}
	return json.Marshal(r.New)
}

// Engine orchestrates refreshes against the shared store. Concurrent
// refreshes of the same feed are coalesced; the racing caller gets the
// result of the in-flight refresh instead of fetching twice.
type Engine struct {
	store   *db.Store
	fetcher *fetcher.Fetcher
	parser  *parser.Parser
	cfg     config.Config
	group   singleflight.Group
}

func NewEngine(store *db.Store, cfg config.Config) *Engine {
	return &Engine{
		store:   store,
		fetcher: fetcher.New(),
		parser:  parser.New(),
		cfg:     cfg,
	}
}

// RefreshFeed fetches, parses and ingests one feed, returning the number of
// articles actually inserted as new. The feed's last_fetched timestamp
// advances on every attempt, including failed ones.
func (e *Engine) RefreshFeed(ctx context.Context, feedID int64) (int, error) {
	count, err, _ := e.group.Do(strconv.FormatInt(feedID, 10), func() (interface{}, error) {
		return e.refreshFeed(ctx, feedID)
	})
	if err != nil {
		return 0, err
	}
	return count.(int), nil
}

func (e *Engine) refreshFeed(ctx context.Context, feedID int64) (int, error) {
	feed, err := e.store.GetFeed(ctx, feedID)
	if errors.Is(err, db.ErrNotFound) {
		refreshesTotal.WithLabelValues("not_found").Inc()
		return 0, fmt.Errorf("%w: %d", ErrFeedNotFound, feedID)
	}
	if err != nil {
		refreshesTotal.WithLabelValues("storage_error").Inc()
		return 0, err
	}

	parsed, err := e.fetchAndParse(ctx, feed.Url)
	if err != nil {
		// Update last_fetched even on failure so a permanently broken feed
		// is not hammered at full frequency every cycle.
		if touchErr := e.store.TouchLastFetched(ctx, feedID, time.Now()); touchErr != nil {
			log.WithFields(log.Fields{
				"feed": feedID,
			}).WithError(touchErr).Error("Error updating last_fetched after failed refresh")
		}
		return 0, err
	}

	if parsed.Title != "" && (feed.Title == nil || *feed.Title != parsed.Title) {
		if err := e.store.UpdateFeedTitle(ctx, feedID, parsed.Title); err != nil {
			return 0, err
		}
	}

	newCount := 0
	for _, entry := range parsed.Entries {
		created, err := e.store.InsertArticle(ctx, db.ArticleInsert{
			FeedId:      feedID,
			Guid:        deriveGUID(entry),
			Title:       optional(entry.Title),
			Link:        optional(entry.Link),
			Content:     deriveContent(entry, e.cfg.MaxArticleContentLength),
			Summary:     deriveSummary(entry),
			PublishedAt: deriveTimestamp(entry),
		})
		if err != nil {
			// A duplicate guid surfaces as created == false, so any error
			// here is a genuine storage problem, not normal dedup traffic.
			refreshesTotal.WithLabelValues("storage_error").Inc()
			return 0, err
		}
		if created {
			newCount++
		}
	}

	if err := e.store.TouchLastFetched(ctx, feedID, time.Now()); err != nil {
		return 0, err
	}

	refreshesTotal.WithLabelValues("success").Inc()
	articlesIngested.Add(float64(newCount))

	log.WithFields(log.Fields{
		"feed":    feedID,
		"url":     feed.Url,
		"entries": len(parsed.Entries),
		"new":     newCount,
	}).Debug("Refreshed feed")

	return newCount, nil
}

func (e *Engine) fetchAndParse(ctx context.Context, url string) (*parser.ParsedFeed, error) {
	raw, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		refreshesTotal.WithLabelValues("fetch_error").Inc()
		return nil, err
	}

	parsed, err := e.parser.Parse(raw)
	if err != nil {
		refreshesTotal.WithLabelValues("parse_error").Inc()
		return nil, err
	}

	return parsed, nil
}

// RefreshAll refreshes every feed of a user sequentially. It never returns
// an error: each per-feed failure becomes an entry in the result map so one
// bad feed cannot abort the batch.
func (e *Engine) RefreshAll(ctx context.Context, userID int64) map[int64]RefreshResult {
	results := map[int64]RefreshResult{}

	feeds, err := e.store.ListUserFeeds(ctx, userID)
	if err != nil {
		log.WithField("user", userID).WithError(err).Error("Error listing feeds for refresh")
		return results
	}

	for _, feed := range feeds {
		count, err := e.RefreshFeed(ctx, feed.Id)
		if err != nil {
			results[feed.Id] = RefreshResult{Err: err.Error()}
			continue
		}
		results[feed.Id] = RefreshResult{New: count}
	}

	return results
}

// CleanupOldArticles prunes articles past the configured retention window.
func (e *Engine) CleanupOldArticles(ctx context.Context) (int64, error) {
	deleted, err := e.store.CleanupOldArticles(ctx, e.cfg.ArticleRetentionDays)
	if err != nil {
		return 0, err
	}
	articlesPruned.Add(float64(deleted))
	return deleted, nil
}
