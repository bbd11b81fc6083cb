// Package scheduler drives the periodic feed refresh and retention cleanup.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AlecRosenbaum/eink-rss-reader/config"
	"github.com/AlecRosenbaum/eink-rss-reader/db"
	"github.com/AlecRosenbaum/eink-rss-reader/ingest"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

const (
	refreshJob = "refresh-feeds"
	cleanupJob = "cleanup-articles"

	cleanupInterval = 24 * time.Hour
)

// Scheduler runs two independent interval jobs for the lifetime of the
// process: a refresh sweep over all users and a daily retention cleanup.
// Every failure inside a job is logged, never raised, so one bad cycle can
// not kill the loop.
type Scheduler struct {
	cron    *cron.Cron
	engine  *ingest.Engine
	store   *db.Store
	cfg     config.Config
	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
}

func New(engine *ingest.Engine, store *db.Store, cfg config.Config) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(log.StandardLogger())),
		)),
		engine:  engine,
		store:   store,
		cfg:     cfg,
		entries: map[string]cron.EntryID{},
	}
}

// Start registers both jobs and starts the cron loop. Calling Start again
// re-registers the jobs: a new entry with the same name cancels and
// supersedes the previous one.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	refreshSpec := fmt.Sprintf("@every %ds", s.cfg.RefreshIntervalSeconds)
	if err := s.register(refreshJob, refreshSpec, s.refreshAllUsers); err != nil {
		return err
	}
	if err := s.register(cleanupJob, fmt.Sprintf("@every %s", cleanupInterval), s.cleanupArticles); err != nil {
		return err
	}

	if !s.started {
		s.cron.Start()
		s.started = true
		log.WithField("refreshIntervalSeconds", s.cfg.RefreshIntervalSeconds).Info("Scheduler started")
	}

	return nil
}

// Stop cancels both jobs. No-op when the scheduler is not running; running
// jobs finish before Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	<-s.cron.Stop().Done()
	s.started = false
	log.Info("Scheduler stopped")
}

func (s *Scheduler) register(name string, spec string, job func()) error {
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
	}

	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("error registering job %s: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

func (s *Scheduler) refreshAllUsers() {
	ctx := context.Background()

	users, err := s.store.ListUserIDs(ctx)
	if err != nil {
		log.WithError(err).Error("Error listing users for scheduled refresh")
		return
	}

	totalNew := 0
	for _, userID := range users {
		results := s.engine.RefreshAll(ctx, userID)
		totalNew += lo.SumBy(lo.Values(results), func(r ingest.RefreshResult) int {
			if r.Err != "" {
				return 0
			}
			return r.New
		})
	}

	log.WithFields(log.Fields{
		"users": len(users),
		"new":   totalNew,
	}).Info("Scheduled refresh complete")
}

func (s *Scheduler) cleanupArticles() {
	deleted, err := s.engine.CleanupOldArticles(context.Background())
	if err != nil {
		log.WithError(err).Error("Error cleaning up articles")
		return
	}
	if deleted > 0 {
		log.WithField("deleted", deleted).Info("Scheduled cleanup complete")
	}
}
