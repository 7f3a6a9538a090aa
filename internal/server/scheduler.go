package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/askrepo/askrepo/internal/indexer"
	"github.com/askrepo/askrepo/internal/store"
)

// Scheduler re-syncs projects that carry a sync_cron spec. Locks are held
// in redis so only one instance fires a given project per tick.
type Scheduler struct {
	Store   *store.Store
	Indexer *indexer.Service
	Rdb     *redis.Client
	Stop    chan struct{}

	logger *log.Logger
}

func (s *Scheduler) Start() {
	if s.logger == nil {
		s.logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	projects, err := s.Store.ListScheduledProjects(ctx)
	if err != nil {
		s.logger.Printf("list scheduled projects: %v", err)
		return
	}
	for _, p := range projects {
		var last *time.Time
		if rec, err := s.Store.LastSync(ctx, p.ID); err == nil {
			last = &rec.FinishedAt
		} else if !errors.Is(err, store.ErrNotFound) {
			s.logger.Printf("last sync for %s: %v", p.ID, err)
			continue
		}
		if !isDue(p.SyncCron, last) {
			continue
		}

		// distributed lock to avoid duplicate syncs
		if s.Rdb != nil {
			lockKey := "sched:lock:" + p.ID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}

		go func(project store.Project) {
			// jitter to avoid stampedes
			time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)
			summary, err := s.Indexer.Sync(context.Background(), project)
			if err != nil {
				s.logger.Printf("scheduled sync %s/%s failed: %v", project.RepoOwner, project.RepoName, err)
				return
			}
			s.logger.Printf("scheduled sync %s/%s: %d files, %d chunks",
				project.RepoOwner, project.RepoName, summary.FilesIndexed, summary.ChunksStored)
		}(p)
	}
}

// isDue determines if a project with cronSpec should sync now based on
// the last completed sync. Supports "@daily", "@hourly", and standard
// 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @daily if invalid
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			// If never synced, due now
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
