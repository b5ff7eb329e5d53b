// Package janitor prunes expired dedup keys from durable storage on a cron
// schedule so the key set stays proportional to recent activity.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"herald/internal/storage"
	logx "herald/pkg/logx"
)

// DefaultSchedule runs the prune daily at 04:00 local time.
const DefaultSchedule = "0 4 * * *"

type Service struct {
	store storage.Store
	cron  *cron.Cron
	log   logx.Logger
}

func New(store storage.Store, schedule string, log logx.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("janitor: storage is nil")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}

	s := &Service{store: store, log: log}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, s.prune); err != nil {
		return nil, fmt.Errorf("janitor: bad schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins scheduling. Blocks until ctx is done, then stops the cron
// runner and waits for an in-flight prune to finish.
func (s *Service) Start(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
}

func (s *Service) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := s.store.PruneExpired(ctx); err != nil {
		s.log.Warn("dedup prune failed", logx.Err(err))
		return
	}
	s.log.Info("dedup prune complete", logx.Duration("took", time.Since(start)))
}
