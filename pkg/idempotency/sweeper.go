package idempotency

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mabumohsen/veggieshop-sub000/infrastructure/logging"
)

// Sweeper periodically deletes expired idempotency rows in capped
// batches, scheduled via a cron expression.
type Sweeper struct {
	store     Store
	batchSize int
	logger    *logging.Logger
	cron      *cron.Cron
}

// NewSweeper builds a Sweeper that runs on schedule (a standard 5-field
// cron expression) deleting at most batchSize expired rows per tick.
func NewSweeper(store Store, schedule string, batchSize int, logger *logging.Logger) (*Sweeper, error) {
	s := &Sweeper{store: store, batchSize: batchSize, logger: logger, cron: cron.New()}
	_, err := s.cron.AddFunc(schedule, s.tick)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) tick() {
	ctx := context.Background()
	removed, err := s.store.Sweep(ctx, time.Now(), s.batchSize)
	if err != nil {
		if s.logger != nil {
			s.logger.Error(ctx, "idempotency sweep failed", err, nil)
		}
		return
	}
	if removed > 0 && s.logger != nil {
		s.logger.Info(ctx, "idempotency sweep removed expired rows", map[string]interface{}{"removed": removed})
	}
}

// Start begins the cron schedule.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the cron schedule and waits for any in-flight tick to finish.
func (s *Sweeper) Stop() { <-s.cron.Stop().Done() }
