package quota

import (
	"context"
	"time"

	"github.com/taskfoundry/aigov/internal/settings"

	log "github.com/sirupsen/logrus"
)

// RolloverSweeper periodically rolls over quotas whose period has elapsed.
// Records are also rolled over lazily on first touch; the sweeper keeps idle
// scopes and their archives current between requests.
type RolloverSweeper struct {
	store    *Store
	interval time.Duration
}

// NewRolloverSweeper constructs a sweeper over a quota store.
func NewRolloverSweeper(store *Store) *RolloverSweeper {
	if store == nil {
		return nil
	}
	return &RolloverSweeper{
		store:    store,
		interval: time.Duration(settings.DefaultRolloverSweepIntervalSeconds) * time.Second,
	}
}

// Start launches the sweep loop in a background goroutine.
func (s *RolloverSweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("quota rollover sweeper started (interval=%s)", s.interval)
}

func (s *RolloverSweeper) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.sweepOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		interval := s.resolveInterval()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

func (s *RolloverSweeper) sweepOnce(ctx context.Context) {
	rolled, errSweep := s.store.RolloverElapsed(ctx)
	if errSweep != nil {
		log.WithError(errSweep).Warn("quota rollover sweeper: sweep failed")
		return
	}
	if rolled > 0 {
		log.Infof("quota rollover sweeper: rolled over %d quotas", rolled)
	}
}

func (s *RolloverSweeper) resolveInterval() time.Duration {
	seconds := settings.IntValue(settings.RolloverSweepIntervalSecondsKey, settings.DefaultRolloverSweepIntervalSeconds)
	if seconds <= 0 {
		seconds = settings.DefaultRolloverSweepIntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}
