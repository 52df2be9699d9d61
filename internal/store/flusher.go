package store

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Flusher periodically persists dirty state on a fixed interval. Cron's
// @every schedule fires first after one full interval, so the t=0 tick is
// skipped. The flush runs on the cron goroutine, off the request path.
type Flusher struct {
	cron *cron.Cron
}

// StartFlusher begins the periodic dirty-flag flush loop.
func StartFlusher(s *Store, interval time.Duration) (*Flusher, error) {
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.flushDirty()
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	s.logger.Info("Persistence flusher started", "interval", interval)
	return &Flusher{cron: c}, nil
}

// Stop halts the loop. A flush already in progress finishes.
func (f *Flusher) Stop() {
	ctx := f.cron.Stop()
	<-ctx.Done()
}

// flushDirty persists a clone of the state when the dirty flag is set.
// The flag is cleared before the write; a failed write is retried
// implicitly by the next state-mutating event re-setting the flag.
func (s *Store) flushDirty() {
	clone := s.takeDirtySnapshot()
	if clone == nil {
		return
	}
	if err := Persist(s.root, clone); err != nil {
		s.logger.Error("Periodic flush failed", "error", err)
	}
}
