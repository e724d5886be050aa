package ca

import (
	"context"
	"time"

	"github.com/apex/log"

	"github.com/ndn-ucla/ndncert-ca/reqstore"
)

// DefaultSweepInterval is how often the janitor scans the request store
// for expired entries (§5 "Concurrency & resource model").
const DefaultSweepInterval = 30 * time.Second

// DefaultGraceWindow is how long a terminal request (SUCCESS/FAILURE) is
// kept past its last activity before the janitor reclaims it, giving a
// retried final Interest a chance to hit the idempotent-replay path
// instead of an unknown-request-id error.
const DefaultGraceWindow = 5 * time.Minute

// RunJanitor periodically sweeps the store for expired requests: any
// non-terminal request whose challenge secret has outlived its
// SecretLifetime is forced to FAILURE, and any terminal request past its
// grace window is deleted outright. It runs as its own goroutine,
// separate from the engine's callback dispatch goroutine and coordinating
// with it only through the store's own locking (§5) — the general
// pattern of a periodic sweep alongside an event-driven server.
func (c *CaState) RunJanitor(ctx context.Context, interval, graceWindow time.Duration) {
	logger := log.WithField("module", "ca-janitor")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.sweepOnce(now, graceWindow, logger)
		}
	}
}

func (c *CaState) sweepOnce(now time.Time, graceWindow time.Duration, logger log.Interface) {
	expired, err := c.Store.ListExpired(now, graceWindow)
	if err != nil {
		logger.Errorf("listing expired requests: %v", err)
		return
	}
	for _, requestId := range expired {
		state, err := c.Store.Get(requestId)
		if err != nil {
			continue
		}
		if state.Status.Terminal() {
			if err := c.Store.Delete(requestId); err != nil {
				logger.Errorf("deleting expired request: %v", err)
			}
			continue
		}
		state.Status = reqstore.StatusFailure
		if err := c.Store.Update(state); err != nil {
			logger.Errorf("failing expired request: %v", err)
		}
	}
}
