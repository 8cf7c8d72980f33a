// Package janitor periodically removes expired messages and stale waiting
// entries.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"pairchat/backend/internal/config"
	"pairchat/backend/internal/logger"
)

type Store interface {
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteStaleWaiting(ctx context.Context, cutoff time.Time) (int64, error)
}

type Janitor struct {
	Store     Store
	Interval  time.Duration
	Retention time.Duration
	WaitTTL   time.Duration
	Now       func() time.Time
	log       *slog.Logger
}

func New(store Store, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		Store:     store,
		Interval:  interval,
		Retention: config.MessageRetention,
		WaitTTL:   config.WaitingEntryTTL,
		Now:       time.Now,
		log:       logger.With("component", "janitor"),
	}
}

// Run sweeps once immediately and then every Interval until ctx ends.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		j.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Result counts the rows removed by one sweep.
type Result struct {
	Messages int64
	Waiting  int64
}

// Sweep runs one cleanup pass. Failures are logged; the next pass retries.
func (j *Janitor) Sweep(ctx context.Context) Result {
	now := j.Now().UTC()
	var res Result

	n, err := j.Store.DeleteMessagesBefore(ctx, now.Add(-j.Retention))
	if err != nil {
		j.log.Error("failed to delete old messages", "err", err)
	} else {
		res.Messages = n
	}

	n, err = j.Store.DeleteStaleWaiting(ctx, now.Add(-j.WaitTTL))
	if err != nil {
		j.log.Error("failed to delete stale waiting entries", "err", err)
	} else {
		res.Waiting = n
	}

	if res.Messages > 0 || res.Waiting > 0 {
		j.log.Info("sweep complete", "messages", res.Messages, "waiting", res.Waiting)
	}
	return res
}
