package symbols

import (
	"context"
	"time"
)

// SweepStale soft-deletes every record not updated within the retention
// window, in the durable store and in memory. It returns the number of
// in-memory records deactivated.
func (r *Resolver) SweepStale(ctx context.Context) (int, error) {
	cutoff := r.now().UTC().Add(-r.retention)

	if r.store != nil {
		n, err := r.store.MarkStale(ctx, cutoff)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			r.log.Info("deactivated stale symbols in store", "count", n, "cutoff", cutoff)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	swept := 0
	for sym, rec := range r.cache {
		if rec.Active && rec.LastUpdated.Before(cutoff) {
			rec.Active = false
			r.cache[sym] = rec
			swept++
		}
	}
	return swept, nil
}

// RunSweeper calls SweepStale every interval until ctx is cancelled.
func (r *Resolver) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 24 * time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.SweepStale(ctx)
			if err != nil {
				r.log.Warn("stale sweep failed", "err", err)
				continue
			}
			if n > 0 && r.OnSwept != nil {
				r.OnSwept(n)
			}
		}
	}
}
