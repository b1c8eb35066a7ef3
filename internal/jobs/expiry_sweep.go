package jobs

import (
	"context"
	"log"
	"time"

	"campusgate/gatepass/internal/config"
	"campusgate/gatepass/internal/store"
)

// StartExpirySweep periodically logs how many active passes ran out of
// their validity window in the last interval. Purely observational:
// expiry is derived at read time and this job never mutates a pass.
func StartExpirySweep(ctx context.Context, cfg config.Config, passes store.PassStore) {
	if !cfg.ExpirySweepEnabled {
		return
	}
	interval := cfg.ExpirySweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		last := time.Now().UTC()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				tickCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
				count, err := passes.CountExpiredBetween(tickCtx, last, now)
				cancel()
				if err != nil {
					log.Printf("expiry sweep error: %v", err)
					continue
				}
				if count > 0 {
					log.Printf("expiry sweep: %d passes expired since %s", count, last.Format(time.RFC3339))
				}
				last = now
			}
		}
	}()
}
