package workday

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

const prefetchConcurrency = 4

// Prefetch warms the cache for the current and next month. Months whose
// lookups all failed are remembered and retried on the daily tick until one
// succeeds.
func (c *Classifier) Prefetch(ctx context.Context) {
	now := c.now().In(c.loc)
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, c.loc)
	next := current.AddDate(0, 1, 0)

	attempted := map[string]struct{}{}
	for _, month := range []time.Time{current, next} {
		attempted[month.Format("2006-01")] = struct{}{}
		c.prefetchMonth(ctx, month)
	}
	c.retryFailedMonths(ctx, attempted)
}

func (c *Classifier) prefetchMonth(ctx context.Context, month time.Time) {
	label := month.Format("2006-01")
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, c.loc)
	daysInMonth := first.AddDate(0, 1, -1).Day()

	var group errgroup.Group
	group.SetLimit(prefetchConcurrency)
	successes := make(chan struct{}, daysInMonth)

	for day := 1; day <= daysInMonth; day++ {
		date := time.Date(month.Year(), month.Month(), day, 12, 0, 0, 0, c.loc)
		group.Go(func() error {
			dateStr := date.Format("2006-01-02")
			if _, ok, err := c.cache.Get(ctx, dateStr); err == nil && ok {
				successes <- struct{}{}
				return nil
			}
			category, err := c.source.Lookup(ctx, dateStr)
			if err != nil {
				return nil // counted as a miss for the month, not fatal
			}
			if cacheErr := c.cache.Set(ctx, dateStr, category.IsWorkday(), c.ttl); cacheErr != nil {
				c.logger.Warn("cache prefetched workday", "date", dateStr, "error", cacheErr)
			}
			successes <- struct{}{}
			return nil
		})
	}
	_ = group.Wait()
	close(successes)

	succeeded := 0
	for range successes {
		succeeded++
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if succeeded == 0 {
		c.failedMonths[label] = struct{}{}
		c.logger.Warn("workday prefetch failed for entire month", "month", label)
		return
	}
	delete(c.failedMonths, label)
	c.logger.Debug("workday prefetch complete", "month", label, "days", succeeded)
}

func (c *Classifier) retryFailedMonths(ctx context.Context, attempted map[string]struct{}) {
	c.mu.Lock()
	pending := make([]string, 0, len(c.failedMonths))
	for label := range c.failedMonths {
		if _, done := attempted[label]; done {
			continue
		}
		pending = append(pending, label)
	}
	c.mu.Unlock()

	for _, label := range pending {
		month, err := time.ParseInLocation("2006-01", label, c.loc)
		if err != nil {
			c.mu.Lock()
			delete(c.failedMonths, label)
			c.mu.Unlock()
			continue
		}
		c.prefetchMonth(ctx, month)
	}
}

// RunDailyPrefetch blocks, prefetching immediately and then once per day
// until the context is cancelled.
func (c *Classifier) RunDailyPrefetch(ctx context.Context) {
	c.Prefetch(ctx)
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Prefetch(ctx)
		}
	}
}
