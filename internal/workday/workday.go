// Package workday classifies calendar dates as business days. Answers come
// from a remote calendar service and are cached locally; when the remote is
// unreachable the classifier degrades to a weekday heuristic and caches that
// degraded answer so repeated failures do not hammer the service.
package workday

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"camrelay/internal/observability/metrics"
)

// Category is the calendar service's classification of a date.
type Category int

const (
	CategoryWorkday Category = 0
	CategoryWeekend Category = 1
	CategoryHoliday Category = 2
	// CategoryMakeup marks a weekend that is worked to compensate for an
	// extended holiday.
	CategoryMakeup Category = 3
)

// IsWorkday reports whether the category counts as a business day.
func (c Category) IsWorkday() bool {
	return c == CategoryWorkday || c == CategoryMakeup
}

// Source resolves a date (formatted 2006-01-02) to its calendar category.
type Source interface {
	Lookup(ctx context.Context, date string) (Category, error)
}

// DefaultTTL bounds how long classifications (including degraded ones) are
// reused.
const DefaultTTL = 24 * time.Hour

// Config assembles a Classifier.
type Config struct {
	Source   Source
	Cache    Cache
	TTL      time.Duration
	Location *time.Location
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Now      func() time.Time
}

// Classifier answers "is date D a business day?" with caching and graceful
// degradation.
type Classifier struct {
	source  Source
	cache   Cache
	ttl     time.Duration
	loc     *time.Location
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	mu           sync.Mutex
	failedMonths map[string]struct{}
}

// New builds a Classifier, filling defaults for optional fields.
func New(cfg Config) *Classifier {
	c := &Classifier{
		source:       cfg.Source,
		cache:        cfg.Cache,
		ttl:          cfg.TTL,
		loc:          cfg.Location,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		now:          cfg.Now,
		failedMonths: make(map[string]struct{}),
	}
	if c.cache == nil {
		c.cache = NewMemoryCache(cfg.Now)
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.loc == nil {
		c.loc = time.Local
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// IsWorkday classifies the given instant's date in the classifier's timezone.
// The returned error is non-nil only when neither cache, remote, nor the
// weekday fallback could be consulted, which does not happen with the
// built-in cache implementations.
func (c *Classifier) IsWorkday(ctx context.Context, t time.Time) (bool, error) {
	date := t.In(c.loc).Format("2006-01-02")
	if value, ok, err := c.cache.Get(ctx, date); err == nil && ok {
		c.metrics.ObserveWorkdayLookup("cache")
		return value, nil
	}
	return c.classify(ctx, t.In(c.loc), date)
}

func (c *Classifier) classify(ctx context.Context, day time.Time, date string) (bool, error) {
	category, err := c.source.Lookup(ctx, date)
	if err != nil {
		// Fail open to the weekday heuristic and cache the degraded
		// answer so the remote is not retried until the TTL lapses.
		weekday := day.Weekday()
		value := weekday != time.Saturday && weekday != time.Sunday
		c.logger.Warn("calendar lookup failed, using weekday fallback",
			"date", date, "error", err, "workday", value)
		c.metrics.ObserveWorkdayLookup("fallback")
		if cacheErr := c.cache.Set(ctx, date, value, c.ttl); cacheErr != nil {
			c.logger.Warn("cache degraded workday answer", "date", date, "error", cacheErr)
		}
		return value, nil
	}
	value := category.IsWorkday()
	c.metrics.ObserveWorkdayLookup("remote")
	if cacheErr := c.cache.Set(ctx, date, value, c.ttl); cacheErr != nil {
		c.logger.Warn("cache workday answer", "date", date, "error", cacheErr)
	}
	return value, nil
}

// FailedMonths returns the months (formatted 2006-01) whose bulk prefetch
// failed entirely and are pending retry.
func (c *Classifier) FailedMonths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	months := make([]string, 0, len(c.failedMonths))
	for month := range c.failedMonths {
		months = append(months, month)
	}
	return months
}
