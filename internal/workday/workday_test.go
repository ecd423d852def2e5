package workday

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"camrelay/internal/observability/metrics"
)

type fakeSource struct {
	mu         sync.Mutex
	categories map[string]Category
	err        error
	lookups    int
}

func (s *fakeSource) Lookup(_ context.Context, date string) (Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return 0, s.err
	}
	if cat, ok := s.categories[date]; ok {
		return cat, nil
	}
	return CategoryWorkday, nil
}

func (s *fakeSource) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func newTestClassifier(source Source, now func() time.Time) *Classifier {
	return New(Config{
		Source:   source,
		Location: time.UTC,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  metrics.New(),
		Now:      now,
	})
}

func TestCategoryMapping(t *testing.T) {
	cases := []struct {
		category Category
		want     bool
	}{
		{CategoryWorkday, true},
		{CategoryWeekend, false},
		{CategoryHoliday, false},
		{CategoryMakeup, true},
	}
	for _, tc := range cases {
		if got := tc.category.IsWorkday(); got != tc.want {
			t.Errorf("Category(%d).IsWorkday() = %v, want %v", tc.category, got, tc.want)
		}
	}
}

func TestIsWorkdayCachesRemoteAnswer(t *testing.T) {
	// 2026-05-01 is a holiday; a Friday on the civil calendar.
	source := &fakeSource{categories: map[string]Category{"2026-05-01": CategoryHoliday}}
	c := newTestClassifier(source, time.Now)
	day := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		workday, err := c.IsWorkday(context.Background(), day)
		if err != nil {
			t.Fatalf("IsWorkday: %v", err)
		}
		if workday {
			t.Fatal("holiday classified as workday")
		}
	}
	if got := source.lookupCount(); got != 1 {
		t.Fatalf("remote consulted %d times, want 1", got)
	}
}

func TestIsWorkdayMakeupDay(t *testing.T) {
	// A Saturday worked to compensate for an extended holiday.
	source := &fakeSource{categories: map[string]Category{"2026-05-09": CategoryMakeup}}
	c := newTestClassifier(source, time.Now)

	workday, err := c.IsWorkday(context.Background(), time.Date(2026, 5, 9, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("IsWorkday: %v", err)
	}
	if !workday {
		t.Fatal("make-up day classified as non-workday")
	}
}

func TestIsWorkdayFallbackIsCached(t *testing.T) {
	source := &fakeSource{err: errors.New("calendar unreachable")}
	c := newTestClassifier(source, time.Now)
	monday := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	workday, err := c.IsWorkday(context.Background(), monday)
	if err != nil {
		t.Fatalf("IsWorkday: %v", err)
	}
	if !workday {
		t.Fatal("Monday fallback should be a workday")
	}

	// The degraded answer must be served from cache, not retried.
	if _, err := c.IsWorkday(context.Background(), monday); err != nil {
		t.Fatalf("second IsWorkday: %v", err)
	}
	if got := source.lookupCount(); got != 1 {
		t.Fatalf("remote retried despite cached fallback: %d lookups", got)
	}

	saturday := time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC)
	workday, _ = c.IsWorkday(context.Background(), saturday)
	if workday {
		t.Fatal("Saturday fallback should not be a workday")
	}
}

func TestCacheExpiryTriggersRefetch(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	source := &fakeSource{}
	c := newTestClassifier(source, now)

	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if _, err := c.IsWorkday(context.Background(), day); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	clock = clock.Add(25 * time.Hour)
	mu.Unlock()
	if _, err := c.IsWorkday(context.Background(), day); err != nil {
		t.Fatal(err)
	}
	if got := source.lookupCount(); got != 2 {
		t.Fatalf("expected refetch after TTL, got %d lookups", got)
	}
}

func TestPrefetchMarksAndClearsFailedMonths(t *testing.T) {
	source := &fakeSource{err: errors.New("calendar unreachable")}
	c := newTestClassifier(source, func() time.Time {
		return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	})

	c.Prefetch(context.Background())
	failed := c.FailedMonths()
	if len(failed) != 2 {
		t.Fatalf("expected both months to fail, got %v", failed)
	}

	// The remote recovers; the daily tick's retry clears the set.
	source.mu.Lock()
	source.err = nil
	source.mu.Unlock()
	c.Prefetch(context.Background())
	if failed := c.FailedMonths(); len(failed) != 0 {
		t.Fatalf("recovered months still marked failed: %v", failed)
	}
}

func TestPrefetchPartialSuccessIsNotFailure(t *testing.T) {
	// Only one date resolves; everything else errors. One success is enough
	// to keep the month off the retry set.
	source := &partialSource{okDate: "2026-03-15"}
	c := newTestClassifier(source, func() time.Time {
		return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	})

	c.prefetchMonth(context.Background(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if failed := c.FailedMonths(); len(failed) != 0 {
		t.Fatalf("partially successful month marked failed: %v", failed)
	}
}

type partialSource struct {
	okDate string
}

func (s *partialSource) Lookup(_ context.Context, date string) (Category, error) {
	if date == s.okDate {
		return CategoryWorkday, nil
	}
	return 0, errors.New("rate limited")
}

func TestMemoryCacheTTL(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(func() time.Time { return clock })

	if err := cache.Set(context.Background(), "2026-03-02", true, time.Hour); err != nil {
		t.Fatal(err)
	}
	value, ok, err := cache.Get(context.Background(), "2026-03-02")
	if err != nil || !ok || !value {
		t.Fatalf("Get = (%v, %v, %v)", value, ok, err)
	}

	clock = clock.Add(2 * time.Hour)
	if _, ok, _ := cache.Get(context.Background(), "2026-03-02"); ok {
		t.Fatal("expired entry still served")
	}
}
