// Package batch runs independent operations in fixed-size concurrent groups,
// pausing between groups to stay under upstream rate limits.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSize is the number of items run concurrently per group.
	DefaultSize = 3
	// DefaultDelay is the pause between consecutive groups.
	DefaultDelay = 500 * time.Millisecond
)

// Result holds the outcome of one item. Exactly one of Value and Err is meaningful.
type Result[R any] struct {
	Value R
	Err   error
}

// OK reports whether the item succeeded.
func (r Result[R]) OK() bool {
	return r.Err == nil
}

// Scheduler partitions items into groups and runs each group concurrently.
type Scheduler struct {
	size  int
	delay time.Duration
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSleep replaces the function used for the pause between groups.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// New creates a Scheduler. Non-positive size falls back to DefaultSize and a
// negative delay to zero.
func New(size int, delay time.Duration, opts ...Option) *Scheduler {
	if size < 1 {
		size = DefaultSize
	}
	if delay < 0 {
		delay = 0
	}
	s := &Scheduler{size: size, delay: delay, sleep: sleepContext}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Size returns the group size.
func (s *Scheduler) Size() int { return s.size }

// Delay returns the pause between groups.
func (s *Scheduler) Delay() time.Duration { return s.delay }

// Run calls worker for every item and returns the outcomes in input order.
//
// Items in a group run concurrently and the group settles before the next one
// starts. A failing or panicking item only fills its own slot; siblings and
// later groups still run. Run pauses between groups but not after the last
// one. If ctx ends during a pause, the remaining items are reported with the
// context error and not started.
func Run[T, R any](ctx context.Context, s *Scheduler, items []T, worker func(context.Context, T) (R, error)) []Result[R] {
	results := make([]Result[R], len(items))

	for start := 0; start < len(items); start += s.size {
		end := min(start+s.size, len(items))

		if start > 0 && s.delay > 0 {
			if err := s.sleep(ctx, s.delay); err != nil {
				for i := start; i < len(items); i++ {
					results[i].Err = err
				}
				slog.DebugContext(ctx, "batch interrupted", "completed", start, "total", len(items), "error", err)
				return results
			}
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = runItem(ctx, items[i], worker)
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}

func runItem[T, R any](ctx context.Context, item T, worker func(context.Context, T) (R, error)) (res Result[R]) {
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "batch worker panicked", "panic", p)
			res = Result[R]{Err: fmt.Errorf("worker panicked: %v", p)}
		}
	}()
	v, err := worker(ctx, item)
	if err != nil {
		return Result[R]{Err: err}
	}
	return Result[R]{Value: v}
}

// Values returns the value of every successful result and the zero value for failures.
func Values[R any](results []Result[R]) []R {
	out := make([]R, len(results))
	for i, r := range results {
		if r.Err == nil {
			out[i] = r.Value
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
