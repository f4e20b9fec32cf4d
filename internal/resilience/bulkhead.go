package resilience

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Bulkhead caps the number of in-flight calls to one provider so a slow
// provider only blocks its own callers.
type Bulkhead struct {
	name string
	sem  *semaphore.Weighted
}

// NewBulkhead creates a bulkhead admitting at most limit concurrent calls
func NewBulkhead(name string, limit int) *Bulkhead {
	if limit < 1 {
		limit = 1
	}
	return &Bulkhead{name: name, sem: semaphore.NewWeighted(int64(limit))}
}

// Do runs fn once a slot is free, or returns the context error
func (b *Bulkhead) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s bulkhead: %w", b.name, err)
	}
	defer b.sem.Release(1)
	return fn(ctx)
}
