package ports

import (
	"context"
	"time"
)

// Cache is a small key-value store for run-scoped memoization, such as the test plan issue
// resolved for a plan name.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}
