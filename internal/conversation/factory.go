package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Options selects and tunes a Store backend.
type Options struct {
	// URL picks the backend: empty for in-process memory, redis://, postgres://
	// or sqlite:// otherwise.
	URL string
	// MaxEntries caps the in-memory backend; the least recently used session is
	// evicted past it. Zero means unbounded.
	MaxEntries int
	// IdleTTL expires idle sessions in backends with native expiry (redis).
	IdleTTL time.Duration
}

// NewStore creates the backend named by opts.URL.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	raw := strings.TrimSpace(opts.URL)
	lower := strings.ToLower(raw)
	switch {
	case raw == "":
		return NewInMemoryStore(opts.MaxEntries), nil
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return NewRedisStore(ctx, raw, opts.IdleTTL)
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return NewPostgresStore(ctx, raw)
	case strings.HasPrefix(lower, "sqlite://"):
		return NewSQLiteStore(ctx, raw[len("sqlite://"):])
	case strings.HasPrefix(lower, "file:"):
		return NewSQLiteStore(ctx, raw[len("file:"):])
	default:
		return nil, fmt.Errorf("unsupported session store url %q", raw)
	}
}

// Backend names the kind of store for health output.
func Backend(s Store) string {
	switch s.(type) {
	case *InMemoryStore:
		return "in-memory"
	case *RedisStore:
		return "redis"
	case *PostgresStore:
		return "postgres"
	case *SQLiteStore:
		return "sqlite"
	default:
		return "custom"
	}
}
