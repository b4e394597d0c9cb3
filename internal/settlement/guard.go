package settlement

import (
	"context"
	"fmt"
	"time"

	pkgredis "github.com/kalamart/marketplace-backend/pkg/redis"
)

// IdempotencyGuard remembers webhook event ids so retried deliveries are
// acknowledged without reapplying the event.
type IdempotencyGuard struct {
	store pkgredis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store pkgredis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("idempotency ttl must be positive")
	}
	if scope == "" {
		return nil, fmt.Errorf("idempotency scope required")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope}, nil
}

// CheckAndMark records the event id and reports whether it was already seen.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("event id required")
	}
	stored, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, eventID), "1", g.ttl)
	if err != nil {
		return false, err
	}
	return !stored, nil
}

// Delete forgets an event id so the gateway's retry can be processed.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, eventID))
}
