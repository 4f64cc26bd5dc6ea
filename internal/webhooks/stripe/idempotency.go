package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pkgredis "github.com/angelmondragon/escrowhub-backend/pkg/redis"
)

// DefaultScope namespaces Stripe event ids in Redis.
const DefaultScope = "stripe-webhook"

const (
	markProcessing = "processing"
	markDone       = "done"
	// A claim outlives any single handler run; if the process dies mid-event
	// the mark expires and Stripe's next retry is accepted.
	claimTTL = 5 * time.Minute
)

// Delivery classifies an incoming event id against what was seen before.
type Delivery int

const (
	DeliveryNew Delivery = iota
	DeliveryInFlight
	DeliveryDone
)

func (d Delivery) String() string {
	switch d {
	case DeliveryNew:
		return "new"
	case DeliveryInFlight:
		return "in_flight"
	case DeliveryDone:
		return "done"
	}
	return "unknown"
}

var errEventIDRequired = errors.New("event id is required")

// DeliveryGuard makes Stripe redeliveries safe. An event id is claimed
// before the handler runs, marked done after it succeeds and released when it
// fails so the processor's retry gets a fresh attempt.
type DeliveryGuard struct {
	store pkgredis.ResponseStore
	ttl   time.Duration
	scope string
}

// NewDeliveryGuard keeps completed marks for ttl, which should cover
// Stripe's redelivery window.
func NewDeliveryGuard(store pkgredis.ResponseStore, ttl time.Duration, scope string) (*DeliveryGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = DefaultScope
	}
	return &DeliveryGuard{store: store, ttl: ttl, scope: scope}, nil
}

// Claim reserves eventID. Only DeliveryNew means the caller owns the event.
func (g *DeliveryGuard) Claim(ctx context.Context, eventID string) (Delivery, error) {
	key, err := g.key(eventID)
	if err != nil {
		return DeliveryNew, err
	}
	claimed, err := g.store.SetNX(ctx, key, markProcessing, claimTTL)
	if err != nil {
		return DeliveryNew, fmt.Errorf("claim %s: %w", eventID, err)
	}
	if claimed {
		return DeliveryNew, nil
	}

	mark, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// Expired between the two calls; let the next retry claim it.
		return DeliveryInFlight, nil
	case err != nil:
		return DeliveryNew, fmt.Errorf("read mark %s: %w", eventID, err)
	case mark == markDone:
		return DeliveryDone, nil
	}
	return DeliveryInFlight, nil
}

func (g *DeliveryGuard) Complete(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.store.Set(ctx, key, markDone, g.ttl)
}

func (g *DeliveryGuard) Release(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *DeliveryGuard) key(eventID string) (string, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		return "", errEventIDRequired
	}
	return g.store.IdempotencyKey(g.scope, id), nil
}
